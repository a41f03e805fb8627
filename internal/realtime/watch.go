package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/markb/firelite/internal/docstore"
	"github.com/markb/firelite/internal/log"
	"github.com/markb/firelite/internal/observability"
	"github.com/markb/firelite/internal/query"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// handleWatch validates a watch request and starts the subscription.
func (c *Session) handleWatch(req *Request) {
	if err := docstore.ValidateName("collection", req.Collection); err != nil {
		c.sendError(req.RequestID, CodeInvalidMessage, err.Error())
		return
	}

	sub := &Subscription{
		ID:          ulid.Make().String(),
		OwnerUserID: c.UserID(),
		RequestID:   req.RequestID,
		Collection:  req.Collection,
		CreatedAt:   time.Now(),
		session:     c,
	}

	switch req.Type {
	case TypeWatchDocument:
		if err := docstore.ValidateName("document id", req.DocumentID); err != nil {
			c.sendError(req.RequestID, CodeInvalidMessage, err.Error())
			return
		}
		sub.Kind = KindDocument
		sub.DocumentID = req.DocumentID
	default:
		q, err := query.Parse(req.Query)
		if err != nil {
			log.Debug("realtime: invalid query", "conn_id", c.id, "request_id", req.RequestID, "error", err.Error())
			if qe, ok := query.AsError(err); ok {
				c.sendError(req.RequestID, ErrorCode(qe.Code), qe.Message)
			} else {
				c.sendError(req.RequestID, CodeInvalidMessage, "invalid query")
			}
			return
		}
		sub.Kind = KindCollection
		sub.Query = q
	}

	c.svc.watch(c.ctx, sub)
}

// watch registers sub, performs its initial tick and arms its polling task.
// A failing initial tick fails the request and leaves no subscription.
func (s *Service) watch(ctx context.Context, sub *Subscription) {
	sess := sub.session

	if err := s.addSubscription(sub); err != nil {
		switch {
		case errors.Is(err, errSubscriptionLimit):
			sess.sendError(sub.RequestID, CodeSubscriptionLimit,
				fmt.Sprintf("at most %d subscriptions per connection", s.cfg.MaxSubscriptions))
		case errors.Is(err, ErrSessionClosed):
		default:
			sess.sendError(sub.RequestID, CodeInternal, "subscription could not be created")
		}
		return
	}

	if err := s.tick(ctx, sub, true); err != nil {
		s.removeSubscription(sub)
		if !errors.Is(err, ErrSessionClosed) {
			log.Warn("realtime: initial tick failed", "conn_id", sess.id, "subscription_id", sub.ID, "error", err.Error())
			sess.sendError(sub.RequestID, CodeInternal, "failed to load initial state")
		}
		return
	}

	sub.bind(s.sched.Schedule(func(ctx context.Context) {
		s.poll(ctx, sub)
	}))

	log.Debug("realtime: subscribed",
		"conn_id", sess.id,
		"user_id", sub.OwnerUserID,
		"subscription_id", sub.ID,
		"kind", string(sub.Kind),
		"collection", sub.Collection,
	)
}

// poll is the recurring change detector tick. Failures are logged and the
// subscription stays live for the next tick.
func (s *Service) poll(ctx context.Context, sub *Subscription) {
	err := s.tick(ctx, sub, false)
	if err == nil || ctx.Err() != nil || errors.Is(err, ErrSessionClosed) {
		return
	}
	if errors.Is(err, ErrSendBufferFull) {
		log.Debug("realtime: tick not delivered", "conn_id", sub.session.id, "subscription_id", sub.ID)
		return
	}
	log.Warn("realtime: poll tick skipped",
		"conn_id", sub.session.id,
		"subscription_id", sub.ID,
		"collection", sub.Collection,
		"error", err.Error(),
	)
}

// tick fetches the target, diffs it against the last delivered state and
// queues the resulting event.
func (s *Service) tick(ctx context.Context, sub *Subscription, initial bool) error {
	ctx, span := s.tracer.Start(ctx, "realtime.poll", trace.WithAttributes(
		observability.AttrConnID.String(sub.session.id),
		observability.AttrSubscriptionID.String(sub.ID),
		observability.AttrSubscriptionKind.String(string(sub.Kind)),
		observability.AttrCollection.String(sub.Collection),
	))
	defer span.End()

	start := time.Now()
	cur, err := sub.fetch(ctx, s.store)
	s.metrics.RecordPoll(ctx, string(sub.Kind), time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return fmt.Errorf("fetch %s: %w", sub.Collection, err)
	}

	typ, ended, err := sub.deliver(cur, initial, s.cfg.EmitUnchanged, time.Now())
	if err != nil {
		return err
	}
	if typ != "" {
		span.SetAttributes(observability.AttrChangeType.String(string(typ)))
		s.metrics.RecordEvent(ctx, string(sub.Kind), string(typ))
	}
	if ended {
		s.removeSubscription(sub)
		log.Debug("realtime: document removed, subscription ended", "subscription_id", sub.ID)
	}
	return nil
}

// handleUnwatch cancels a subscription owned by this session.
func (c *Session) handleUnwatch(req *Request) {
	sub := c.svc.subscription(c, req.SubscriptionID)
	if sub == nil || sub.OwnerUserID != c.UserID() {
		c.sendError(req.RequestID, CodeSubscriptionNotFound, "no subscription "+req.SubscriptionID+" on this connection")
		return
	}

	// removeSubscription returns only after the subscription is stopped, so
	// no event follows this reply.
	c.svc.removeSubscription(sub)
	c.Send(&UnwatchFrame{
		Type:           TypeUnwatch,
		RequestID:      req.RequestID,
		SubscriptionID: sub.ID,
		Status:         ReplySuccess,
	})
}
