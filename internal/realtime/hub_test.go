package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/markb/firelite/internal/docstore"
	"github.com/markb/firelite/internal/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticVerifier map[string]string

func (v staticVerifier) VerifyToken(token string) (string, error) {
	if id, ok := v[token]; ok {
		return id, nil
	}
	return "", assert.AnError
}

func newTestService(t *testing.T, mutate func(*Config)) (*Service, *docstore.Memory) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.PollInterval = 20 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	store := docstore.NewMemory()
	svc := NewService(store, staticVerifier{}, cfg, nil)
	t.Cleanup(svc.Close)
	return svc, store
}

func registeredSession(t *testing.T, svc *Service, userID string) *Session {
	t.Helper()
	sess := svc.newSession(nil)
	require.True(t, svc.register(sess))
	if userID != "" {
		sess.mu.Lock()
		sess.userID = userID
		sess.status = StatusOnline
		sess.mu.Unlock()
	}
	return sess
}

func newSub(sess *Session, id string) *Subscription {
	return &Subscription{
		ID:          id,
		Kind:        KindDocument,
		OwnerUserID: sess.UserID(),
		RequestID:   "req-" + id,
		Collection:  "users",
		DocumentID:  "u1",
		CreatedAt:   time.Now(),
		session:     sess,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 25*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 5*time.Second, cfg.PingTimeout)
	assert.Equal(t, 1000, cfg.MaxClients)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 100, cfg.MaxSubscriptions)
	assert.False(t, cfg.EmitUnchanged)

	filled := Config{MaxSubscriptions: -1}.withDefaults()
	assert.Equal(t, cfg.HeartbeatInterval, filled.HeartbeatInterval)
	assert.Equal(t, cfg.PollWorkers, filled.PollWorkers)
	assert.Equal(t, 0, filled.MaxSubscriptions)
}

func TestRegisterEnforcesMaxClients(t *testing.T) {
	svc, _ := newTestService(t, func(c *Config) { c.MaxClients = 2 })

	registeredSession(t, svc, "")
	registeredSession(t, svc, "")
	assert.False(t, svc.register(svc.newSession(nil)))
	assert.Equal(t, 2, svc.Stats().Connections)
}

func TestAddSubscriptionLimit(t *testing.T) {
	svc, _ := newTestService(t, func(c *Config) { c.MaxSubscriptions = 2 })
	sess := registeredSession(t, svc, "alice")

	require.NoError(t, svc.addSubscription(newSub(sess, "s1")))
	require.NoError(t, svc.addSubscription(newSub(sess, "s2")))
	assert.ErrorIs(t, svc.addSubscription(newSub(sess, "s3")), errSubscriptionLimit)

	// The cap is per connection.
	other := registeredSession(t, svc, "bob")
	assert.NoError(t, svc.addSubscription(newSub(other, "s4")))
	assert.Equal(t, 3, svc.Stats().Subscriptions)
}

func TestRemoveSubscriptionIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t, nil)
	sess := registeredSession(t, svc, "alice")
	sub := newSub(sess, "s1")
	require.NoError(t, svc.addSubscription(sub))

	assert.True(t, svc.removeSubscription(sub))
	assert.False(t, svc.removeSubscription(sub))
	assert.Nil(t, svc.subscription(sess, "s1"))
	assert.Equal(t, 0, svc.Stats().Subscriptions)
}

func TestDrainAllRefusesNewSubscriptions(t *testing.T) {
	svc, _ := newTestService(t, nil)
	sess := registeredSession(t, svc, "alice")
	s1, s2 := newSub(sess, "s1"), newSub(sess, "s2")
	require.NoError(t, svc.addSubscription(s1))
	require.NoError(t, svc.addSubscription(s2))

	assert.Equal(t, 2, svc.drainAll(sess))
	assert.Equal(t, 0, svc.Stats().Subscriptions)
	assert.True(t, s1.cancelled)
	assert.True(t, s2.cancelled)
	assert.ErrorIs(t, svc.addSubscription(newSub(sess, "s3")), ErrSessionClosed)
}

func TestCloseSessionBroadcastsOffline(t *testing.T) {
	svc, _ := newTestService(t, nil)
	alice := registeredSession(t, svc, "alice")
	bob := registeredSession(t, svc, "bob")
	anon := registeredSession(t, svc, "")
	require.NoError(t, svc.addSubscription(newSub(alice, "s1")))

	alice.Close()

	frame := readFrame(t, bob)
	assert.Equal(t, TypePresence, frame["type"])
	assert.Equal(t, "alice", frame["userId"])
	assert.Equal(t, "offline", frame["status"])
	assert.NotEmpty(t, frame["requestId"])
	assertNoFrame(t, anon)

	stats := svc.Stats()
	assert.Equal(t, 2, stats.Connections)
	assert.Equal(t, 1, stats.Authenticated)
	assert.Equal(t, 0, stats.Subscriptions)

	// A second Close is a no-op.
	alice.Close()
	assertNoFrame(t, bob)
}

func TestStatsDetails(t *testing.T) {
	svc, _ := newTestService(t, nil)
	sess := registeredSession(t, svc, "alice")
	require.NoError(t, svc.addSubscription(newSub(sess, "s1")))

	stats := svc.Stats()
	require.Len(t, stats.ConnectionDetails, 1)
	detail := stats.ConnectionDetails[0]
	assert.Equal(t, sess.ID(), detail.ID)
	assert.Equal(t, "alice", detail.UserID)
	assert.Equal(t, StatusOnline, detail.Status)
	require.Len(t, detail.Subscriptions, 1)
	assert.Equal(t, "s1", detail.Subscriptions[0].ID)
	assert.Equal(t, KindDocument, detail.Subscriptions[0].Kind)
}

func TestWatchDeliversInitialStateAndPolls(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()
	_, err := store.Set(ctx, "users", "u1", map[string]any{"name": "Test User"})
	require.NoError(t, err)

	sess := registeredSession(t, svc, "alice")
	sub := newSub(sess, "s1")
	svc.watch(ctx, sub)

	change := readFrame(t, sess)["change"].(map[string]any)
	assert.Equal(t, "added", change["type"])

	_, err = store.Update(ctx, "users", "u1", map[string]any{"name": "Updated User"})
	require.NoError(t, err)

	var frame map[string]any
	require.Eventually(t, func() bool {
		select {
		case data := <-sess.send:
			frame = decodeFrame(t, data)
			return true
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
	change = frame["change"].(map[string]any)
	assert.Equal(t, "modified", change["type"])
	assert.Equal(t, "Updated User", change["data"].(map[string]any)["name"])
}

func TestWatchEndsOnDocumentRemoval(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()
	_, err := store.Set(ctx, "users", "u1", map[string]any{"name": "x"})
	require.NoError(t, err)

	sess := registeredSession(t, svc, "alice")
	sub := newSub(sess, "s1")
	svc.watch(ctx, sub)
	readFrame(t, sess)

	require.NoError(t, store.Delete(ctx, "users", "u1"))
	require.Eventually(t, func() bool {
		return svc.subscription(sess, "s1") == nil
	}, 2*time.Second, 5*time.Millisecond)

	change := readFrame(t, sess)["change"].(map[string]any)
	assert.Equal(t, "removed", change["type"])

	_, err = store.Set(ctx, "users", "u1", map[string]any{"name": "y"})
	require.NoError(t, err)
	time.Sleep(60 * time.Millisecond)
	assertNoFrame(t, sess)
}

type failingStore struct{}

func (failingStore) Get(context.Context, string, string) (*docstore.Document, error) {
	return nil, assert.AnError
}

func (failingStore) Find(context.Context, string, query.Query) ([]*docstore.Document, error) {
	return nil, assert.AnError
}

func TestWatchFailsWhenInitialFetchFails(t *testing.T) {
	cfg := DefaultConfig()
	svc := NewService(failingStore{}, staticVerifier{}, cfg, nil)
	t.Cleanup(svc.Close)

	sess := registeredSession(t, svc, "alice")
	svc.watch(context.Background(), newSub(sess, "s1"))

	frame := readFrame(t, sess)
	assert.Equal(t, TypeError, frame["type"])
	assert.Equal(t, string(CodeInternal), frame["code"])
	assert.Equal(t, "req-s1", frame["requestId"])
	assert.NotContains(t, frame["message"], assert.AnError.Error())
	assert.Nil(t, svc.subscription(sess, "s1"))
	assert.Equal(t, 0, svc.sched.Len())
}
