// Package realtime implements the document subscription engine: a websocket
// protocol over which authenticated clients watch single documents or
// filtered collections, receive added/modified/removed events produced by
// polling the document store, and exchange presence updates.
package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Inbound request types
const (
	TypeAuth            = "auth"
	TypeWatchDocument   = "watch_document"
	TypeWatchCollection = "watch_collection"
	TypePresence        = "presence"
	TypeUnwatch         = "unwatch"
)

// Outbound-only frame types
const (
	TypeConnected = "connected"
	TypeError     = "error"
)

// ErrorCode is the stable code carried by error frames.
type ErrorCode string

const (
	CodeInvalidMessage       ErrorCode = "INVALID_MESSAGE"
	CodeUnauthorized         ErrorCode = "UNAUTHORIZED"
	CodeMaxClientsReached    ErrorCode = "MAX_CLIENTS_REACHED"
	CodeSubscriptionNotFound ErrorCode = "SUBSCRIPTION_NOT_FOUND"
	CodeSubscriptionLimit    ErrorCode = "SUBSCRIPTION_LIMIT_REACHED"
	CodeAlreadyAuthenticated ErrorCode = "ALREADY_AUTHENTICATED"
	CodeInternal             ErrorCode = "INTERNAL_ERROR"
)

const (
	ReplySuccess = "success"
	ReplyError   = "error"

	ActionUpdate = "update"
)

// Request is a decoded inbound frame. Only the fields of its Type are set.
type Request struct {
	Type      string
	RequestID string

	Token string

	Collection string
	DocumentID string
	// Query is the raw query object of a watch_collection request, or nil.
	Query json.RawMessage

	Action      string
	Status      PresenceStatus
	Metadata    map[string]any
	HasMetadata bool

	SubscriptionID string
}

// ProtocolError rejects an inbound frame. RequestID is echoed when the frame
// carried one.
type ProtocolError struct {
	RequestID string
	Code      ErrorCode
	Message   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func invalid(requestID, format string, args ...any) *ProtocolError {
	return &ProtocolError{RequestID: requestID, Code: CodeInvalidMessage, Message: fmt.Sprintf(format, args...)}
}

// DecodeRequest parses and validates an inbound text frame.
func DecodeRequest(data []byte) (*Request, *ProtocolError) {
	if !gjson.ValidBytes(data) {
		return nil, invalid("", "message is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, invalid("", "message must be a JSON object")
	}

	rid := root.Get("requestId")
	requestID := ""
	if rid.Type == gjson.String {
		requestID = rid.String()
	}
	typ := root.Get("type")
	if typ.Type != gjson.String || typ.String() == "" {
		return nil, invalid(requestID, "missing message type")
	}
	if requestID == "" {
		return nil, invalid("", "missing requestId")
	}

	req := &Request{Type: typ.String(), RequestID: requestID}
	var err *ProtocolError

	switch req.Type {
	case TypeAuth:
		req.Token, err = requiredString(root, requestID, "token")
	case TypeWatchDocument:
		if req.Collection, err = requiredString(root, requestID, "collection"); err != nil {
			break
		}
		req.DocumentID, err = requiredString(root, requestID, "documentId")
	case TypeWatchCollection:
		if req.Collection, err = requiredString(root, requestID, "collection"); err != nil {
			break
		}
		if q := root.Get("query"); q.Exists() && q.Type != gjson.Null {
			if !q.IsObject() {
				return nil, invalid(requestID, "query must be an object")
			}
			req.Query = json.RawMessage(q.Raw)
		}
	case TypePresence:
		if req.Action, err = requiredString(root, requestID, "action"); err != nil {
			break
		}
		if req.Action != ActionUpdate {
			return nil, invalid(requestID, "unsupported presence action %q", req.Action)
		}
		var status string
		if status, err = requiredString(root, requestID, "status"); err != nil {
			break
		}
		req.Status = PresenceStatus(status)
		if !req.Status.Valid() {
			return nil, invalid(requestID, "unknown presence status %q", status)
		}
		if md := root.Get("metadata"); md.Exists() && md.Type != gjson.Null {
			if !md.IsObject() {
				return nil, invalid(requestID, "metadata must be an object")
			}
			if jerr := json.Unmarshal([]byte(md.Raw), &req.Metadata); jerr != nil {
				return nil, invalid(requestID, "metadata must be an object")
			}
			req.HasMetadata = true
		}
	case TypeUnwatch:
		req.SubscriptionID, err = requiredString(root, requestID, "subscriptionId")
	default:
		return nil, invalid(requestID, "unknown message type %q", req.Type)
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

func requiredString(root gjson.Result, requestID, field string) (string, *ProtocolError) {
	v := root.Get(field)
	if v.Type != gjson.String || v.String() == "" {
		return "", invalid(requestID, "%s is required", field)
	}
	return v.String(), nil
}

// ConnectedFrame is the first frame on every accepted connection.
type ConnectedFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
}

type AuthFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	UserID    string `json:"userId,omitempty"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

// WatchFrame acknowledges a watch request and carries every change event of
// the subscription. Change is a *DocumentChange or *CollectionChange, or nil
// for the acknowledgement of a document that does not exist yet.
type WatchFrame struct {
	Type           string `json:"type"`
	RequestID      string `json:"requestId"`
	SubscriptionID string `json:"subscriptionId"`
	Change         any    `json:"change,omitempty"`
}

type UnwatchFrame struct {
	Type           string `json:"type"`
	RequestID      string `json:"requestId"`
	SubscriptionID string `json:"subscriptionId"`
	Status         string `json:"status"`
}

type PresenceFrame struct {
	Type      string         `json:"type"`
	RequestID string         `json:"requestId"`
	Action    string         `json:"action"`
	UserID    string         `json:"userId"`
	Status    PresenceStatus `json:"status"`
	LastSeen  int64          `json:"lastSeen"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type ErrorFrame struct {
	Type      string    `json:"type"`
	RequestID string    `json:"requestId,omitempty"`
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
}

func newErrorFrame(requestID string, code ErrorCode, message string) *ErrorFrame {
	return &ErrorFrame{Type: TypeError, RequestID: requestID, Code: code, Message: message}
}

// ChangeType classifies a change event.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// DocumentChange is the change payload of a document subscription, and one
// entry of a collection change. Data is omitted for removals.
type DocumentChange struct {
	Type       ChangeType `json:"type"`
	DocumentID string     `json:"documentId"`
	Data       any        `json:"data,omitempty"`
	Timestamp  int64      `json:"timestamp"`
}

// CollectionChange lists the current result set of a collection
// subscription, in result order, followed by removals.
type CollectionChange struct {
	Type      ChangeType       `json:"type"`
	Changes   []DocumentChange `json:"changes"`
	Timestamp int64            `json:"timestamp"`
}
