package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeAddMessage     MessageType = "add_message"
	TypeGetContext     MessageType = "get_context"
	TypeGetStats       MessageType = "get_stats"
	TypeClearMemory    MessageType = "clear_memory"
	TypeSetPreference  MessageType = "set_preference"
	TypeCleanupExpired MessageType = "cleanup_expired"
	TypeListUsers      MessageType = "list_users"

	TypeResult     MessageType = "result"
	TypeErrorEvent MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

// Header is carried by every client request.
type Header struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
}

func (h Header) Meta() Header { return h }

// Request is implemented by every parsed client message.
type Request interface {
	Meta() Header
}

type AddMessage struct {
	Header
	UserID      string `json:"user_id"`
	Role        string `json:"role"`
	Content     string `json:"content"`
	MessageType string `json:"message_type,omitempty"`
}

type GetContext struct {
	Header
	UserID string `json:"user_id"`
	// IncludeSystemPrompt defaults to true when omitted.
	IncludeSystemPrompt *bool `json:"include_system_prompt,omitempty"`
}

func (m GetContext) WantsSystemPrompt() bool {
	return m.IncludeSystemPrompt == nil || *m.IncludeSystemPrompt
}

type GetStats struct {
	Header
	UserID string `json:"user_id"`
}

type ClearMemory struct {
	Header
	UserID string `json:"user_id"`
}

type SetPreference struct {
	Header
	UserID string `json:"user_id"`
	Key    string `json:"key"`
	Value  string `json:"value"`
}

type CleanupExpired struct {
	Header
}

type ListUsers struct {
	Header
}

// Result answers a request that succeeded.
type Result struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
	Op        MessageType `json:"op"`
	Data      any         `json:"data"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func NewResult(req Request, data any) Result {
	h := req.Meta()
	return Result{Type: TypeResult, RequestID: h.RequestID, Op: h.Type, Data: data}
}

func NewErrorEvent(requestID, code, detail string, retryable bool) ErrorEvent {
	return ErrorEvent{
		Type:      TypeErrorEvent,
		RequestID: requestID,
		Code:      code,
		Retryable: retryable,
		Detail:    detail,
	}
}

// PeekHeader decodes only the envelope, so a rejected message can still be
// answered with its request id.
func PeekHeader(raw []byte) Header {
	var h Header
	_ = json.Unmarshal(raw, &h)
	return h
}

// ParseClientMessage decodes a client request. Field validation is left to
// the service; only the envelope shape is checked here. A missing request_id
// is replaced by a generated one.
func ParseClientMessage(raw []byte) (Request, error) {
	var env Header
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	if env.RequestID == "" {
		env.RequestID = uuid.NewString()
	}

	var (
		req Request
		err error
	)
	switch env.Type {
	case TypeAddMessage:
		var msg AddMessage
		err = json.Unmarshal(raw, &msg)
		msg.Header = env
		req = msg
	case TypeGetContext:
		var msg GetContext
		err = json.Unmarshal(raw, &msg)
		msg.Header = env
		req = msg
	case TypeGetStats:
		var msg GetStats
		err = json.Unmarshal(raw, &msg)
		msg.Header = env
		req = msg
	case TypeClearMemory:
		var msg ClearMemory
		err = json.Unmarshal(raw, &msg)
		msg.Header = env
		req = msg
	case TypeSetPreference:
		var msg SetPreference
		err = json.Unmarshal(raw, &msg)
		msg.Header = env
		req = msg
	case TypeCleanupExpired:
		req = CleanupExpired{Header: env}
	case TypeListUsers:
		req = ListUsers{Header: env}
	default:
		return nil, ErrUnsupportedType
	}
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", env.Type, err)
	}
	return req, nil
}
