package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shaobai0824/model-api/internal/protocol"
	"github.com/shaobai0824/model-api/internal/service"
)

const (
	wsReadLimit    = 1 << 20
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// handleMemoryWS serves the memory operations as request/reply messages over
// one websocket. Requests on a connection are handled in arrival order.
func (s *Server) handleMemoryWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					s.log.Debug("websocket write failed", "error", err)
					cancel()
					_ = conn.Close()
					return
				}
				s.metrics.ObserveWSMessage("outbound", string(outboundType(msg)))
			}
		}
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	send := func(msg any) bool {
		select {
		case <-ctx.Done():
			return false
		case outbound <- msg:
			return true
		}
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}

		req, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.metrics.ObserveWSMessage("inbound", "invalid")
			h := protocol.PeekHeader(data)
			if !send(protocol.NewErrorEvent(h.RequestID, "invalid_client_message", err.Error(), false)) {
				break
			}
			continue
		}
		s.metrics.ObserveWSMessage("inbound", string(req.Meta().Type))

		if !send(s.dispatch(ctx, req)) {
			break
		}
	}

	cancel()
	<-writerDone
}

// dispatch runs one request against the façade and builds its reply.
func (s *Server) dispatch(ctx context.Context, req protocol.Request) any {
	var (
		data any
		err  error
	)
	switch m := req.(type) {
	case protocol.AddMessage:
		err = s.svc.AddMessage(ctx, service.AddMessageRequest{
			UserID:      m.UserID,
			Role:        m.Role,
			Content:     m.Content,
			MessageType: m.MessageType,
		})
		data = successResponse{Success: err == nil}
	case protocol.GetContext:
		data, err = s.svc.GetContext(ctx, service.GetContextRequest{
			UserID:              m.UserID,
			IncludeSystemPrompt: m.WantsSystemPrompt(),
		})
	case protocol.GetStats:
		data, err = s.svc.GetStats(ctx, m.UserID)
	case protocol.ClearMemory:
		err = s.svc.ClearMemory(ctx, m.UserID)
		data = successResponse{Success: err == nil}
	case protocol.SetPreference:
		err = s.svc.SetPreference(ctx, service.SetPreferenceRequest{UserID: m.UserID, Key: m.Key, Value: m.Value})
		data = successResponse{Success: err == nil}
	case protocol.CleanupExpired:
		var n int
		n, err = s.svc.CleanupExpired(ctx)
		data = map[string]int{"expired_count": n}
	case protocol.ListUsers:
		var users []string
		users, err = s.svc.ListUsers(ctx)
		data = map[string]any{"users": users, "user_count": len(users)}
	default:
		return protocol.NewErrorEvent(req.Meta().RequestID, "invalid_client_message", protocol.ErrUnsupportedType.Error(), false)
	}

	if err != nil {
		return s.errorEvent(req.Meta(), err)
	}
	return protocol.NewResult(req, data)
}

func (s *Server) errorEvent(h protocol.Header, err error) protocol.ErrorEvent {
	var se *service.Error
	if !errors.As(err, &se) {
		s.log.Error("unexpected service error", "op", h.Type, "error", err)
		return protocol.NewErrorEvent(h.RequestID, "internal_error", "internal error", true)
	}
	if !se.Validation() {
		s.log.Error("operation failed", "op", h.Type, "code", se.Code, "error", se.Err)
	}
	return protocol.NewErrorEvent(h.RequestID, string(se.Code), se.Message, !se.Validation())
}

func outboundType(msg any) protocol.MessageType {
	switch m := msg.(type) {
	case protocol.Result:
		return m.Type
	case protocol.ErrorEvent:
		return m.Type
	default:
		return "unknown"
	}
}
