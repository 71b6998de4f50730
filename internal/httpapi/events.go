package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/mnemo/internal/mirror"
	"github.com/ent0n29/mnemo/internal/protocol"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsPingInterval = 45 * time.Second
)

// handleMemoryEvents streams the owner's memory changes over a websocket.
// Clients may send client_control messages to ping or replay recent history.
func (s *Server) handleMemoryEvents(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	hub := s.coord.Hub()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.AddEventStreams(1)
	defer s.metrics.AddEventStreams(-1)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := hub.Subscribe(owner)
	defer unsubscribe()

	outbound := make(chan any, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		write := func(msg any) bool {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				cancel()
				return false
			}
			return true
		}
		if !write(protocol.SystemEvent{Type: protocol.TypeSystemEvent, OwnerID: owner, Code: protocol.CodeConnected}) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				if !write(toMemoryEvent(evt, false)) {
					return
				}
			case msg := <-outbound:
				if !write(msg) {
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		var replies []any
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			replies = append(replies, protocol.ErrorEvent{
				Type:    protocol.TypeErrorEvent,
				OwnerID: owner,
				Code:    "invalid_client_message",
				Detail:  err.Error(),
			})
		} else if ctl, ok := parsed.(protocol.ClientControl); ok {
			replies = controlReplies(hub, owner, ctl)
		}
		for _, msg := range replies {
			select {
			case <-ctx.Done():
			case outbound <- msg:
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

	cancel()
	<-writerDone
}

func controlReplies(hub *mirror.Hub, owner string, ctl protocol.ClientControl) []any {
	switch ctl.Action {
	case protocol.ActionReplay:
		history := hub.History(owner)
		if ctl.Limit > 0 && len(history) > ctl.Limit {
			history = history[len(history)-ctl.Limit:]
		}
		out := make([]any, 0, len(history))
		for _, evt := range history {
			out = append(out, toMemoryEvent(evt, true))
		}
		return out
	default:
		return []any{protocol.SystemEvent{Type: protocol.TypeSystemEvent, OwnerID: owner, Code: protocol.CodePong}}
	}
}

func toMemoryEvent(evt mirror.Event, replayed bool) protocol.MemoryEvent {
	return protocol.MemoryEvent{
		Type:      protocol.TypeMemoryEvent,
		Event:     string(evt.Type),
		OwnerID:   evt.OwnerID,
		MemoryID:  evt.MemoryID,
		Content:   evt.Content,
		Topics:    evt.Topics,
		SyncState: string(evt.SyncState),
		Detail:    evt.Detail,
		TSMs:      evt.At.UnixMilli(),
		Replayed:  replayed,
	}
}
