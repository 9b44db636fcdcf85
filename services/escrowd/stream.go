package escrowd

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"juryledger/core/types"
)

const (
	wsWriteTimeout   = 10 * time.Second
	streamBufferSize = 128
)

type streamEvent struct {
	Type       string            `json:"type"`
	OfferID    uint64            `json:"offerId,omitempty"`
	Attributes map[string]string `json:"attributes"`
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	var offerFilter uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("offer")); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, badRequest("invalid offer"))
			return
		}
		offerFilter = id
	}
	// Subscribe before the handshake completes so the client sees every event
	// committed after its dial returns.
	updates, cancel := s.node.Events().Subscribe(streamBufferSize)
	defer cancel()
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns()})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	// The client never sends; CloseRead keeps control frames flowing and
	// cancels ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())
	if err := streamEvents(ctx, conn, updates, offerFilter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func streamEvents(ctx context.Context, conn *websocket.Conn, updates <-chan *types.Event, offerFilter uint64) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			offerID := offerIDOf(evt)
			if offerFilter != 0 && offerID != offerFilter {
				continue
			}
			if err := writeStreamEvent(ctx, conn, evt, offerID); err != nil {
				return err
			}
		}
	}
}

func writeStreamEvent(ctx context.Context, conn *websocket.Conn, evt *types.Event, offerID uint64) error {
	data, err := json.Marshal(streamEvent{Type: evt.Type, OfferID: offerID, Attributes: evt.Attributes})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func (s *Server) originPatterns() []string {
	if len(s.cors) == 0 {
		return []string{"*"}
	}
	patterns := make([]string, 0, len(s.cors))
	for _, origin := range s.cors {
		origin = strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://")
		if origin != "" {
			patterns = append(patterns, origin)
		}
	}
	return patterns
}
