package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Dicklesworthstone/gateway_supervisor/internal/login"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/status"
)

const (
	streamBuffer = 64
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

// Message kinds on /status/stream.
const (
	KindSnapshot = "snapshot"
	KindUpdate   = "update"
)

// StreamMessage is one frame of /status/stream. The first frame is a
// snapshot of every account; later frames carry single updates. A snapshot
// is sent again whenever updates were dropped for a slow reader.
type StreamMessage struct {
	Kind   string                 `json:"kind"`
	States map[string]login.State `json:"states,omitempty"`
	Update *status.Update         `json:"update,omitempty"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before the snapshot so no update falls between the two.
	reg := s.backend.Registry()
	stream := reg.Watch(ctx, streamBuffer)

	// The read side only handles control frames and notices the close.
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(msg StreamMessage) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			s.logger.Debug("status stream write failed", "error", err)
			return false
		}
		return true
	}

	if !send(StreamMessage{Kind: KindSnapshot, States: reg.Get()}) {
		return
	}
	s.logger.Debug("status stream opened", "remote", r.RemoteAddr)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	var dropped int64
	for {
		select {
		case u, ok := <-stream.C:
			if !ok {
				s.closeStream(conn)
				return
			}
			if n := stream.Dropped(); n != dropped {
				dropped = n
				if !send(StreamMessage{Kind: KindSnapshot, States: reg.Get()}) {
					return
				}
				continue
			}
			if !send(StreamMessage{Kind: KindUpdate, Update: &u}) {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) closeStream(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
