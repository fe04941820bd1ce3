package hubapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/foresthq/guardian/internal/eventbus"
)

// liveEvent is the JSON shape published on both the SSE and WebSocket
// channels: every Event Bus event carries its type and a JSON body per
// spec.md §6's "live event channel" description.
type liveEvent struct {
	Type    eventbus.Type `json:"type"`
	Payload any           `json:"payload"`
}

const eventChannelKeepalive = 20 * time.Second

// handleEventsSSE streams the Event Bus as Server-Sent Events for
// simple clients that only need a read-only live feed.
func (s *Server) handleEventsSSE(c echo.Context) error {
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set(echo.HeaderConnection, "keep-alive")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	ch := make(chan liveEvent, 64)
	sub := s.cfg.Bus.Subscribe(func(ev eventbus.Event) {
		select {
		case ch <- liveEvent{Type: ev.Type, Payload: ev.Payload}:
		default:
		}
	})
	defer sub.Unsubscribe()

	keepalive := time.NewTicker(eventChannelKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case <-keepalive.C:
			if _, err := resp.Write([]byte(": keepalive\n\n")); err != nil {
				return nil
			}
			resp.Flush()
		case ev := <-ch:
			body, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := resp.Write([]byte("event: " + string(ev.Type) + "\ndata: " + string(body) + "\n\n")); err != nil {
				return nil
			}
			resp.Flush()
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleEventsWS mirrors the same Event Bus stream over a persistent
// duplex WebSocket connection, for a future operator console that wants
// more than a one-way feed.
func (s *Server) handleEventsWS(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch := make(chan liveEvent, 64)
	sub := s.cfg.Bus.Subscribe(func(ev eventbus.Event) {
		select {
		case ch <- liveEvent{Type: ev.Type, Payload: ev.Payload}:
		default:
		}
	})
	defer sub.Unsubscribe()

	// Drain client-sent frames (pings, close) on their own goroutine so
	// a slow/silent client doesn't block outbound delivery.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	keepalive := time.NewTicker(eventChannelKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-closed:
			return nil
		case <-c.Request().Context().Done():
			return nil
		case <-keepalive.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		case ev := <-ch:
			if err := conn.WriteJSON(ev); err != nil {
				return nil
			}
		}
	}
}
