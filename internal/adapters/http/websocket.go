package http

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/nats-io/nats.go"

	natsadapter "github.com/samirrijal/terragrid/internal/adapters/nats"
)

// wsMessage is sent by clients to narrow or widen the grid feed.
type wsMessage struct {
	Action string `json:"action"` // "subscribe" | "unsubscribe"
	Source string `json:"source"` // only grids built from this source; "" = all
}

// gridHeader is the part of a grid event the feed filters on.
type gridHeader struct {
	Source string `json:"source"`
}

// gridFilter tracks the sources a client asked for. An empty filter with
// all set passes everything.
type gridFilter struct {
	mu      sync.Mutex
	all     bool
	sources map[string]bool
}

func (f *gridFilter) allows(source string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.all || f.sources[source]
}

// apply updates the filter and returns the status to report.
func (f *gridFilter) apply(m wsMessage) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch m.Action {
	case "subscribe":
		if m.Source == "" {
			f.all = true
			return "subscribed to all sources", true
		}
		f.sources[m.Source] = true
		f.all = false
		return "subscribed to " + m.Source, true
	case "unsubscribe":
		if m.Source == "" {
			f.all = false
			clear(f.sources)
			return "unsubscribed", true
		}
		delete(f.sources, m.Source)
		return "unsubscribed from " + m.Source, true
	}
	return "unknown action: " + m.Action, false
}

// WebSocketHandler relays grid events from NATS to connected clients. A new
// client receives every grid; it may send
// {"action":"subscribe","source":"overpass"} to restrict the feed.
func WebSocketHandler(nc *nats.Conn, logger *slog.Logger) func(*websocket.Conn) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *websocket.Conn) {
		defer c.Close()

		remoteAddr := c.RemoteAddr().String()
		logger.Debug("ws client connected", "remote", remoteAddr)

		var mu sync.Mutex
		writeJSON := func(v interface{}) error {
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			return c.WriteMessage(websocket.TextMessage, data)
		}

		filter := &gridFilter{all: true, sources: make(map[string]bool)}
		sub, err := nc.Subscribe(natsadapter.SubjectGridGenerated, func(msg *nats.Msg) {
			var h gridHeader
			if err := json.Unmarshal(msg.Data, &h); err != nil || !filter.allows(h.Source) {
				return
			}
			_ = writeJSON(json.RawMessage(msg.Data))
		})
		if err != nil {
			logger.Error("ws subscribe failed", "error", err)
			return
		}
		defer func() { _ = sub.Unsubscribe() }()

		// Keep-alive ping
		done := make(chan struct{})
		defer close(done)
		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					mu.Lock()
					err := c.WriteMessage(websocket.PingMessage, nil)
					mu.Unlock()
					if err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()

		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				break
			}
			var m wsMessage
			if err := json.Unmarshal(raw, &m); err != nil {
				_ = writeJSON(map[string]string{"error": "invalid JSON"})
				continue
			}
			if status, ok := filter.apply(m); ok {
				_ = writeJSON(map[string]string{"status": status})
			} else {
				_ = writeJSON(map[string]string{"error": status})
			}
		}

		logger.Debug("ws client disconnected", "remote", remoteAddr)
	}
}
