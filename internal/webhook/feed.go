package webhook

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dayuer/convoflow-go/internal/logging"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn wraps a websocket.Conn with a write mutex.
// gorilla/websocket does NOT support concurrent writes.
type wsConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) writeJSONSafe(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteJSON(v)
}

// Event is one entry on the ops feed.
type Event struct {
	Type   string         `json:"type"`
	Time   time.Time      `json:"time"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Feed broadcasts pipeline events (trigger accepted, job dispatched,
// conversation advanced, compensated, decode errors) to connected
// operator websockets. Slow or broken subscribers are dropped, never
// waited on; the pipeline must not block on observers.
type Feed struct {
	mu    sync.Mutex
	conns map[*wsConn]bool
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{conns: make(map[*wsConn]bool)}
}

// Publish sends an event to all subscribers.
func (f *Feed) Publish(kind string, fields map[string]any) {
	ev := Event{Type: kind, Time: time.Now().UTC(), Fields: fields}

	f.mu.Lock()
	conns := make([]*wsConn, 0, len(f.conns))
	for c := range f.conns {
		conns = append(conns, c)
	}
	f.mu.Unlock()

	for _, c := range conns {
		if err := c.writeJSONSafe(ev); err != nil {
			f.remove(c)
		}
	}
}

// Len returns the subscriber count.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *Feed) remove(c *wsConn) {
	f.mu.Lock()
	delete(f.conns, c)
	f.mu.Unlock()
	c.Close()
}

// CloseAll disconnects every subscriber, used at shutdown.
func (f *Feed) CloseAll() {
	f.mu.Lock()
	conns := make([]*wsConn, 0, len(f.conns))
	for c := range f.conns {
		conns = append(conns, c)
	}
	f.conns = make(map[*wsConn]bool)
	f.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// handleWS upgrades a connection and keeps it subscribed until the peer
// goes away. The read loop exists only to notice disconnects; the feed
// is write-only from the server side.
func (f *Feed) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.L.Warnw("websocket upgrade failed",
			logging.FieldScope, "ops_feed",
			logging.FieldError, err.Error())
		return
	}

	c := &wsConn{Conn: conn}
	f.mu.Lock()
	f.conns[c] = true
	f.mu.Unlock()

	logging.L.Debugw("ops feed subscriber connected", logging.FieldScope, "ops_feed")

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			f.remove(c)
			return
		}
	}
}
