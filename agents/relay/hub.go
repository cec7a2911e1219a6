package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"dlevel-stack/shared/storage"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	EventStorage       = "storage"
	EventOpenSidePanel = "open_side_panel"
)

// Event is pushed to every connected agent on /v1/events.
type Event struct {
	Kind    string          `json:"kind"`
	Area    string          `json:"area,omitempty"`
	Changes storage.Changes `json:"changes,omitempty"`
	TabID   int             `json:"tabId,omitempty"`
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans events out to websocket subscribers. A subscriber whose queue is
// full is disconnected rather than blocking the writer; the client resyncs
// its areas when it reconnects.
type Hub struct {
	mu      sync.RWMutex
	clients map[*hubClient]struct{}
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*hubClient]struct{})}
}

// WatchArea forwards every change batch of area to the hub.
func (h *Hub) WatchArea(area storage.Area) (unsubscribe func()) {
	name := area.Name()
	return area.Subscribe(func(changes storage.Changes) {
		h.Broadcast(Event{Kind: EventStorage, Area: name, Changes: changes})
	})
}

func (h *Hub) OpenSidePanel(tabID int) {
	h.Broadcast(Event{Kind: EventOpenSidePanel, TabID: tabID})
}

func (h *Hub) Broadcast(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to encode event", slog.String("kind", ev.Kind), slog.Any("error", err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			slog.Warn("event queue full, disconnecting subscriber", slog.String("kind", ev.Kind))
			c.conn.Close()
		}
	}
}

// DisconnectAll closes every subscriber connection with a going away frame.
// Hijacked connections are not closed by http.Server.Shutdown.
func (h *Hub) DisconnectAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	deadline := time.Now().Add(writeWait)
	for c := range h.clients {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down")
		if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			slog.Debug("failed to send close frame", slog.Any("error", err))
		}
		c.conn.Close()
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams events until the peer leaves.
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	client := &hubClient{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	slog.Debug("event subscriber connected", slog.String("remote", c.Request.RemoteAddr))

	go h.writePump(client)
	h.readPump(client)
}

func (h *Hub) remove(c *hubClient) {
	c.once.Do(func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		close(c.send)
	})
}

// readPump only services control frames; agents never send events.
func (h *Hub) readPump(c *hubClient) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read error", slog.Any("error", err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *hubClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}
