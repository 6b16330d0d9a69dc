package httpx

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/websocket"

	"local.dev/campus-market/internal/market"
	"local.dev/campus-market/internal/models"
	"local.dev/campus-market/internal/store"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Event 推給前端的通知；前端收到後重新 GET 對應的資料
type Event struct {
	Type       string `json:"type"` // "change" | "actor"
	Collection string `json:"collection,omitempty"`
	ActorID    string `json:"actorId,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub 把 mirror 與 session 的變更廣播給所有 /events 連線
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: map[*client]struct{}{}}
}

// Attach 訂閱 market 的變更；回傳取消函式
func (h *Hub) Attach(m *market.Market) func() {
	offMirror := m.Mirror.OnChange(func(c store.Collection) {
		h.Broadcast(Event{Type: "change", Collection: string(c)})
	})
	offActor := m.Session.OnActorChanged(func(a models.Account, ok bool) {
		ev := Event{Type: "actor"}
		if ok {
			ev.ActorID = a.ID
		}
		h.Broadcast(ev)
	})
	return func() {
		offMirror()
		offActor()
	}
}

func (h *Hub) join(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) leave(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast 不會阻塞：送不進去的連線直接關掉
func (h *Hub) Broadcast(ev Event) {
	b, _ := json.Marshal(ev)
	h.mu.RLock()
	conns := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		select {
		case c.send <- b:
		default:
			go c.close()
		}
	}
}

// Close 關閉所有連線
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.close()
	}
}

// GET /events
func HandleEvents(h *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.WithError(err).Warn("websocket upgrade failed")
			return
		}
		c := &client{hub: h, conn: conn, send: make(chan []byte, 64), done: make(chan struct{})}
		h.join(c)
		go c.writePump()
		go c.readPump()
	}
}

// ===== client =====

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		c.hub.leave(c)
		close(c.done)
		_ = c.conn.Close()
	})
}

// readPump 只處理 pong 與關閉
func (c *client) readPump() {
	defer c.close()
	c.conn.SetReadLimit(8 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
