package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/exchange-kernel/spotkernel/internal/eventbus"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // CORS handled by the outer mux
}

const (
	wsReadDeadline  = 60 * time.Second
	wsPingInterval  = 54 * time.Second
	wsWriteDeadline = 10 * time.Second
	clientSendBuf   = 256
)

// hub owns every connected client and relays eventbus topics onto their
// sockets. Grounded on the sibling kernel's pkg/api/websocket.go
// register/unregister/broadcast Hub, generalized from one flat broadcast
// channel to per-subscription eventbus fan-in (SPEC_FULL §6's five
// topics, each keyed by market id or user address).
type hub struct {
	bus *eventbus.Bus
	log *zap.Logger

	mu      sync.Mutex
	clients map[*wsClient]bool
}

func newHub(bus *eventbus.Bus, log *zap.Logger) *hub {
	return &hub{bus: bus, log: log, clients: make(map[*wsClient]bool)}
}

func (h *hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *hub) unregister(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// wsInbound is a client-to-server control message: subscribe to one
// topic+key pair, or tear every subscription down.
type wsInbound struct {
	Op     string `json:"op"` // "subscribe" | "unsubscribe" | "ping"
	Topic  string `json:"topic,omitempty"`
	Key    string `json:"key,omitempty"`
}

type wsOutbound struct {
	Type    string      `json:"type"`
	Topic   string      `json:"topic,omitempty"`
	Key     string      `json:"key,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// wsClient is one connected socket and the set of eventbus subscriptions
// it currently holds, each with its own forwarding goroutine.
type wsClient struct {
	hub  *hub
	conn *websocket.Conn
	id   string
	send chan []byte

	mu   sync.Mutex
	subs map[string]func() // "topic:key" -> eventbus cancel func
}

func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	c := &wsClient{
		hub:  h,
		conn: conn,
		id:   uuid.NewString(),
		send: make(chan []byte, clientSendBuf),
		subs: make(map[string]func()),
	}
	h.register(c)
	go c.writePump()
	go c.readPump()
}

func (c *wsClient) subscribe(topic eventbus.Topic, key string) {
	subKey := string(topic) + ":" + key
	c.mu.Lock()
	if _, exists := c.subs[subKey]; exists {
		c.mu.Unlock()
		return
	}
	ch, cancel := c.hub.bus.Subscribe(topic, key)
	c.subs[subKey] = cancel
	c.mu.Unlock()

	go func() {
		for evt := range ch {
			body, err := json.Marshal(wsOutbound{Type: "event", Topic: string(evt.Topic), Key: evt.Key, Payload: evt.Payload})
			if err != nil {
				continue
			}
			select {
			case c.send <- body:
			default:
				c.hub.log.Warn("ws: dropping event for slow client", zap.String("client", c.id))
			}
		}
	}()

	ack, _ := json.Marshal(wsOutbound{Type: "subscribed", Topic: string(topic), Key: key})
	select {
	case c.send <- ack:
	default:
	}
}

func (c *wsClient) unsubscribeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, cancel := range c.subs {
		cancel()
		delete(c.subs, k)
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.unsubscribeAll()
		c.conn.Close()
		close(c.send)
	}()

	c.conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("ws read error", zap.String("client", c.id), zap.Error(err))
			}
			return
		}

		var req wsInbound
		if err := json.Unmarshal(message, &req); err != nil {
			continue
		}
		switch req.Op {
		case "subscribe":
			c.subscribe(eventbus.Topic(req.Topic), req.Key)
		case "unsubscribe":
			c.unsubscribeAll()
		case "ping":
			pong, _ := json.Marshal(wsOutbound{Type: "pong"})
			select {
			case c.send <- pong:
			default:
			}
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
