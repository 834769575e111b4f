// Package hub fans battle events out to websocket spectators. Clients join
// per-battle rooms; events for a battle reach only that room.
package hub

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced at the HTTP layer
	},
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second

	// sendBuffer bounds the per-client queue; a client that cannot keep up
	// is dropped rather than allowed to stall the emitter.
	sendBuffer = 256
)

// Event is the wire envelope for every socket message, both directions.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoomForBattle names the room spectators of one battle share.
func RoomForBattle(externalID string) string {
	return "battle:" + externalID
}

// BattleRequester starts a battle on behalf of a socket client. Wired to the
// coordinator; returns the new battle's external id.
type BattleRequester func(agentA, agentB string) (string, error)

// TokenValidator checks a session token on privileged inbound events.
type TokenValidator func(token string) bool

type client struct {
	conn  *websocket.Conn
	send  chan []byte
	rooms map[string]bool
}

// Hub tracks connected clients and their room memberships.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]bool
	rooms   map[string]map[*client]bool

	RequestBattle BattleRequester
	ValidateToken TokenValidator
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]bool),
		rooms:   make(map[string]map[*client]bool),
	}
}

// ServeWS upgrades the request and runs the client's pumps.
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[Hub] upgrade failed: %v", err)
		return
	}

	cl := &client{
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		rooms: make(map[string]bool),
	}
	h.mu.Lock()
	h.clients[cl] = true
	total := len(h.clients)
	h.mu.Unlock()
	log.Printf("[Hub] client connected, %d total", total)

	go h.writePump(cl)
	go h.readPump(cl)
}

func (h *Hub) remove(cl *client) {
	h.mu.Lock()
	if _, ok := h.clients[cl]; ok {
		delete(h.clients, cl)
		for room := range cl.rooms {
			delete(h.rooms[room], cl)
			if len(h.rooms[room]) == 0 {
				delete(h.rooms, room)
			}
		}
		close(cl.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	cl.conn.Close()
	log.Printf("[Hub] client disconnected, %d total", total)
}

func (h *Hub) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(cl *client) {
	defer h.remove(cl)
	cl.conn.SetReadLimit(4096)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[Hub] read error: %v", err)
			}
			return
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			h.ack(cl, ev.Event, false, "malformed message")
			continue
		}
		h.handleInbound(cl, &ev)
	}
}

type subscribePayload struct {
	BattleID string `json:"battleId"`
}

type requestPayload struct {
	AgentA string `json:"agentA"`
	AgentB string `json:"agentB"`
	Token  string `json:"token"`
}

func (h *Hub) handleInbound(cl *client, ev *Event) {
	switch ev.Event {
	case "battle:subscribe":
		var p subscribePayload
		if err := json.Unmarshal(ev.Data, &p); err != nil || p.BattleID == "" {
			h.ack(cl, ev.Event, false, "battleId required")
			return
		}
		h.join(cl, RoomForBattle(p.BattleID))
		h.ack(cl, ev.Event, true, p.BattleID)

	case "battle:request":
		var p requestPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil || p.AgentA == "" {
			h.ack(cl, ev.Event, false, "agentA required")
			return
		}
		if h.ValidateToken != nil && !h.ValidateToken(p.Token) {
			h.ack(cl, ev.Event, false, "invalid session token")
			return
		}
		if h.RequestBattle == nil {
			h.ack(cl, ev.Event, false, "battle requests disabled")
			return
		}
		externalID, err := h.RequestBattle(p.AgentA, p.AgentB)
		if err != nil {
			h.ack(cl, ev.Event, false, err.Error())
			return
		}
		// The requester follows its own battle.
		h.join(cl, RoomForBattle(externalID))
		h.ack(cl, ev.Event, true, externalID)

	default:
		h.ack(cl, ev.Event, false, "unknown event")
	}
}

func (h *Hub) join(cl *client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*client]bool)
	}
	h.rooms[room][cl] = true
	cl.rooms[room] = true
}

type ackPayload struct {
	Ok     bool   `json:"ok"`
	Event  string `json:"event"`
	Detail string `json:"detail,omitempty"`
}

func (h *Hub) ack(cl *client, event string, ok bool, detail string) {
	data, _ := json.Marshal(ackPayload{Ok: ok, Event: event, Detail: detail})
	msg, _ := json.Marshal(Event{Event: "ack", Data: data})
	h.trySend(cl, msg)
}

// trySend queues a message without blocking; a full client is dropped.
func (h *Hub) trySend(cl *client, msg []byte) {
	select {
	case cl.send <- msg:
	default:
		go h.remove(cl)
	}
}

// Emit sends an event to every client in a room.
func (h *Hub) Emit(room, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[Hub] marshal %s: %v", event, err)
		return
	}
	msg, _ := json.Marshal(Event{Event: event, Data: data})

	h.mu.Lock()
	targets := make([]*client, 0, len(h.rooms[room]))
	for cl := range h.rooms[room] {
		targets = append(targets, cl)
	}
	h.mu.Unlock()

	for _, cl := range targets {
		h.trySend(cl, msg)
	}
}

// EmitAll sends an event to every connected client, room or not.
func (h *Hub) EmitAll(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[Hub] marshal %s: %v", event, err)
		return
	}
	msg, _ := json.Marshal(Event{Event: event, Data: data})

	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for cl := range h.clients {
		targets = append(targets, cl)
	}
	h.mu.Unlock()

	for _, cl := range targets {
		h.trySend(cl, msg)
	}
}
