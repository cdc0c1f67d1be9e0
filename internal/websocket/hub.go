package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/exatta/encerramento/internal/log"
	"github.com/exatta/encerramento/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub maintains the set of active clients and broadcasts messages to them.
// The client set is owned by Run.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	// finalWait bounds how long Emit blocks on a full buffer for events
	// that end a run. Other events are dropped right away.
	finalWait time.Duration

	mu    sync.RWMutex
	count int
}

// finalEvents end a run on the page, which reloads or alerts on them.
var finalEvents = map[string]bool{
	models.EventConcluido: true,
	models.EventErro:      true,
}

// NewHub creates a hub. Call Run in its own goroutine before use.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		finalWait:  2 * time.Second,
	}
}

// Run processes registrations and broadcasts until the process exits.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.setCount(len(h.clients))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.setCount(len(h.clients))
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow client: drop it rather than stall everyone else.
					close(client.send)
					delete(h.clients, client)
					h.setCount(len(h.clients))
				}
			}
		}
	}
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Emit broadcasts a named event to every client. When the broadcast buffer
// is full the event is dropped, except run-ending events, which wait up to
// finalWait for room first.
func (h *Hub) Emit(event string, data any) {
	message, err := json.Marshal(models.Event{Event: event, Data: data})
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("Failed to marshal websocket message")
		return
	}

	select {
	case h.broadcast <- message:
		return
	default:
	}

	if finalEvents[event] && h.finalWait > 0 {
		timer := time.NewTimer(h.finalWait)
		defer timer.Stop()
		select {
		case h.broadcast <- message:
			return
		case <-timer.C:
		}
	}
	log.Warn().Str("event", event).Int("bytes", len(message)).Msg("Websocket broadcast buffer full, event dropped")
}

// handleInbound relays status updates sent by clients. Anything else is
// ignored.
func (h *Hub) handleInbound(message []byte) {
	var in struct {
		Event string              `json:"event"`
		Data  models.StatusUpdate `json:"data"`
	}
	if err := json.Unmarshal(message, &in); err != nil {
		log.Debug().Err(err).Msg("Ignoring malformed websocket message")
		return
	}
	if in.Event != models.EventClientStatus || in.Data.CNPJ == "" {
		return
	}
	h.Emit(models.EventStatusUpdate, in.Data)
}

// ServeWs upgrades the request and registers the connection with the hub.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade websocket connection")
		return
	}
	client := &Client{hub: h, conn: conn, send: make(chan []byte, 256)}
	h.register <- client

	go client.writePump()
	go client.readPump()
}
