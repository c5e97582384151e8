// Package room is the per-list publish/subscribe primitive. A Hub maps list
// identifiers to the set of live client connections watching them; publishes
// fan out to every current member of a list's room, in publish order.
package room

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// clientQueueSize bounds each client's outbound queue. A client that cannot
// drain this many pending events is closed and recovers by re-joining, which
// hands it a fresh snapshot.
const clientQueueSize = 64

type Hub struct {
	mu     sync.Mutex
	rooms  map[string]map[*Client]struct{}
	joined map[*Client]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		rooms:  map[string]map[*Client]struct{}{},
		joined: map[*Client]map[string]struct{}{},
	}
}

// NewClient registers a fresh connection handle. The handle is not in any
// room until Join.
func (h *Hub) NewClient() *Client {
	return &Client{
		ID:  uuid.NewString(),
		hub: h,
		out: make(chan []byte, clientQueueSize),
	}
}

// Join adds the client to the list's room. Joining twice is a no-op. Once
// Join returns, every subsequent Publish for the list reaches the client.
func (h *Hub) Join(c *Client, listID string) {
	listID = normalize(listID)
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.isClosed() {
		return
	}
	r, ok := h.rooms[listID]
	if !ok {
		r = map[*Client]struct{}{}
		h.rooms[listID] = r
	}
	r[c] = struct{}{}
	j, ok := h.joined[c]
	if !ok {
		j = map[string]struct{}{}
		h.joined[c] = j
	}
	j[listID] = struct{}{}
}

// Leave removes the client from the list's room. Once Leave returns, no
// subsequent Publish for the list reaches the client.
func (h *Hub) Leave(c *Client, listID string) {
	listID = normalize(listID)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, listID)
}

func (h *Hub) leaveLocked(c *Client, listID string) {
	if r, ok := h.rooms[listID]; ok {
		delete(r, c)
		if len(r) == 0 {
			delete(h.rooms, listID)
		}
	}
	if j, ok := h.joined[c]; ok {
		delete(j, listID)
		if len(j) == 0 {
			delete(h.joined, c)
		}
	}
}

func (h *Hub) drop(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for listID := range h.joined[c] {
		h.leaveLocked(c, listID)
	}
}

// Publish delivers the event to every client currently in the list's room.
// Publishes are serialized by the hub lock, so all members observe the same
// relative order for one list.
func (h *Hub) Publish(listID, event string, payload any) error {
	msg, err := encode(event, payload)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[normalize(listID)] {
		c.enqueue(msg)
	}
	return nil
}

// PresenceCount is the number of live connections in the list's room. One
// participant with two connections counts twice.
func (h *Hub) PresenceCount(listID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[normalize(listID)])
}

// Client is one live connection's handle into the hub. Events queue on a
// buffered channel; the connection's writer goroutine drains Outbound.
type Client struct {
	ID  string
	hub *Hub

	mu     sync.Mutex
	out    chan []byte
	closed bool
}

// Send delivers an event to this client only, bypassing rooms.
func (c *Client) Send(event string, payload any) error {
	msg, err := encode(event, payload)
	if err != nil {
		return err
	}
	c.enqueue(msg)
	return nil
}

// Outbound is the stream of encoded events for this client. It is closed when
// the client closes or falls too far behind.
func (c *Client) Outbound() <-chan []byte {
	return c.out
}

// Close marks the client dead and detaches it from every room. Safe to call
// more than once.
func (c *Client) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.out)
	}
	c.mu.Unlock()
	c.hub.drop(c)
}

func (c *Client) enqueue(msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.out <- msg:
	default:
		// Slow consumer. Close the stream here; the connection loop notices
		// and detaches the client from its rooms.
		c.closed = true
		close(c.out)
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// encode flattens the payload's fields next to the event name, producing
// {"event": E, ...payload}.
func encode(event string, payload any) ([]byte, error) {
	body := map[string]json.RawMessage{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload: %w", err)
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("payload is not an object: %w", err)
		}
	}
	rawEvent, _ := json.Marshal(event)
	body["event"] = rawEvent
	return json.Marshal(body)
}

func normalize(listID string) string {
	return strings.ToUpper(strings.TrimSpace(listID))
}
