// Package relay implements the room-scoped event relay. A Hub owns the room
// directory and forwards chat and call-signaling events between connections;
// it keeps no other state and never inspects call payloads.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BioHazard786/Huddle/internal/directory"
	"github.com/BioHazard786/Huddle/internal/protocol"
)

// ErrHubStopped is returned by queries made after Run has returned.
var ErrHubStopped = errors.New("relay hub stopped")

type inbound struct {
	client *Client
	msg    *protocol.Message
}

// Hub is the single authority over room membership. Its event loop is the only
// goroutine that touches the directory or the client table.
type Hub struct {
	dir *directory.Directory

	// clients maps connection ids to live connections.
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	stats      chan chan []directory.Summary
	done       chan struct{}

	// stalled collects clients whose send buffer overflowed during the
	// current event; they are disconnected once the event is handled.
	stalled []*Client

	now func() time.Time
}

// NewHub creates a Hub around dir.
func NewHub(dir *directory.Directory) *Hub {
	return &Hub{
		dir:        dir,
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound),
		stats:      make(chan chan []directory.Summary),
		done:       make(chan struct{}),
		now:        time.Now,
	}
}

// Run processes events until ctx is cancelled. Every live connection is
// closed on the way out.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for _, c := range h.clients {
			close(c.send)
		}
		h.clients = map[string]*Client{}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c.ID] = c
			slog.Debug("client registered", "conn", c.ID)

		case c := <-h.unregister:
			if _, ok := h.clients[c.ID]; ok {
				slog.Debug("client unregistered", "conn", c.ID)
				h.disconnect(c)
			}

		case in := <-h.inbound:
			h.handle(in.client, in.msg)

		case reply := <-h.stats:
			reply <- h.dir.Rooms()
		}

		h.dropStalled()
	}
}

// Register adds c to the live-connection table. It reports false once the
// hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister runs disconnect handling for c. It is a no-op for connections
// the hub already dropped.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Dispatch queues msg from c for the event loop. It reports false once the hub
// has stopped.
func (h *Hub) Dispatch(c *Client, msg *protocol.Message) bool {
	select {
	case h.inbound <- inbound{client: c, msg: msg}:
		return true
	case <-h.done:
		return false
	}
}

// Rooms returns a snapshot of the directory taken on the event loop.
func (h *Hub) Rooms(ctx context.Context) ([]directory.Summary, error) {
	reply := make(chan []directory.Summary, 1)
	select {
	case h.stats <- reply:
	case <-h.done:
		return nil, ErrHubStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case rooms := <-reply:
		return rooms, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// disconnect forgets c, closes its outbound queue and tells its room.
func (h *Hub) disconnect(c *Client) {
	delete(h.clients, c.ID)
	close(c.send)

	p, ok := h.dir.Lookup(c.ID)
	if !ok {
		return
	}
	h.leaveRoom(p)
}

// leaveRoom removes p from the directory and announces the departure to
// whoever is left.
func (h *Hub) leaveRoom(p directory.Participant) {
	roomCode, remaining, ok := h.dir.Leave(p.ConnectionID)
	if !ok {
		return
	}
	slog.Info("participant left", "room", roomCode, "user", p.DisplayName, "remaining", len(remaining))
	if len(remaining) == 0 {
		slog.Info("room closed", "room", roomCode, "open_rooms", h.dir.Len())
		return
	}

	h.broadcast(roomCode, protocol.MustNew(protocol.EventUserLeft, protocol.PresencePayload{
		User:  p.DisplayName,
		Users: h.dir.ListNames(roomCode),
	}))
	h.broadcast(roomCode, protocol.MustNew(protocol.EventMessage, protocol.ChatPayload{
		User:      protocol.SystemUser,
		Text:      p.DisplayName + " has left the room",
		Timestamp: h.timestamp(),
	}))
}

// send queues msg for c without blocking the event loop. A client that cannot
// keep up is dropped.
func (h *Hub) send(c *Client, msg *protocol.Message) {
	if _, live := h.clients[c.ID]; !live {
		return
	}
	select {
	case c.send <- msg:
	default:
		slog.Warn("send buffer full, dropping client", "conn", c.ID, "event", msg.Type)
		h.stalled = append(h.stalled, c)
	}
}

func (h *Hub) sendTo(connectionID string, msg *protocol.Message) bool {
	c, ok := h.clients[connectionID]
	if !ok {
		return false
	}
	h.send(c, msg)
	return true
}

func (h *Hub) broadcast(roomCode string, msg *protocol.Message) {
	for _, p := range h.dir.Members(roomCode) {
		h.sendTo(p.ConnectionID, msg)
	}
}

func (h *Hub) dropStalled() {
	for len(h.stalled) > 0 {
		c := h.stalled[0]
		h.stalled = h.stalled[1:]
		if _, ok := h.clients[c.ID]; ok {
			h.disconnect(c)
		}
	}
}

func (h *Hub) timestamp() string {
	return protocol.Timestamp(h.now())
}
