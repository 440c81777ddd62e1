package notify

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// UserChannel is the personal notification channel for a customer.
func UserChannel(userID int64) string { return fmt.Sprintf("user-%d", userID) }

// PharmacyChannel is the admin notification channel for a pharmacy.
func PharmacyChannel(pharmacyID int64) string { return fmt.Sprintf("pharmacy-%d", pharmacyID) }

// Identity is what a connection claims about itself when it identifies.
type Identity struct {
	UserID     int64  `json:"userId"`
	Role       string `json:"role"`
	PharmacyID int64  `json:"pharmacyId"`
}

// Event is the frame pushed to subscribers.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Conn is the transport side of a subscriber. Send must not block;
// it reports false when the event could not be queued.
type Conn interface {
	Send(Event) bool
}

// Hub routes events to the connections subscribed to a channel. It holds
// no domain state and never inspects payloads: channel membership is the
// whole routing and access-control model. Membership is ephemeral; a
// disconnected subscriber simply misses events.
type Hub struct {
	mu       sync.Mutex
	conns    map[string]Conn
	channels map[string]map[string]struct{}
	joined   map[string][]string
	log      zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		conns:    make(map[string]Conn),
		channels: make(map[string]map[string]struct{}),
		joined:   make(map[string][]string),
		log:      log.With().Str("component", "hub").Logger(),
	}
}

// Register makes a connection known to the hub. A registered connection
// receives nothing until it subscribes.
func (h *Hub) Register(connID string, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[connID] = c
}

// Subscribe joins the channels implied by the identity: the personal
// user channel when a user id is present, and additionally the pharmacy
// channel for admins attached to a pharmacy. Multiple connections per
// identity are allowed (multiple tabs).
func (h *Hub) Subscribe(connID string, id Identity) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[connID]; !ok {
		return
	}
	if id.UserID != 0 {
		h.join(connID, UserChannel(id.UserID))
	}
	if id.Role == "admin" && id.PharmacyID != 0 {
		h.join(connID, PharmacyChannel(id.PharmacyID))
	}
	h.log.Debug().Str("conn", connID).Int64("user", id.UserID).Str("role", id.Role).Msg("subscribed")
}

func (h *Hub) join(connID, channel string) {
	members, ok := h.channels[channel]
	if !ok {
		members = make(map[string]struct{})
		h.channels[channel] = members
	}
	if _, ok := members[connID]; ok {
		return
	}
	members[connID] = struct{}{}
	h.joined[connID] = append(h.joined[connID], channel)
}

// UnsubscribeAll removes a connection from every channel it joined and
// forgets it. Safe to call for connections that never subscribed.
func (h *Hub) UnsubscribeAll(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, channel := range h.joined[connID] {
		if members, ok := h.channels[channel]; ok {
			delete(members, connID)
			if len(members) == 0 {
				delete(h.channels, channel)
			}
		}
	}
	delete(h.joined, connID)
	delete(h.conns, connID)
}

// Publish delivers the event to every connection currently in the
// channel. Best-effort: delivery failures are logged and dropped, never
// surfaced to the caller.
func (h *Hub) Publish(channel, event string, payload any) {
	h.mu.Lock()
	targets := make([]Conn, 0, len(h.channels[channel]))
	for connID := range h.channels[channel] {
		if c, ok := h.conns[connID]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	ev := Event{Event: event, Data: payload}
	dropped := 0
	for _, c := range targets {
		if !c.Send(ev) {
			dropped++
		}
	}
	h.log.Debug().Str("channel", channel).Str("event", event).
		Int("delivered", len(targets)-dropped).Int("dropped", dropped).Msg("published")
}
