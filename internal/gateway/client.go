package gateway

import (
	"sync"

	"quiz-room-service/internal/domain"
)

// Sink delivers events to a single connected client. Send must not block for long.
type Sink interface {
	Send(evt domain.Event) error
}

// Role is what a client is attached to a room as.
type Role string

const (
	RoleNone        Role = ""
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
)

// Client is one live connection. The identities presented at connect time are kept
// apart from the ones learned later in the session.
type Client struct {
	ID   string
	sink Sink

	presentedHost        string
	presentedParticipant string

	mu            sync.Mutex
	roomID        string
	role          Role
	hostID        string
	participantID string
	unsubscribe   func()
}

// Session is a read-only copy of a client's attachment.
type Session struct {
	RoomID        string
	Role          Role
	HostID        string
	ParticipantID string
}

func (c *Client) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Session{RoomID: c.roomID, Role: c.role, HostID: c.hostID, ParticipantID: c.participantID}
}

func (c *Client) send(evt domain.Event) {
	_ = c.sink.Send(evt)
}

// attach binds the client to a room and swaps its feed subscription. It returns the
// previous unsubscribe so the caller can release it outside the lock.
func (c *Client) attach(roomID string, role Role, id string, unsubscribe func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	previous := c.unsubscribe
	c.roomID = roomID
	c.role = role
	c.unsubscribe = unsubscribe
	switch role {
	case RoleHost:
		c.hostID = id
	case RoleParticipant:
		c.participantID = id
	}
	return previous
}

func (c *Client) detach() (Session, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Session{RoomID: c.roomID, Role: c.role, HostID: c.hostID, ParticipantID: c.participantID}
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	return s, unsubscribe
}

func (c *Client) effectiveHost() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hostID != "" {
		return c.hostID
	}
	return c.presentedHost
}

func (c *Client) effectiveParticipant() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.participantID != "" {
		return c.participantID
	}
	return c.presentedParticipant
}

func (c *Client) room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}
