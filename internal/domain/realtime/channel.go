package realtime

import (
	"errors"
	"time"
)

var (
	// ErrChannelFull means the channel cannot take the message right now. The message is dropped.
	ErrChannelFull = errors.New("channel send buffer full")
	// ErrChannelClosed means the channel is gone for good.
	ErrChannelClosed = errors.New("channel closed")
)

// Channel is the push side of one client connection.
// Neither method may block: the hub calls them while holding an identity lock.
type Channel interface {
	Send(msg []byte) error
	Close() error
}

// Connection is one registered channel of one identity.
type Connection struct {
	ID          string
	UserID      int64
	ConnectedAt time.Time

	channel Channel
}

// Stats is a snapshot of the hub.
type Stats struct {
	Connected int `json:"connected"`
}
