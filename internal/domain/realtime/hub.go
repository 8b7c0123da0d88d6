package realtime

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"fitcoach/internal/domain/notification"
)

const shardCount = 32

// slot holds the current connection of one identity. Its mutex serializes every
// register, unregister and delivery for that identity. A dead slot has been removed
// from its shard and must not be used; lockSlot retries with a fresh one.
type slot struct {
	mu   sync.Mutex
	conn *Connection
	dead bool
}

type shard struct {
	mu    sync.RWMutex
	slots map[int64]*slot
}

// Hub keeps at most one live connection per identity.
//
// Lock order is slot then shard. No lock is held across shards and no
// hub-wide lock exists, so traffic for different identities never contends
// beyond a brief shard map access.
type Hub struct {
	shards    [shardCount]shard
	connected atomic.Int64
	log       *slog.Logger
	now       func() time.Time
}

func NewHub(log *slog.Logger) *Hub {
	h := &Hub{
		log: log.With("component", "connection_hub"),
		now: time.Now,
	}
	for i := range h.shards {
		h.shards[i].slots = make(map[int64]*slot)
	}
	return h
}

func (h *Hub) shardFor(userID int64) *shard {
	return &h.shards[uint64(userID)%shardCount]
}

// lockSlot returns the identity's slot locked, creating it if create is set.
// Returns nil when there is no slot and create is false.
func (h *Hub) lockSlot(userID int64, create bool) *slot {
	sh := h.shardFor(userID)
	for {
		sh.mu.RLock()
		s := sh.slots[userID]
		sh.mu.RUnlock()

		if s == nil {
			if !create {
				return nil
			}
			sh.mu.Lock()
			s = sh.slots[userID]
			if s == nil {
				s = &slot{}
				sh.slots[userID] = s
			}
			sh.mu.Unlock()
		}

		s.mu.Lock()
		if !s.dead {
			return s
		}
		s.mu.Unlock()
	}
}

// dropSlot removes an empty slot from its shard. Caller holds s.mu.
func (h *Hub) dropSlot(userID int64, s *slot) {
	s.dead = true
	sh := h.shardFor(userID)
	sh.mu.Lock()
	if sh.slots[userID] == s {
		delete(sh.slots, userID)
	}
	sh.mu.Unlock()
}

// evict closes and forgets the slot's connection. Caller holds s.mu.
func (h *Hub) evict(userID int64, s *slot) *Connection {
	conn := s.conn
	if conn != nil {
		s.conn = nil
		h.connected.Add(-1)
		if err := conn.channel.Close(); err != nil {
			h.log.Debug("close channel", "user_id", userID, "connection_id", conn.ID, "error", err)
		}
	}
	h.dropSlot(userID, s)
	return conn
}

// Register makes ch the identity's connection. A previous connection is
// swapped out and closed before Register returns, so no notification can
// reach it afterwards.
func (h *Hub) Register(userID int64, ch Channel) *Connection {
	conn := &Connection{
		ID:          uuid.NewString(),
		UserID:      userID,
		ConnectedAt: h.now().UTC(),
		channel:     ch,
	}

	s := h.lockSlot(userID, true)
	old := s.conn
	s.conn = conn
	if old == nil {
		h.connected.Add(1)
	} else if err := old.channel.Close(); err != nil {
		h.log.Debug("close superseded channel", "user_id", userID, "connection_id", old.ID, "error", err)
	}
	s.mu.Unlock()

	if old != nil {
		h.log.Info("connection superseded", "user_id", userID, "connection_id", conn.ID, "previous_id", old.ID)
	} else {
		h.log.Info("connection registered", "user_id", userID, "connection_id", conn.ID)
	}
	return conn
}

// Unregister closes and removes the identity's connection, if any.
func (h *Hub) Unregister(userID int64) {
	s := h.lockSlot(userID, false)
	if s == nil {
		return
	}
	conn := h.evict(userID, s)
	s.mu.Unlock()

	if conn != nil {
		h.log.Info("connection unregistered", "user_id", userID, "connection_id", conn.ID)
	}
}

// Release removes conn only if it is still the identity's current connection.
// Transports call it when their socket dies; a superseded socket never evicts its successor.
func (h *Hub) Release(conn *Connection) bool {
	if conn == nil {
		return false
	}
	s := h.lockSlot(conn.UserID, false)
	if s == nil {
		return false
	}
	if s.conn != conn {
		s.mu.Unlock()
		return false
	}
	h.evict(conn.UserID, s)
	s.mu.Unlock()

	h.log.Info("connection released", "user_id", conn.UserID, "connection_id", conn.ID)
	return true
}

// Deliver pushes n to the identity's current connection without blocking.
// Returns false when the identity is offline or the send failed; a closed
// channel is removed, a full one only loses this message.
func (h *Hub) Deliver(userID int64, n *notification.Notification) bool {
	payload, err := encodeNotification(n)
	if err != nil {
		h.log.Error("encode notification", "user_id", userID, "error", err)
		return false
	}

	s := h.lockSlot(userID, false)
	if s == nil {
		return false
	}
	defer s.mu.Unlock()

	conn := s.conn
	if conn == nil {
		h.dropSlot(userID, s)
		return false
	}

	err = conn.channel.Send(payload)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrChannelFull):
		h.log.Warn("notification dropped, channel full", "user_id", userID, "connection_id", conn.ID, "kind", n.Kind)
		return false
	default:
		h.log.Info("channel closed, releasing connection", "user_id", userID, "connection_id", conn.ID, "error", err)
		h.evict(userID, s)
		return false
	}
}

// Online reports whether the identity has a registered connection.
func (h *Hub) Online(userID int64) bool {
	s := h.lockSlot(userID, false)
	if s == nil {
		return false
	}
	defer s.mu.Unlock()
	return s.conn != nil
}

func (h *Hub) Stats() Stats {
	return Stats{Connected: int(h.connected.Load())}
}

// Close closes every connection. Used at shutdown.
func (h *Hub) Close() {
	closed := 0
	for i := range h.shards {
		sh := &h.shards[i]

		sh.mu.RLock()
		ids := make([]int64, 0, len(sh.slots))
		for id := range sh.slots {
			ids = append(ids, id)
		}
		sh.mu.RUnlock()

		for _, id := range ids {
			s := h.lockSlot(id, false)
			if s == nil {
				continue
			}
			if h.evict(id, s) != nil {
				closed++
			}
			s.mu.Unlock()
		}
	}
	h.log.Info("hub closed", "connections", closed)
}
