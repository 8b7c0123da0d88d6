package notification

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitcoach/internal/pkg/logger"
)

// fakeHub delivers only to online users.
type fakeHub struct {
	mu        sync.Mutex
	online    map[int64]bool
	delivered map[int64][]Notification
}

func newFakeHub(online ...int64) *fakeHub {
	h := &fakeHub{online: map[int64]bool{}, delivered: map[int64][]Notification{}}
	for _, id := range online {
		h.online[id] = true
	}
	return h
}

func (h *fakeHub) Deliver(userID int64, n *Notification) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.online[userID] {
		return false
	}
	h.delivered[userID] = append(h.delivered[userID], *n)
	return true
}

func TestDispatcher_Publish(t *testing.T) {
	hub := newFakeHub(1, 20)
	dir := &fakeDirectory{trainers: map[int64][]int64{1: {20, 21}}}
	d := NewDispatcher(NewRouter(dir, logger.Discard()), hub, logger.Discard())

	res, err := d.Publish(context.Background(), Event{Kind: EventProgressUpdated, ActorID: 1})
	require.NoError(t, err)

	assert.Equal(t, PublishResult{Routed: 3, Delivered: 2}, res)
	assert.Len(t, hub.delivered[1], 1)
	assert.Len(t, hub.delivered[20], 1)
	assert.Empty(t, hub.delivered[21], "offline recipients are dropped")
}

func TestDispatcher_UnroutableEventDeliversNothing(t *testing.T) {
	hub := newFakeHub(1)
	d := NewDispatcher(NewRouter(nil, logger.Discard()), hub, logger.Discard())

	_, err := d.Publish(context.Background(), Event{Kind: "nope", ActorID: 1})
	assert.ErrorIs(t, err, ErrUnknownEventKind)
	assert.Empty(t, hub.delivered)
}
