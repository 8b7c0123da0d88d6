package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitcoach/internal/pkg/logger"
)

type fakeDirectory struct {
	trainers map[int64][]int64
	clients  map[int64][]int64
	err      error
}

func (f *fakeDirectory) TrainersOf(_ context.Context, clientID int64) ([]int64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.trainers[clientID], nil
}

func (f *fakeDirectory) ClientsOf(_ context.Context, trainerID int64) ([]int64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.clients[trainerID], nil
}

func recipientsOf(notes []Notification) []int64 {
	ids := make([]int64, 0, len(notes))
	for _, n := range notes {
		ids = append(ids, n.RecipientID)
	}
	return ids
}

func TestRouter_FileUploadedReachesActorAndTrainers(t *testing.T) {
	dir := &fakeDirectory{trainers: map[int64][]int64{1: {20, 21}}}
	r := NewRouter(dir, logger.Discard())

	notes, err := r.Route(context.Background(), Event{
		Kind:      EventFileUploaded,
		ActorID:   1,
		SubjectID: "art-1",
		Category:  "progress-photo",
	})
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 20, 21}, recipientsOf(notes))
	for _, n := range notes {
		assert.Equal(t, KindFileUploaded, n.Kind)
		assert.Equal(t, "New progress photo uploaded", n.Title)
		assert.Equal(t, "art-1", n.Data["subject_id"])
		assert.Equal(t, "progress-photo", n.Data["category"])
		assert.NotEmpty(t, n.ID)
		assert.False(t, n.CreatedAt.IsZero())
	}
}

func TestRouter_TrainerActingOnClientRecord(t *testing.T) {
	dir := &fakeDirectory{trainers: map[int64][]int64{5: {9}}}
	r := NewRouter(dir, logger.Discard())

	notes, err := r.Route(context.Background(), Event{Kind: EventMealCompleted, ActorID: 9, OwnerID: 5})
	require.NoError(t, err)

	assert.Equal(t, []int64{9, 5}, recipientsOf(notes), "deduplicated, actor first")
	assert.Equal(t, KindMealCompleted, notes[0].Kind)
}

func TestRouter_TrainerOwnedRecordReachesClients(t *testing.T) {
	dir := &fakeDirectory{
		trainers: map[int64][]int64{1: {10}},
		clients:  map[int64][]int64{10: {1, 2}},
	}
	r := NewRouter(dir, logger.Discard())

	for _, kind := range []EventKind{EventFileUploaded, EventProgressUpdated} {
		notes, err := r.Route(context.Background(), Event{Kind: kind, ActorID: 10, Category: "document"})
		require.NoError(t, err)
		assert.Equal(t, []int64{10, 1, 2}, recipientsOf(notes), kind)
	}
}

func TestRouter_DirectMessageAndSystem(t *testing.T) {
	r := NewRouter(&fakeDirectory{trainers: map[int64][]int64{1: {2}}}, logger.Discard())
	ctx := context.Background()

	notes, err := r.Route(ctx, Event{Kind: EventDirectMessage, ActorID: 1, RecipientID: 3, Message: "see you at 6"})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, recipientsOf(notes))
	assert.Equal(t, "see you at 6", notes[1].Body)

	_, err = r.Route(ctx, Event{Kind: EventDirectMessage, ActorID: 1})
	assert.ErrorIs(t, err, ErrInvalidEvent)

	notes, err = r.Route(ctx, Event{Kind: EventSystemAnnouncement, ActorID: 100, RecipientID: 4, Title: "Maintenance"})
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, recipientsOf(notes))
	assert.Equal(t, KindSystem, notes[0].Kind)
	assert.Equal(t, "Maintenance", notes[0].Title)

	notes, err = r.Route(ctx, Event{Kind: EventSystemAnnouncement, ActorID: 100})
	require.NoError(t, err)
	assert.Equal(t, []int64{100}, recipientsOf(notes))
}

func TestRouter_RejectsUnknownKind(t *testing.T) {
	r := NewRouter(nil, logger.Discard())

	_, err := r.Route(context.Background(), Event{Kind: "workout.skipped", ActorID: 1})
	assert.ErrorIs(t, err, ErrUnknownEventKind)

	_, err = r.Route(context.Background(), Event{Kind: EventProgressUpdated})
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestRouter_DirectoryFailureDegrades(t *testing.T) {
	r := NewRouter(&fakeDirectory{err: errors.New("directory down")}, logger.Discard())

	notes, err := r.Route(context.Background(), Event{Kind: EventProgressUpdated, ActorID: 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, recipientsOf(notes))
}

func TestRouter_UsesOccurredAt(t *testing.T) {
	r := NewRouter(nil, logger.Discard())
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	notes, err := r.Route(context.Background(), Event{Kind: EventFileDeleted, ActorID: 2, Category: "document", OccurredAt: at})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, at, notes[0].CreatedAt)
	assert.Equal(t, "Document removed", notes[0].Title)
}
