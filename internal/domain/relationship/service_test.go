package relationship

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"fitcoach/internal/database"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:relationship_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := database.Connect(dsn, database.Options{MaxOpenConns: 1})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db, &Link{}))
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func TestService_LinkAndLookup(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewRepository(setupTestDB(t)))

	require.NoError(t, svc.Link(ctx, 10, 1))
	require.NoError(t, svc.Link(ctx, 11, 1))
	require.NoError(t, svc.Link(ctx, 10, 2))

	ok, err := svc.AreLinked(ctx, 1, 10)
	require.NoError(t, err)
	assert.True(t, ok, "client to trainer")

	ok, err = svc.AreLinked(ctx, 10, 1)
	require.NoError(t, err)
	assert.True(t, ok, "trainer to client")

	ok, err = svc.AreLinked(ctx, 1, 2)
	require.NoError(t, err)
	assert.False(t, ok, "two clients of the same trainer are not linked")

	trainers, err := svc.TrainersOf(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 11}, trainers)

	clients, err := svc.ClientsOf(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, clients)

	none, err := svc.TrainersOf(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestService_LinkErrors(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewRepository(setupTestDB(t)))

	assert.ErrorIs(t, svc.Link(ctx, 5, 5), ErrSelfLink)

	require.NoError(t, svc.Link(ctx, 5, 6))
	assert.ErrorIs(t, svc.Link(ctx, 5, 6), ErrAlreadyLinked)

	require.NoError(t, svc.Unlink(ctx, 5, 6))
	assert.ErrorIs(t, svc.Unlink(ctx, 5, 6), ErrNotLinked)

	ok, err := svc.AreLinked(ctx, 5, 6)
	require.NoError(t, err)
	assert.False(t, ok)
}
