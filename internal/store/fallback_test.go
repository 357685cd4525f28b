package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/DreamPipe/internal/models"
)

// brokenStore fails every operation while broken is set.
type brokenStore struct {
	*MemoryStore
	broken bool
	closes int
}

var errBackendDown = errors.New("backend down")

func (b *brokenStore) Get(ctx context.Context, id string) (models.Session, error) {
	if b.broken {
		return models.Session{}, errBackendDown
	}
	return b.MemoryStore.Get(ctx, id)
}

func (b *brokenStore) Set(ctx context.Context, id string, s models.Session) error {
	if b.broken {
		return errBackendDown
	}
	return b.MemoryStore.Set(ctx, id, s)
}

func (b *brokenStore) Delete(ctx context.Context, id string) error {
	if b.broken {
		return errBackendDown
	}
	return b.MemoryStore.Delete(ctx, id)
}

func (b *brokenStore) RecordDelivery(ctx context.Context, deliveryID, userID string) (bool, error) {
	if b.broken {
		return false, errBackendDown
	}
	return b.MemoryStore.RecordDelivery(ctx, deliveryID, userID)
}

func (b *brokenStore) Close() error {
	b.closes++
	return nil
}

func TestFallbackServesFromMemoryWhenBackendFails(t *testing.T) {
	ctx := context.Background()
	primary := &brokenStore{MemoryStore: NewMemoryStore()}
	f := NewFallback(primary)

	s := models.NewSession(time.Now())
	s.Language = "ru"
	require.NoError(t, f.Set(ctx, "u", s))
	assert.False(t, f.Degraded())

	primary.broken = true
	got, err := f.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "ru", got.Language, "mirror should serve the last written session")
	assert.True(t, f.Degraded())

	s.Language = "uk"
	assert.NoError(t, f.Set(ctx, "u", s))
	got, err = f.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "uk", got.Language)

	assert.NoError(t, f.Delete(ctx, "u"))
	got, err = f.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, models.StateWaitingInterpreter, got.State)
	assert.Empty(t, got.Language)

	primary.broken = false
	_, err = f.Get(ctx, "u")
	require.NoError(t, err)
	assert.False(t, f.Degraded())
}

func TestFallbackReplaysWritesMissedDuringOutage(t *testing.T) {
	ctx := context.Background()
	primary := &brokenStore{MemoryStore: NewMemoryStore()}
	f := NewFallback(primary)

	s := models.NewSession(time.Now())
	s.Language = "en"
	require.NoError(t, f.Set(ctx, "u", s))
	require.NoError(t, f.Set(ctx, "gone", s))

	primary.broken = true
	s.CountAIRequests = 1
	require.NoError(t, f.Set(ctx, "u", s))
	require.NoError(t, f.Delete(ctx, "gone"))
	assert.Equal(t, 2, f.Unsynced())

	primary.broken = false
	got, err := f.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 1, got.CountAIRequests, "counter must not revert to the backend's older copy")

	stored, err := primary.MemoryStore.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CountAIRequests)

	_, err = f.Get(ctx, "gone")
	require.NoError(t, err)
	ids, err := primary.MemoryStore.ListByState(ctx, models.StateWaitingInterpreter)
	require.NoError(t, err)
	assert.Equal(t, []string{"u"}, ids)
	assert.Zero(t, f.Unsynced())
	assert.False(t, f.Degraded())
}

func TestFallbackCloseIdempotent(t *testing.T) {
	primary := &brokenStore{MemoryStore: NewMemoryStore()}
	f := NewFallback(primary)
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	assert.Equal(t, 1, primary.closes)
}

func TestFallbackDelegatesOptionalCapabilities(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryStore()
	f := NewFallback(primary)

	s := models.NewSession(time.Now())
	s.State = models.StateWaitingDream
	s.Interpreter = "kant"
	require.NoError(t, f.Set(ctx, "u", s))

	ids, err := f.ListByState(ctx, models.StateWaitingDream)
	require.NoError(t, err)
	assert.Equal(t, []string{"u"}, ids)

	n, err := f.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, f.Ping(ctx))
}

func TestSweepExpired(t *testing.T) {
	clock := newFakeClock()
	st := NewMemoryStore(WithClock(clock.Now), WithTTL(time.Minute))
	require.NoError(t, st.Set(context.Background(), "u", models.NewSession(clock.Now())))
	clock.Advance(2 * time.Minute)

	assert.Equal(t, int64(1), SweepExpired(context.Background(), NewFallback(st)))
	assert.Equal(t, int64(0), SweepExpired(context.Background(), st))
}

type failingSweeper struct{}

func (failingSweeper) DeleteExpired(ctx context.Context) (int64, error) {
	return 0, errBackendDown
}

func TestSweepExpiredLogsFailure(t *testing.T) {
	assert.Equal(t, int64(0), SweepExpired(context.Background(), failingSweeper{}))
}
