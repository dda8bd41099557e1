// SPDX-License-Identifier: Apache-2.0

package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	since    time.Time
	count    int
	countErr error

	recorded  map[uuid.UUID]uuid.UUID
	recordErr error
}

func (f *fakeStore) CountRunsSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	f.since = since
	return f.count, f.countErr
}

func (f *fakeStore) RecordRunCompletion(ctx context.Context, userID, runID uuid.UUID) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	if f.recorded == nil {
		f.recorded = make(map[uuid.UUID]uuid.UUID)
	}
	f.recorded[runID] = userID
	return nil
}

type failingAggregate struct{ calls int }

func (f *failingAggregate) Increment(ctx context.Context, day time.Time) (int64, error) {
	f.calls++
	return 0, errors.New("redis unavailable")
}

func fixedClock(t time.Time) Option {
	return WithClock(func() time.Time { return t })
}

func TestPeriodStart(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*60*60)
	got := PeriodStart(time.Date(2026, 10, 19, 13, 45, 12, 99, loc))
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, loc), got)

	first := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, first, PeriodStart(first))
}

func TestGetCountAuthenticatedUsesMonthBoundary(t *testing.T) {
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	store := &fakeStore{count: 4}
	c := NewCounter(store, nil, fixedClock(now))

	got, err := c.GetCount(context.Background(), User(uuid.New()))
	require.NoError(t, err)
	assert.Equal(t, 4, got.Count)
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), got.PeriodStart)
	assert.Equal(t, got.PeriodStart, store.since)
}

func TestGetCountAuthenticatedError(t *testing.T) {
	store := &fakeStore{countErr: errors.New("db down")}
	c := NewCounter(store, nil)

	_, err := c.GetCount(context.Background(), User(uuid.New()))
	require.Error(t, err)
	assert.ErrorIs(t, err, store.countErr)
}

func TestAnonymousCountIsLocal(t *testing.T) {
	store := &fakeStore{countErr: errors.New("must not be called")}
	daily := NewMemoryDailyAggregate()
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	c := NewCounter(store, nil, WithDailyAggregate(daily), fixedClock(now))

	local := NewMemoryCounter(2)
	id := Anonymous(local)

	got, err := c.GetCount(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Count)
	assert.True(t, got.PeriodStart.IsZero())

	require.NoError(t, c.RecordRun(context.Background(), id, uuid.New()))
	assert.Equal(t, 3, local.Get())

	n, err := daily.Get(context.Background(), now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Empty(t, store.recorded)
}

func TestAnonymousClearedCounterStartsOver(t *testing.T) {
	c := NewCounter(&fakeStore{}, nil)

	got, err := c.GetCount(context.Background(), Anonymous(NewMemoryCounter(0)))
	require.NoError(t, err)
	assert.Zero(t, got.Count)
}

func TestAnonymousWithoutCounter(t *testing.T) {
	c := NewCounter(&fakeStore{}, nil)

	_, err := c.GetCount(context.Background(), Anonymous(nil))
	require.ErrorIs(t, err, ErrNoLocalCounter)
	require.ErrorIs(t, c.RecordRun(context.Background(), Anonymous(nil), uuid.New()), ErrNoLocalCounter)
}

func TestDailyAggregateFailureIsIgnored(t *testing.T) {
	daily := &failingAggregate{}
	c := NewCounter(&fakeStore{}, nil, WithDailyAggregate(daily))
	local := NewMemoryCounter(0)

	require.NoError(t, c.RecordRun(context.Background(), Anonymous(local), uuid.New()))
	assert.Equal(t, 1, local.Get())
	assert.Equal(t, 1, daily.calls)
}

func TestRecordRunAuthenticated(t *testing.T) {
	store := &fakeStore{}
	c := NewCounter(store, nil)
	userID, runID := uuid.New(), uuid.New()

	require.NoError(t, c.RecordRun(context.Background(), User(userID), runID))
	require.NoError(t, c.RecordRun(context.Background(), User(userID), runID))
	assert.Equal(t, map[uuid.UUID]uuid.UUID{runID: userID}, store.recorded)

	store.recordErr = errors.New("write failed")
	err := c.RecordRun(context.Background(), User(userID), uuid.New())
	require.ErrorIs(t, err, store.recordErr)
}

func TestIdentityKind(t *testing.T) {
	assert.Equal(t, KindAnonymous, Anonymous(NewMemoryCounter(0)).Kind())
	assert.Equal(t, KindAuthenticated, User(uuid.New()).Kind())
	assert.False(t, User(uuid.Nil).Authenticated())
}

func TestMemoryCounterClampsNegativeStart(t *testing.T) {
	m := NewMemoryCounter(-3)
	assert.Equal(t, 0, m.Get())
	assert.Equal(t, 1, m.Increment())
}
