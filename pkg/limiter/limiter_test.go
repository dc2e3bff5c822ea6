package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_BurstThenDeny(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	defer s.Close()
	ctx := context.Background()
	policy := Policy{RPS: 1, Burst: 2}

	for i := 0; i < 2; i++ {
		ok, err := s.Allow(ctx, "10.0.0.1", policy)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := s.Allow(ctx, "10.0.0.1", policy)
	require.NoError(t, err)
	assert.False(t, ok)

	// Other keys have their own bucket.
	ok, err = s.Allow(ctx, "10.0.0.2", policy)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStore_Refills(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	defer s.Close()
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }
	policy := Policy{RPS: 1, Burst: 1}

	ok, _ := s.Allow(context.Background(), "k", policy)
	require.True(t, ok)
	ok, _ = s.Allow(context.Background(), "k", policy)
	require.False(t, ok)

	now = now.Add(1100 * time.Millisecond)
	ok, _ = s.Allow(context.Background(), "k", policy)
	assert.True(t, ok)
}

func TestMemoryStore_DisabledPolicyAllows(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	defer s.Close()
	for i := 0; i < 100; i++ {
		ok, err := s.Allow(context.Background(), "k", Policy{})
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStore_SweepEvictsIdleKeys(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	defer s.Close()
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }
	policy := Policy{RPS: 5, Burst: 5}

	_, _ = s.Allow(context.Background(), "old", policy)
	now = now.Add(2 * time.Minute)
	_, _ = s.Allow(context.Background(), "fresh", policy)
	require.Equal(t, 2, s.Len())

	s.Sweep()
	assert.Equal(t, 1, s.Len())
}

type failingStore struct{}

func (failingStore) Allow(context.Context, string, Policy) (bool, error) {
	return false, errors.New("backend down")
}

func TestCheck_FailsClosed(t *testing.T) {
	ctx := context.Background()
	policy := Policy{RPS: 1, Burst: 1}

	require.Error(t, Check(ctx, nil, "k", policy))

	err := Check(ctx, failingStore{}, "k", policy)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")

	s := NewMemoryStore(time.Minute)
	defer s.Close()
	require.NoError(t, Check(ctx, s, "k", policy))
	err = Check(ctx, s, "k", policy)
	assert.ErrorIs(t, err, ErrRateLimited)
}

// TestRedisStore_Integration requires a running Redis and skips otherwise.
func TestRedisStore_Integration(t *testing.T) {
	store := NewRedisStore("localhost:6379", "", 0)
	defer func() { _ = store.Close() }()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	key := "test-" + time.Now().Format("150405.000000")
	policy := Policy{RPS: 1, Burst: 1}

	allowed, err := store.Allow(ctx, key, policy)
	require.NoError(t, err)
	assert.True(t, allowed, "fresh bucket")

	allowed, err = store.Allow(ctx, key, policy)
	require.NoError(t, err)
	assert.False(t, allowed, "burst exhausted")

	time.Sleep(1100 * time.Millisecond)
	allowed, err = store.Allow(ctx, key, policy)
	require.NoError(t, err)
	assert.True(t, allowed, "after refill")
}
