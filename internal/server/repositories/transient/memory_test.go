package transient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newMemoryWithClock() (*MemoryStore, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewMemoryStore()
	s.now = clock.Now
	return s, clock
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) (Store, func(time.Duration)) {
		s, clock := newMemoryWithClock()
		return s, clock.Advance
	})
}

func TestMemoryStore_ExpiredEntryPurgedOnRead(t *testing.T) {
	ctx := context.Background()
	s, clock := newMemoryWithClock()

	require.NoError(t, s.Put(ctx, "reset:abc", []byte("v"), time.Hour))
	clock.Advance(time.Hour)

	_, err := s.Get(ctx, "reset:abc")
	assert.Error(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStore_Sweep(t *testing.T) {
	ctx := context.Background()
	s, clock := newMemoryWithClock()

	require.NoError(t, s.Put(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, s.Put(ctx, "b", []byte("2"), time.Hour))
	clock.Advance(2 * time.Minute)

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_ValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	in := []byte("original")
	require.NoError(t, s.Put(ctx, "k", in, time.Minute))
	in[0] = 'X'

	out, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "original", string(out))
}

type countingSweeper struct{ calls chan struct{} }

func (c *countingSweeper) Sweep(context.Context) (int, error) {
	c.calls <- struct{}{}
	return 0, nil
}

func TestRunSweeper(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sw := &countingSweeper{calls: make(chan struct{}, 10)}

	done := make(chan struct{})
	go func() {
		RunSweeper(ctx, 5*time.Millisecond, sw, nil)
		close(done)
	}()

	select {
	case <-sw.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper never ran")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
