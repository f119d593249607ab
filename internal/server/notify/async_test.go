package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/pmdash/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu    sync.Mutex
	calls []Kind
	err   error
	block chan struct{}
}

func (f *fakeSender) Send(ctx context.Context, to string, kind Kind, data Data) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, kind)
	return f.err
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (r *fakeRecorder) NotificationResult(kind, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string]int{}
	}
	r.outcomes[outcome]++
}

func (r *fakeRecorder) get(outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcomes[outcome]
}

func TestAsync_DeliversAndDrainsOnClose(t *testing.T) {
	next := &fakeSender{}
	rec := &fakeRecorder{}
	a := NewAsync(next, 10, 2, logging.Nop{}, rec)

	for i := 0; i < 5; i++ {
		require.NoError(t, a.Send(context.Background(), "a@b.c", KindPasswordChanged, Data{}))
	}
	require.NoError(t, a.Close())

	assert.Equal(t, 5, next.count())
	assert.Equal(t, 5, rec.get(OutcomeSent))
}

func TestAsync_DropsWhenFull(t *testing.T) {
	next := &fakeSender{block: make(chan struct{})}
	rec := &fakeRecorder{}
	a := NewAsync(next, 1, 1, logging.Nop{}, rec)

	// first is picked up by the worker and blocks, second fills the queue
	require.NoError(t, a.Send(context.Background(), "a@b.c", KindPasswordChanged, Data{}))
	assert.Eventually(t, func() bool { return len(a.queue) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, a.Send(context.Background(), "a@b.c", KindPasswordChanged, Data{}))

	err := a.Send(context.Background(), "a@b.c", KindPasswordChanged, Data{})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 1, rec.get(OutcomeDropped))

	close(next.block)
	require.NoError(t, a.Close())
	assert.Equal(t, 2, next.count())
}

func TestAsync_FailuresRecorded(t *testing.T) {
	next := &fakeSender{err: errors.New("smtp down")}
	rec := &fakeRecorder{}
	a := NewAsync(next, 4, 1, logging.Nop{}, rec)

	require.NoError(t, a.Send(context.Background(), "a@b.c", KindTwoFactorDisabled, Data{}))
	require.NoError(t, a.Close())

	assert.Equal(t, 1, rec.get(OutcomeFailed))
	assert.Equal(t, 0, rec.get(OutcomeSent))
}

func TestAsync_SendAfterClose(t *testing.T) {
	a := NewAsync(&fakeSender{}, 1, 1, logging.Nop{}, nil)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	err := a.Send(context.Background(), "a@b.c", KindPasswordChanged, Data{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAsync_SurvivesCanceledRequestContext(t *testing.T) {
	next := &fakeSender{}
	a := NewAsync(next, 1, 1, logging.Nop{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, a.Send(ctx, "a@b.c", KindPasswordChanged, Data{}))
	cancel()
	require.NoError(t, a.Close())

	assert.Equal(t, 1, next.count())
}

func TestLogSender(t *testing.T) {
	s := NewLogSender(logging.Nop{})
	assert.NoError(t, s.Send(context.Background(), "a@b.c", KindPasswordReset, Data{Username: "a"}))
	assert.ErrorIs(t, s.Send(context.Background(), "a@b.c", Kind("x"), Data{}), ErrUnknownKind)
}
