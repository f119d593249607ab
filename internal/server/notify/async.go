package notify

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/pmdash/internal/logging"
)

const defaultSendTimeout = 30 * time.Second

type job struct {
	ctx  context.Context
	to   string
	kind Kind
	data Data
}

// Async hands notifications to a bounded queue drained by worker
// goroutines. Send never blocks: when the queue is full the notification
// is dropped and ErrQueueFull returned.
type Async struct {
	next     Sender
	logger   logging.Logger
	recorder Recorder
	timeout  time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan job
	wg     sync.WaitGroup
}

func NewAsync(next Sender, queueSize, workers int, logger logging.Logger, recorder Recorder) *Async {
	if queueSize <= 0 {
		queueSize = 1
	}
	if workers <= 0 {
		workers = 1
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}

	a := &Async{
		next:     next,
		logger:   logger,
		recorder: recorder,
		timeout:  defaultSendTimeout,
		queue:    make(chan job, queueSize),
	}

	a.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go a.worker()
	}
	return a
}

func (a *Async) Send(ctx context.Context, to string, kind Kind, data Data) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return ErrClosed
	}

	// Delivery outlives the request that triggered it.
	j := job{ctx: context.WithoutCancel(ctx), to: to, kind: kind, data: data}
	select {
	case a.queue <- j:
		return nil
	default:
		a.recorder.NotificationResult(string(kind), OutcomeDropped)
		a.logger.Warn(ctx, "notification dropped, queue full", "kind", string(kind))
		return ErrQueueFull
	}
}

func (a *Async) worker() {
	defer a.wg.Done()

	for j := range a.queue {
		ctx, cancel := context.WithTimeout(j.ctx, a.timeout)
		err := a.next.Send(ctx, j.to, j.kind, j.data)
		cancel()

		if err != nil {
			a.recorder.NotificationResult(string(j.kind), OutcomeFailed)
			a.logger.Error(j.ctx, "notification failed", "kind", string(j.kind), "error", err)
			continue
		}
		a.recorder.NotificationResult(string(j.kind), OutcomeSent)
	}
}

// Close stops accepting notifications and waits for queued ones to be
// delivered.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	a.wg.Wait()
	return nil
}
