// Package notify decouples low-stock delivery from the request that
// produced the event.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/andreasstove999/cafeteria-system/services/menu-stock-service-go/internal/metrics"
	"github.com/andreasstove999/cafeteria-system/services/menu-stock-service-go/internal/stock"
)

var (
	ErrQueueFull = errors.New("notification queue full")
	ErrClosed    = errors.New("notifier closed")
)

// Async queues events for a single background worker that forwards them to
// the wrapped Dispatcher. Notify never blocks; when the queue is full the
// event is dropped.
type Async struct {
	next    stock.Dispatcher
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Stock

	mu     sync.RWMutex
	closed bool
	queue  chan queued
	done   chan struct{}
}

type queued struct {
	ctx context.Context
	ev  stock.LowStock
}

func NewAsync(next stock.Dispatcher, size int, timeout time.Duration, logger *zap.Logger, m *metrics.Stock) *Async {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Async{
		next:    next,
		timeout: timeout,
		logger:  logger,
		metrics: m,
		queue:   make(chan queued, size),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Notify queues ev. Values carried by ctx are kept for delivery; its
// cancellation is not.
func (a *Async) Notify(ctx context.Context, ev stock.LowStock) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- queued{ctx: context.WithoutCancel(ctx), ev: ev}:
		return nil
	default:
		a.metrics.Notification("dropped")
		return ErrQueueFull
	}
}

// Close stops accepting events and waits for queued ones to be delivered,
// or for ctx to end.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Async) run() {
	defer close(a.done)
	for item := range a.queue {
		a.deliver(item.ctx, item.ev)
	}
}

func (a *Async) deliver(ctx context.Context, ev stock.LowStock) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	if err := a.next.Notify(ctx, ev); err != nil {
		a.metrics.Notification("failed")
		a.logger.Error("deliver low-stock notification",
			zap.String("group_id", ev.GroupID),
			zap.Int("threshold", ev.Threshold),
			zap.Error(err))
		return
	}
	a.metrics.Notification("sent")
}
