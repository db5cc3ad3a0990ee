package notification

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Freeeeeet/space_booking/internal/retry"
)

// Dispatcher доставляет уведомления в фоне через пул воркеров.
// Dispatch никогда не блокирует вызывающего: при переполненной очереди сообщение отбрасывается.
type Dispatcher struct {
	sender  Sender
	exec    *retry.Executor
	logger  *zap.Logger
	queue   chan Message
	workers int
	timeout time.Duration

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	stopped chan struct{}
}

type DispatcherOption func(*Dispatcher)

func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan Message, n)
		}
	}
}

// WithSendTimeout ограничивает общее время доставки одного сообщения вместе с повторами
func WithSendTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.timeout = t
	}
}

func NewDispatcher(sender Sender, exec *retry.Executor, logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sender:  sender,
		exec:    exec,
		logger:  logger,
		queue:   make(chan Message, 256),
		workers: 4,
		timeout: 30 * time.Second,
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start запускает воркеры. Они работают до Stop, даже если ctx отменён: очередь дочитывается.
func (d *Dispatcher) Start(ctx context.Context) {
	base := context.WithoutCancel(ctx)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(base)
	}
	d.logger.Info("Notification dispatcher started", zap.Int("workers", d.workers), zap.Int("queue_size", cap(d.queue)))
}

// Dispatch ставит уведомление в очередь. Возвращает false, если сообщение отброшено.
func (d *Dispatcher) Dispatch(msg Message) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn("Notification dropped: dispatcher stopped",
			zap.String("template", msg.Template),
			zap.String("to", msg.To),
		)
		return false
	}

	select {
	case d.queue <- msg:
		return true
	default:
		d.logger.Warn("Notification dropped: queue full",
			zap.String("template", msg.Template),
			zap.String("to", msg.To),
		)
		return false
	}
}

// Stop закрывает очередь и ждёт, пока воркеры доставят оставшиеся сообщения или истечёт ctx
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
		go func() {
			d.wg.Wait()
			close(d.stopped)
		}()
	}
	d.mu.Unlock()

	select {
	case <-d.stopped:
		d.logger.Info("Notification dispatcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for msg := range d.queue {
		d.deliver(ctx, msg)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	err := d.exec.Run(ctx, "notification."+msg.Template, func(ctx context.Context) error {
		return d.sender.Send(ctx, msg.To, msg.Template, msg.Data)
	})
	if err != nil {
		d.logger.Warn("Failed to deliver notification",
			zap.String("template", msg.Template),
			zap.String("to", msg.To),
			zap.Error(err),
		)
		return
	}

	d.logger.Debug("Notification delivered",
		zap.String("template", msg.Template),
		zap.String("to", msg.To),
	)
}
