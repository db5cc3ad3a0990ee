package app

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PaymentReconciler выполняет один проход сверки платежей и возвращает число закрытых записей
type PaymentReconciler interface {
	Reconcile(ctx context.Context) (int, error)
}

// Reconciler периодически проходит по открытым записям журнала сверки
type Reconciler struct {
	service  PaymentReconciler
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewReconciler создаёт фоновую задачу сверки
func NewReconciler(service PaymentReconciler, interval time.Duration, logger *zap.Logger) *Reconciler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Reconciler{
		service:  service,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start запускает фоновую задачу
func (r *Reconciler) Start(ctx context.Context) {
	r.logger.Info("Starting reconciler", zap.Duration("interval", r.interval))
	go r.run(ctx)
}

// Stop останавливает задачу и ждёт завершения текущего прохода
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		r.logger.Info("Stopping reconciler")
		close(r.stopChan)
	})
	<-r.done
}

func (r *Reconciler) run(ctx context.Context) {
	defer close(r.done)

	// Первый проход сразу при старте
	r.reconcile(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.reconcile(ctx)
		case <-r.stopChan:
			r.logger.Info("Reconciler stopped")
			return
		case <-ctx.Done():
			r.logger.Info("Reconciler cancelled")
			return
		}
	}
}

func (r *Reconciler) reconcile(ctx context.Context) {
	resolved, err := r.service.Reconcile(ctx)
	if err != nil {
		r.logger.Error("Failed to reconcile payments", zap.Int("resolved", resolved), zap.Error(err))
		return
	}
	if resolved > 0 {
		r.logger.Info("Reconciliation items resolved", zap.Int("resolved", resolved))
	}
}
