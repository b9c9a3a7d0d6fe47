package services

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// RunFunc führt einen Lauf aus, typischerweise Pipeline.Run.
type RunFunc func(ctx context.Context) (*RunReport, error)

// Runner stellt sicher, dass höchstens ein Lauf gleichzeitig aktiv ist, egal
// ob er vom Cron, der API oder der CLI ausgelöst wird.
type Runner struct {
	run     RunFunc
	logger  *zap.Logger
	running atomic.Bool

	mu   sync.RWMutex
	last *RunReport
}

func NewRunner(run RunFunc, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{run: run, logger: logger}
}

// Run führt einen Lauf synchron aus oder liefert ErrRunInProgress.
func (r *Runner) Run(ctx context.Context) (*RunReport, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer r.running.Store(false)
	return r.execute(ctx)
}

// Start startet einen Lauf im Hintergrund. Der Lauf ist vom Kontext des
// Aufrufers entkoppelt, damit er nicht mit dem HTTP-Request endet.
func (r *Runner) Start(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	go func() {
		defer r.running.Store(false)
		if _, err := r.execute(context.WithoutCancel(ctx)); err != nil {
			r.logger.Error("Hintergrund-Lauf fehlgeschlagen", zap.Error(err))
		}
	}()
	return nil
}

func (r *Runner) execute(ctx context.Context) (*RunReport, error) {
	report, err := r.run(ctx)
	if report != nil {
		r.mu.Lock()
		r.last = report
		r.mu.Unlock()
	}
	return report, err
}

// Running meldet, ob gerade ein Lauf aktiv ist.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// LastReport gibt den Report des letzten abgeschlossenen Laufs zurück.
func (r *Runner) LastReport() *RunReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}
