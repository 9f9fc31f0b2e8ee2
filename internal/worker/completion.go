package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultBatchSize = 100

// Completer completes up to limit ended bookings and reports how many it changed.
type Completer interface {
	CompleteEnded(ctx context.Context, limit int) (int, error)
}

// CompletionWorker periodically moves ended, uncancelled bookings to Completed.
type CompletionWorker struct {
	completer Completer
	interval  time.Duration
	batchSize int
	logger    *zerolog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func NewCompletionWorker(c Completer, interval time.Duration, logger *zerolog.Logger) *CompletionWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &CompletionWorker{
		completer: c,
		interval:  interval,
		batchSize: defaultBatchSize,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start runs a sweep immediately and then every interval until Stop or ctx is done.
func (w *CompletionWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop(ctx)
	w.logger.Info().Dur("interval", w.interval).Msg("completion worker started")
}

// Stop waits for an in-flight sweep to finish.
func (w *CompletionWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	w.wg.Wait()
	w.logger.Info().Msg("completion worker stopped")
}

func (w *CompletionWorker) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *CompletionWorker) sweep(ctx context.Context) {
	n, err := w.RunOnce(ctx)
	if err != nil {
		w.logger.Error().Err(err).Int("completed", n).Msg("completion sweep failed")
		return
	}
	if n > 0 {
		w.logger.Info().Int("completed", n).Msg("bookings completed")
	}
}

// RunOnce completes ended bookings batch by batch until a batch comes back short.
func (w *CompletionWorker) RunOnce(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := w.completer.CompleteEnded(ctx, w.batchSize)
		total += n
		if err != nil {
			return total, err
		}
		if n < w.batchSize || ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
}
