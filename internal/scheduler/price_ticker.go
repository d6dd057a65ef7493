// Package scheduler runs the periodic price refresh that feeds the broadcast
// hub and the cross-instance bridge independently of client requests.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/jonboulle/clockwork"

	"github.com/pddkhanh/solfolio-sub005/internal/domain"
	"github.com/pddkhanh/solfolio-sub005/internal/metrics"
)

const fetchTimeout = 5 * time.Second

// PriceSource supplies current prices for the tracked mints.
type PriceSource interface {
	CurrentPrices(ctx context.Context) ([]domain.PriceUpdate, error)
}

// Broadcaster emits a price batch to locally connected clients.
type Broadcaster interface {
	BroadcastPriceUpdates(updates []domain.PriceUpdate)
}

// Publisher fans a price batch out to the other backend instances.
type Publisher interface {
	PublishPriceUpdates(ctx context.Context, updates []domain.PriceUpdate) error
}

// PriceTicker broadcasts fresh prices on a fixed interval. Restarting clears
// any prior timer first, so overlapping tick loops cannot accumulate.
type PriceTicker struct {
	source   PriceSource
	emitter  Broadcaster
	bridge   Publisher
	clock    clockwork.Clock
	interval time.Duration
	breaker  circuitbreaker.CircuitBreaker[any]

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPriceTicker(source PriceSource, emitter Broadcaster, br Publisher, clock clockwork.Clock, interval time.Duration) *PriceTicker {
	cb := circuitbreaker.Builder[any]().
		WithFailureThreshold(5).
		WithDelay(30 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Price source circuit breaker state changed",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
		}).
		Build()

	return &PriceTicker{
		source:   source,
		emitter:  emitter,
		bridge:   br,
		clock:    clock,
		interval: interval,
		breaker:  cb,
	}
}

// Start launches the tick loop. Any previously running loop is stopped
// first.
func (t *PriceTicker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done

	go t.run(ctx, done)
	slog.Info("Price ticker started", "interval", t.interval)
}

// Stop cancels the tick loop and waits for it to exit.
func (t *PriceTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *PriceTicker) stopLocked() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.done
	t.cancel = nil
	t.done = nil
	slog.Info("Price ticker stopped")
}

func (t *PriceTicker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			t.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (t *PriceTicker) tick(ctx context.Context) {
	start := t.clock.Now()
	defer func() {
		metrics.PriceTickDuration.Observe(t.clock.Since(start).Seconds())
	}()

	if !t.breaker.TryAcquirePermit() {
		slog.Debug("Price tick skipped, circuit open")
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	updates, err := t.source.CurrentPrices(fetchCtx)
	cancel()

	if err != nil {
		t.breaker.RecordError(err)
		metrics.PriceTickErrors.Inc()
		slog.Error("Price refresh failed", "error", err)
		return
	}
	t.breaker.RecordSuccess()

	if len(updates) == 0 {
		return
	}

	t.emitter.BroadcastPriceUpdates(updates)
	if err := t.bridge.PublishPriceUpdates(ctx, updates); err != nil {
		slog.Warn("Failed to publish price updates to bus", "error", err)
	}
	slog.Debug("Price tick broadcast", "updates", len(updates))
}
