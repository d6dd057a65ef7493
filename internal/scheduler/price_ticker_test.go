package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pddkhanh/solfolio-sub005/internal/domain"
)

type fakeSource struct {
	mu      sync.Mutex
	updates []domain.PriceUpdate
	err     error
	calls   int
}

func (s *fakeSource) CurrentPrices(_ context.Context) ([]domain.PriceUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.updates, s.err
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *fakeSource) setError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

type fakeEmitter struct {
	mu      sync.Mutex
	batches [][]domain.PriceUpdate
}

func (e *fakeEmitter) BroadcastPriceUpdates(updates []domain.PriceUpdate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batches = append(e.batches, updates)
}

func (e *fakeEmitter) batchCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.batches)
}

type fakePublisher struct {
	mu      sync.Mutex
	batches [][]domain.PriceUpdate
}

func (p *fakePublisher) PublishPriceUpdates(_ context.Context, updates []domain.PriceUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, updates)
	return nil
}

func (p *fakePublisher) batchCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.batches)
}

func tickerFixture(t *testing.T, source *fakeSource) (*PriceTicker, *clockwork.FakeClock, *fakeEmitter, *fakePublisher) {
	t.Helper()

	clock := clockwork.NewFakeClock()
	emitter := &fakeEmitter{}
	publisher := &fakePublisher{}
	ticker := NewPriceTicker(source, emitter, publisher, clock, 10*time.Second)
	t.Cleanup(ticker.Stop)
	return ticker, clock, emitter, publisher
}

func TestPriceTicker_BroadcastsAndPublishesOnTick(t *testing.T) {
	source := &fakeSource{updates: []domain.PriceUpdate{{TokenMint: "MINT1", Price: 100}}}
	ticker, clock, emitter, publisher := tickerFixture(t, source)

	ticker.Start()
	clock.BlockUntil(1)
	clock.Advance(10 * time.Second)

	require.Eventually(t, func() bool {
		return emitter.batchCount() == 1 && publisher.batchCount() == 1
	}, time.Second, time.Millisecond)

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	assert.Equal(t, "MINT1", emitter.batches[0][0].TokenMint)
}

func TestPriceTicker_EmptyBatchIsNotBroadcast(t *testing.T) {
	source := &fakeSource{}
	ticker, clock, emitter, publisher := tickerFixture(t, source)

	ticker.Start()
	clock.BlockUntil(1)
	clock.Advance(10 * time.Second)

	require.Eventually(t, func() bool { return source.callCount() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, emitter.batchCount())
	assert.Equal(t, 0, publisher.batchCount())
}

func TestPriceTicker_FetchErrorIsNotBroadcast(t *testing.T) {
	source := &fakeSource{err: errors.New("upstream down")}
	ticker, clock, emitter, publisher := tickerFixture(t, source)

	ticker.Start()
	clock.BlockUntil(1)
	clock.Advance(10 * time.Second)

	require.Eventually(t, func() bool { return source.callCount() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, emitter.batchCount())
	assert.Equal(t, 0, publisher.batchCount())
}

func TestPriceTicker_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	source := &fakeSource{err: errors.New("upstream down")}
	ticker, clock, _, _ := tickerFixture(t, source)

	ticker.Start()
	for i := 0; i < 5; i++ {
		clock.BlockUntil(1)
		clock.Advance(10 * time.Second)
		want := i + 1
		require.Eventually(t, func() bool { return source.callCount() == want }, time.Second, time.Millisecond)
	}

	// Circuit is now open: further ticks must skip the source entirely.
	source.setError(nil)
	for i := 0; i < 3; i++ {
		clock.BlockUntil(1)
		clock.Advance(10 * time.Second)
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 5, source.callCount())
}

func TestPriceTicker_RestartReplacesRunningLoop(t *testing.T) {
	source := &fakeSource{updates: []domain.PriceUpdate{{TokenMint: "MINT1", Price: 1}}}
	ticker, clock, emitter, _ := tickerFixture(t, source)

	ticker.Start()
	ticker.Start()

	clock.BlockUntil(1)
	clock.Advance(10 * time.Second)

	require.Eventually(t, func() bool { return emitter.batchCount() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, source.callCount())
}

func TestPriceTicker_StopHaltsTicks(t *testing.T) {
	source := &fakeSource{updates: []domain.PriceUpdate{{TokenMint: "MINT1", Price: 1}}}
	ticker, clock, _, _ := tickerFixture(t, source)

	ticker.Start()
	ticker.Stop()

	clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, source.callCount())

	// Stop is idempotent.
	ticker.Stop()
}