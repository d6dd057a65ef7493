// Package portfolio serves portfolio, token, position and price reads with
// short-lived caching in front of the upstream aggregator.
package portfolio

import (
	"context"
	"sync"
	"time"

	"github.com/pddkhanh/solfolio-sub005/internal/domain"
)

// Source is the upstream aggregator the service reads from. Implementations
// talk to chain RPC nodes and protocol adapters; this package only depends
// on the contract.
type Source interface {
	FetchPortfolio(ctx context.Context, wallet string) (*domain.Portfolio, error)
	FetchTokenBalances(ctx context.Context, wallet string) ([]domain.Token, error)
	FetchPositions(ctx context.Context, wallet string, protocols []string) ([]domain.Position, error)
	FetchPrices(ctx context.Context, mints []string) ([]domain.PriceUpdate, error)
}

// StaticSource is a fixture-backed Source for local runs and tests. Prices
// can be replaced at runtime to simulate market movement.
type StaticSource struct {
	mu         sync.RWMutex
	portfolios map[string]domain.Portfolio
	prices     map[string]float64
}

var _ Source = (*StaticSource)(nil)

func NewStaticSource() *StaticSource {
	return &StaticSource{
		portfolios: make(map[string]domain.Portfolio),
		prices:     make(map[string]float64),
	}
}

// SetPortfolio installs the fixture snapshot returned for a wallet.
func (s *StaticSource) SetPortfolio(p domain.Portfolio) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.portfolios[p.Wallet] = p
	for _, t := range p.Tokens {
		s.prices[t.Mint] = t.Price
	}
}

// SetPrice installs or replaces the price for a mint.
func (s *StaticSource) SetPrice(mint string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[mint] = price
}

func (s *StaticSource) FetchPortfolio(_ context.Context, wallet string) (*domain.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.portfolios[wallet]
	if !ok {
		p = domain.Portfolio{Wallet: wallet}
	}
	p.Tokens = append([]domain.Token(nil), p.Tokens...)
	p.Positions = append([]domain.Position(nil), p.Positions...)
	p.Timestamp = time.Now()
	p.TotalValue = domain.ComputeTotalValue(p.Tokens, p.Positions)
	return &p, nil
}

func (s *StaticSource) FetchTokenBalances(ctx context.Context, wallet string) ([]domain.Token, error) {
	p, err := s.FetchPortfolio(ctx, wallet)
	if err != nil {
		return nil, err
	}
	return p.Tokens, nil
}

func (s *StaticSource) FetchPositions(ctx context.Context, wallet string, protocols []string) ([]domain.Position, error) {
	p, err := s.FetchPortfolio(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if len(protocols) == 0 {
		return p.Positions, nil
	}

	allowed := make(map[string]struct{}, len(protocols))
	for _, proto := range protocols {
		allowed[proto] = struct{}{}
	}
	var filtered []domain.Position
	for _, pos := range p.Positions {
		if _, ok := allowed[pos.Protocol]; ok {
			filtered = append(filtered, pos)
		}
	}
	return filtered, nil
}

func (s *StaticSource) FetchPrices(_ context.Context, mints []string) ([]domain.PriceUpdate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	updates := make([]domain.PriceUpdate, 0, len(mints))
	for _, mint := range mints {
		price, ok := s.prices[mint]
		if !ok {
			continue
		}
		updates = append(updates, domain.PriceUpdate{TokenMint: mint, Price: price, Timestamp: now})
	}
	return updates, nil
}

// Mints returns every mint the source knows a price for, in no particular
// order. Used by the price ticker to refresh all tracked tokens.
func (s *StaticSource) Mints() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mints := make([]string, 0, len(s.prices))
	for mint := range s.prices {
		mints = append(mints, mint)
	}
	return mints
}

// CurrentPrices implements scheduler.PriceSource over all tracked mints.
func (s *StaticSource) CurrentPrices(ctx context.Context) ([]domain.PriceUpdate, error) {
	return s.FetchPrices(ctx, s.Mints())
}
