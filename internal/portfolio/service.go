package portfolio

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/pddkhanh/solfolio-sub005/internal/domain"
	"github.com/pddkhanh/solfolio-sub005/internal/metrics"
)

// Service answers portfolio reads. Snapshots are cached with a short TTL;
// forceRefresh bypasses and repopulates the cache. The TTL is this server's
// concrete answer to the advisory forceRefresh=false contract: a non-forced
// read may be up to one TTL stale.
type Service struct {
	source   Source
	cache    *gocache.Cache
	cacheTTL time.Duration
	group    singleflight.Group
}

func NewService(source Source, cacheTTL time.Duration) *Service {
	return &Service{
		source:   source,
		cache:    gocache.New(cacheTTL, 2*cacheTTL),
		cacheTTL: cacheTTL,
	}
}

func portfolioKey(wallet string) string {
	return "portfolio:" + wallet
}

// GetPortfolio returns the wallet's snapshot, from cache unless forceRefresh
// is set or the cached entry expired. Concurrent misses for the same wallet
// are collapsed into one upstream fetch.
func (s *Service) GetPortfolio(ctx context.Context, wallet string, forceRefresh bool) (*domain.Portfolio, error) {
	key := portfolioKey(wallet)

	if !forceRefresh {
		if cached, ok := s.cache.Get(key); ok {
			metrics.PortfolioCacheHits.Inc()
			snapshot := cached.(domain.Portfolio)
			return &snapshot, nil
		}
	}
	metrics.PortfolioCacheMisses.Inc()

	result, err, _ := s.group.Do(key, func() (any, error) {
		p, err := s.source.FetchPortfolio(ctx, wallet)
		if err != nil {
			return nil, err
		}
		p.TotalValue = domain.ComputeTotalValue(p.Tokens, p.Positions)
		p.Timestamp = time.Now()
		s.cache.Set(key, *p, s.cacheTTL)
		return *p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch portfolio for %s: %w", wallet, err)
	}

	snapshot := result.(domain.Portfolio)
	return &snapshot, nil
}

// GetTokenBalances returns the wallet's token balances.
func (s *Service) GetTokenBalances(ctx context.Context, wallet string) ([]domain.Token, error) {
	tokens, err := s.source.FetchTokenBalances(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("fetch token balances for %s: %w", wallet, err)
	}
	return tokens, nil
}

// GetPositions returns the wallet's positions, optionally filtered by
// protocol.
func (s *Service) GetPositions(ctx context.Context, wallet string, protocols []string) ([]domain.Position, error) {
	positions, err := s.source.FetchPositions(ctx, wallet, protocols)
	if err != nil {
		return nil, fmt.Errorf("fetch positions for %s: %w", wallet, err)
	}
	return positions, nil
}

// GetPrices returns current prices for the given mints. Unknown mints are
// omitted from the result.
func (s *Service) GetPrices(ctx context.Context, mints []string) ([]domain.PriceUpdate, error) {
	updates, err := s.source.FetchPrices(ctx, mints)
	if err != nil {
		return nil, fmt.Errorf("fetch prices: %w", err)
	}
	return updates, nil
}
