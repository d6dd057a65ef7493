package client

import (
	"github.com/pddkhanh/solfolio-sub005/internal/domain"
)

// applyEvent merges one push event into the cache. Merges are idempotent
// and keyed by entity id, so duplicate or reordered delivery converges to
// the same state.
func (c *Client) applyEvent(event domain.UpdateEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch event.Type {
	case domain.EventToken:
		if event.Data.WalletUpdate == nil {
			return
		}
		for _, token := range event.Data.WalletUpdate.Tokens {
			c.upsertTokenLocked(token)
		}
	case domain.EventPosition:
		if event.Data.PositionUpdate == nil {
			return
		}
		for _, position := range event.Data.PositionUpdate.Positions {
			c.upsertPositionLocked(position)
		}
	case domain.EventPrice:
		c.patchPricesLocked(event.Data.PriceUpdates)
	}
}

// upsertTokenLocked replaces the token matching the mint, or appends it.
func (c *Client) upsertTokenLocked(token domain.Token) {
	c.tokens = upsertToken(c.tokens, token)
	if c.portfolio != nil {
		c.portfolio.Tokens = upsertToken(c.portfolio.Tokens, token)
	}
}

func upsertToken(tokens []domain.Token, token domain.Token) []domain.Token {
	for i := range tokens {
		if tokens[i].Mint == token.Mint {
			tokens[i] = token
			return tokens
		}
	}
	return append(tokens, token)
}

// upsertPositionLocked replaces the position matching (protocol, address),
// or appends it.
func (c *Client) upsertPositionLocked(position domain.Position) {
	c.positions = upsertPosition(c.positions, position)
	if c.portfolio != nil {
		c.portfolio.Positions = upsertPosition(c.portfolio.Positions, position)
	}
}

func upsertPosition(positions []domain.Position, position domain.Position) []domain.Position {
	key := position.Key()
	for i := range positions {
		if positions[i].Key() == key {
			positions[i] = position
			return positions
		}
	}
	return append(positions, position)
}

// patchPricesLocked updates price and value of cached tokens by mint.
// Mints not present in the cache are silently ignored; price updates never
// fabricate token entries. Snapshot fields other than the patched tokens,
// including TotalValue, stay untouched until the next full refresh.
func (c *Client) patchPricesLocked(updates []domain.PriceUpdate) {
	for _, update := range updates {
		patchPrice(c.tokens, update)
		if c.portfolio != nil {
			patchPrice(c.portfolio.Tokens, update)
		}
	}
}

func patchPrice(tokens []domain.Token, update domain.PriceUpdate) {
	for i := range tokens {
		if tokens[i].Mint == update.TokenMint {
			tokens[i].Price = update.Price
			tokens[i].Recompute()
			return
		}
	}
}

// Portfolio returns a copy of the cached snapshot, nil before the first
// successful GetPortfolio.
func (c *Client) Portfolio() *domain.Portfolio {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.portfolio == nil {
		return nil
	}
	snapshot := *c.portfolio
	snapshot.Tokens = append([]domain.Token(nil), c.portfolio.Tokens...)
	snapshot.Positions = append([]domain.Position(nil), c.portfolio.Positions...)
	return &snapshot
}

// Tokens returns a copy of the cached token slice.
func (c *Client) Tokens() []domain.Token {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.Token(nil), c.tokens...)
}

// Positions returns a copy of the cached position slice.
func (c *Client) Positions() []domain.Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.Position(nil), c.positions...)
}
