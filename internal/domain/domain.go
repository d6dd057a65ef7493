// Package domain holds the portfolio data model shared by the server and the
// client library: tokens, positions, portfolio snapshots and the update
// events pushed over the wire.
package domain

import "time"

// Token is a wallet's holding of a single mint.
type Token struct {
	Mint     string  `json:"mint"`
	Symbol   string  `json:"symbol"`
	Name     string  `json:"name"`
	Balance  float64 `json:"balance"`
	Decimals int     `json:"decimals"`
	Price    float64 `json:"price"`
	Value    float64 `json:"value"`
}

// Recompute refreshes Value from Balance and Price. Call after either changes.
func (t *Token) Recompute() {
	t.Value = t.Balance * t.Price
}

// Position is a DeFi position, uniquely identified by (Protocol, Address).
type Position struct {
	Protocol string            `json:"protocol"`
	Type     string            `json:"type"`
	Address  string            `json:"address"`
	Value    float64           `json:"value"`
	APY      float64           `json:"apy"`
	Tokens   []Token           `json:"tokens,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Key returns the identity of the position for upsert-by-key merges.
func (p Position) Key() PositionKey {
	return PositionKey{Protocol: p.Protocol, Address: p.Address}
}

// PositionKey identifies a position within a wallet.
type PositionKey struct {
	Protocol string
	Address  string
}

// Portfolio is a point-in-time snapshot of a wallet. Snapshots are replaced
// wholesale by a full fetch and patched in place by update events.
type Portfolio struct {
	Wallet     string     `json:"wallet"`
	TotalValue float64    `json:"totalValue"`
	Tokens     []Token    `json:"tokens"`
	Positions  []Position `json:"positions"`
	Timestamp  time.Time  `json:"timestamp"`
}

// ComputeTotalValue sums token and position values. It is applied when a
// snapshot is produced; incremental patches leave TotalValue untouched until
// the next full refresh.
func ComputeTotalValue(tokens []Token, positions []Position) float64 {
	var total float64
	for _, t := range tokens {
		total += t.Value
	}
	for _, p := range positions {
		total += p.Value
	}
	return total
}
