package domain

import "time"

// EventType discriminates UpdateEvent payloads.
type EventType string

const (
	EventToken    EventType = "token"
	EventPosition EventType = "position"
	EventPrice    EventType = "price"
)

// WalletUpdateType classifies wallet updates.
type WalletUpdateType string

const (
	WalletUpdateBalance     WalletUpdateType = "balance"
	WalletUpdateTransaction WalletUpdateType = "transaction"
)

// PriceUpdate is a single price tick for one mint.
type PriceUpdate struct {
	TokenMint string    `json:"tokenMint"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// WalletUpdate reports a balance change or an observed transaction for a
// wallet. Balance updates carry the affected token entries; transaction
// updates carry the signature.
type WalletUpdate struct {
	WalletAddress string           `json:"walletAddress"`
	Type          WalletUpdateType `json:"type"`
	Tokens        []Token          `json:"tokens,omitempty"`
	Signature     string           `json:"signature,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

// PositionUpdate carries the current positions of a wallet. Consumers merge
// each entry by (protocol, address).
type PositionUpdate struct {
	WalletAddress string     `json:"walletAddress"`
	Positions     []Position `json:"positions"`
}

// EventData is the one-of payload of an UpdateEvent. Exactly one field is
// set, matching the envelope's Type.
type EventData struct {
	WalletUpdate   *WalletUpdate   `json:"walletUpdate,omitempty"`
	PositionUpdate *PositionUpdate `json:"positionUpdate,omitempty"`
	PriceUpdates   []PriceUpdate   `json:"priceUpdates,omitempty"`
}

// UpdateEvent is the wire envelope pushed to subscribed clients. Timestamps
// are monotonic per source only; consumers must merge last-write-wins per
// entity key, never treat the stream as an ordered log.
type UpdateEvent struct {
	Type      EventType `json:"type"`
	Wallet    string    `json:"wallet,omitempty"`
	Data      EventData `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// PricesRoom is the shared room receiving price ticks.
const PricesRoom = "prices"

// WalletRoom returns the per-wallet room name.
func WalletRoom(address string) string {
	return "wallet:" + address
}
