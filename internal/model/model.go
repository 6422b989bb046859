// Package model defines the core domain types shared across the auction engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an auction.
type Status string

const (
	StatusActive    Status = "active"
	StatusSettled   Status = "settled"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusCancelled
}

// Auction is one listing of an escrowed asset quantity for sale at a
// linearly decaying price. Everything except Buyer, Status, SettledPrice and
// ClosedAt is fixed at creation.
type Auction struct {
	ID           int64           `json:"id" db:"id"`
	Seller       string          `json:"seller" db:"seller"`
	AssetRef     string          `json:"asset_ref" db:"asset_ref"`
	AssetAmount  decimal.Decimal `json:"asset_amount" db:"asset_amount"`
	StartPrice   decimal.Decimal `json:"start_price" db:"start_price"`
	EndPrice     decimal.Decimal `json:"end_price" db:"end_price"`
	StartTime    time.Time       `json:"start_time" db:"start_time"`
	Duration     int64           `json:"duration" db:"duration"` // seconds
	Buyer        string          `json:"buyer,omitempty" db:"buyer"`
	Status       Status          `json:"status" db:"status"`
	SettledPrice decimal.Decimal `json:"settled_price" db:"settled_price"` // zero unless settled
	ClosedAt     *time.Time      `json:"closed_at,omitempty" db:"closed_at"`
}

// IsActive reports whether the auction can still be bought or cancelled.
func (a *Auction) IsActive() bool {
	return a.Status == StatusActive
}

// EndTime is the instant the price reaches its floor.
func (a *Auction) EndTime() time.Time {
	return a.StartTime.Add(time.Duration(a.Duration) * time.Second)
}

// Details is the read-only composite view of an auction with its price
// evaluated at a given instant.
type Details struct {
	ID           int64           `json:"id"`
	Seller       string          `json:"seller"`
	AssetRef     string          `json:"asset_ref"`
	AssetAmount  decimal.Decimal `json:"asset_amount"`
	StartPrice   decimal.Decimal `json:"start_price"`
	EndPrice     decimal.Decimal `json:"end_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      time.Time       `json:"end_time"`
	IsActive     bool            `json:"is_active"`
	Status       Status          `json:"status"`
	Buyer        string          `json:"buyer,omitempty"`
}

// LedgerKind distinguishes the terminal outcomes recorded in the ledger.
type LedgerKind string

const (
	LedgerSettled   LedgerKind = "settled"
	LedgerCancelled LedgerKind = "cancelled"
)

// LedgerEntry is an immutable record of how an auction left escrow.
// Once created, these are never modified or deleted.
type LedgerEntry struct {
	ID          string          `json:"id" db:"id"`
	AuctionID   int64           `json:"auction_id" db:"auction_id"`
	Kind        LedgerKind      `json:"kind" db:"kind"`
	Seller      string          `json:"seller" db:"seller"`
	Buyer       string          `json:"buyer,omitempty" db:"buyer"` // empty for cancellations
	AssetRef    string          `json:"asset_ref" db:"asset_ref"`
	AssetAmount decimal.Decimal `json:"asset_amount" db:"asset_amount"`
	Price       decimal.Decimal `json:"price" db:"price"` // settlement price, zero on cancel
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
}

// EventType names the informational notifications emitted by the registry.
type EventType string

const (
	EventCreated   EventType = "auction_created"
	EventSettled   EventType = "auction_settled"
	EventCancelled EventType = "auction_cancelled"
)

// Event is published for external observers after a registry call commits.
// Nothing inside the engine consumes it.
type Event struct {
	EventID     string          `json:"event_id"`
	Type        EventType       `json:"type"`
	AuctionID   int64           `json:"auction_id"`
	Seller      string          `json:"seller"`
	Buyer       string          `json:"buyer,omitempty"`
	AssetRef    string          `json:"asset_ref"`
	AssetAmount decimal.Decimal `json:"asset_amount"`
	StartPrice  decimal.Decimal `json:"start_price"`
	EndPrice    decimal.Decimal `json:"end_price"`
	EndTime     time.Time       `json:"end_time"`
	Price       decimal.Decimal `json:"price"`
	Status      Status          `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
}
