// Package store defines the persistence interface for the auction engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/atmx/dutch-engine/internal/model"
)

var (
	// ErrNotFound is returned when an auction id is unknown.
	ErrNotFound = errors.New("store: auction not found")

	// ErrStatusConflict is returned by UpdateAuctionState when the stored
	// status no longer matches the status the caller read.
	ErrStatusConflict = errors.New("store: auction status changed")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Auction operations ---

	// CreateAuction persists a new auction and assigns its ID. IDs start at
	// 1, strictly increase and are never reused.
	CreateAuction(ctx context.Context, a *model.Auction) error

	// GetAuction retrieves an auction by ID. Unknown IDs yield ErrNotFound.
	GetAuction(ctx context.Context, id int64) (*model.Auction, error)

	// ListAuctions returns all auctions, newest first.
	ListAuctions(ctx context.Context) ([]model.Auction, error)

	// ListAuctionsBySeller returns every auction created by seller.
	ListAuctionsBySeller(ctx context.Context, seller string) ([]model.Auction, error)

	// UpdateAuctionState writes the mutable fields of a (status, buyer,
	// settled price, close time) only if the stored status is still from.
	// Otherwise nothing is written and ErrStatusConflict is returned.
	UpdateAuctionState(ctx context.Context, a *model.Auction, from model.Status) error

	// CountActive returns the number of active auctions.
	CountActive(ctx context.Context) (int, error)

	// --- Immutable ledger ---

	// InsertLedgerEntry appends an immutable settlement or cancellation record.
	InsertLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error

	// GetLedgerEntriesByAuction returns the records for one auction.
	GetLedgerEntriesByAuction(ctx context.Context, auctionID int64) ([]model.LedgerEntry, error)

	// GetLedgerEntriesByUser returns records where account is seller or buyer.
	GetLedgerEntriesByUser(ctx context.Context, account string) ([]model.LedgerEntry, error)
}

// Primary returns the source of truth behind s, bypassing a read-through
// cache. Reads that decide a state change go here.
func Primary(s Store) Store {
	if c, ok := s.(*CachedStore); ok {
		return Primary(c.primary)
	}
	return s
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
