package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atmx/dutch-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	lastID   int64
	auctions map[int64]*model.Auction
	ledger   []model.LedgerEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		auctions: make(map[int64]*model.Auction),
	}
}

func (s *MemoryStore) CreateAuction(_ context.Context, a *model.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastID++
	a.ID = s.lastID

	// Store a copy to avoid external mutation.
	s.auctions[a.ID] = cloneAuction(a)
	return nil
}

func (s *MemoryStore) GetAuction(_ context.Context, id int64) (*model.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.auctions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return cloneAuction(a), nil
}

func (s *MemoryStore) ListAuctions(_ context.Context) ([]model.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	auctions := make([]model.Auction, 0, len(s.auctions))
	for _, a := range s.auctions {
		auctions = append(auctions, *cloneAuction(a))
	}
	sort.Slice(auctions, func(i, j int) bool { return auctions[i].ID > auctions[j].ID })
	return auctions, nil
}

func (s *MemoryStore) ListAuctionsBySeller(_ context.Context, seller string) ([]model.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Auction
	for _, a := range s.auctions {
		if a.Seller == seller {
			result = append(result, *cloneAuction(a))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	return result, nil
}

func (s *MemoryStore) UpdateAuctionState(_ context.Context, a *model.Auction, from model.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.auctions[a.ID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, a.ID)
	}
	if existing.Status != from {
		return fmt.Errorf("%w: %d is %s, not %s", ErrStatusConflict, a.ID, existing.Status, from)
	}
	existing.Status = a.Status
	existing.Buyer = a.Buyer
	existing.SettledPrice = a.SettledPrice
	existing.ClosedAt = copyTime(a.ClosedAt)
	return nil
}

func (s *MemoryStore) CountActive(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, a := range s.auctions {
		if a.IsActive() {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) InsertLedgerEntry(_ context.Context, entry *model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ledger = append(s.ledger, *entry)
	return nil
}

func (s *MemoryStore) GetLedgerEntriesByAuction(_ context.Context, auctionID int64) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if e.AuctionID == auctionID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetLedgerEntriesByUser(_ context.Context, account string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if e.Seller == account || e.Buyer == account {
			result = append(result, e)
		}
	}
	return result, nil
}

func cloneAuction(a *model.Auction) *model.Auction {
	c := *a
	c.ClosedAt = copyTime(a.ClosedAt)
	return &c
}
