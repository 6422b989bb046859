package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/dutch-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and then replace the cached copy;
// reads check Redis first then fall back to the primary. Cached reads may
// lag the primary, so state changes must be decided on Primary(s).
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, then refresh the cache) ---

func (s *CachedStore) CreateAuction(ctx context.Context, a *model.Auction) error {
	if err := s.primary.CreateAuction(ctx, a); err != nil {
		return err
	}
	s.cacheAuction(ctx, a)
	return nil
}

func (s *CachedStore) UpdateAuctionState(ctx context.Context, a *model.Auction, from model.Status) error {
	s.rdb.Del(ctx, auctionKey(a.ID))
	if err := s.primary.UpdateAuctionState(ctx, a, from); err != nil {
		return err
	}
	// Readers only fill the cache with SETNX, so a copy read from the
	// primary before this write cannot replace the one stored here.
	data, err := json.Marshal(a)
	if err == nil {
		err = s.rdb.Set(ctx, auctionKey(a.ID), data, s.ttl).Err()
	}
	if err != nil {
		s.rdb.Del(ctx, auctionKey(a.ID))
	}
	return nil
}

func (s *CachedStore) InsertLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error {
	return s.primary.InsertLedgerEntry(ctx, entry)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAuction(ctx context.Context, id int64) (*model.Auction, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, auctionKey(id)).Bytes()
	if err == nil {
		var a model.Auction
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	// Cache miss: read from primary.
	a, err := s.primary.GetAuction(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(a); err == nil {
		s.rdb.SetNX(ctx, auctionKey(a.ID), data, s.ttl)
	}
	return a, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListAuctions(ctx context.Context) ([]model.Auction, error) {
	return s.primary.ListAuctions(ctx)
}

func (s *CachedStore) ListAuctionsBySeller(ctx context.Context, seller string) ([]model.Auction, error) {
	return s.primary.ListAuctionsBySeller(ctx, seller)
}

func (s *CachedStore) CountActive(ctx context.Context) (int, error) {
	return s.primary.CountActive(ctx)
}

func (s *CachedStore) GetLedgerEntriesByAuction(ctx context.Context, auctionID int64) ([]model.LedgerEntry, error) {
	return s.primary.GetLedgerEntriesByAuction(ctx, auctionID)
}

func (s *CachedStore) GetLedgerEntriesByUser(ctx context.Context, account string) ([]model.LedgerEntry, error) {
	return s.primary.GetLedgerEntriesByUser(ctx, account)
}

// --- Cache helpers ---

func (s *CachedStore) cacheAuction(ctx context.Context, a *model.Auction) {
	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, auctionKey(a.ID), data, s.ttl)
	}
}

func auctionKey(id int64) string { return fmt.Sprintf("auction:%d", id) }
