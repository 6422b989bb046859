// Package limits implements per-seller listing limits.
//
// A seller's exposure is the set of auctions they currently have active.
// Two independent caps apply at creation time: how many listings may be
// active at once, and how much of a single asset may sit in escrow across
// those listings. A zero cap disables that check.
package limits

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/atmx/dutch-engine/internal/model"
)

var (
	// ErrActiveListingsExceeded is returned when a new listing would push a
	// seller's count of active auctions beyond MaxActivePerSeller.
	ErrActiveListingsExceeded = errors.New("limits: active listing limit exceeded")

	// ErrEscrowLimitExceeded is returned when a new listing would push the
	// seller's escrowed quantity of one asset beyond MaxEscrowPerAsset.
	ErrEscrowLimitExceeded = errors.New("limits: per-asset escrow limit exceeded")
)

// ListingLimiter enforces listing caps for one seller at a time.
type ListingLimiter struct {
	// MaxActivePerSeller is the maximum number of simultaneously active
	// auctions a seller may hold. Zero means unlimited.
	MaxActivePerSeller int

	// MaxEscrowPerAsset is the maximum total asset amount a seller may
	// have escrowed for one asset reference. Zero means unlimited.
	MaxEscrowPerAsset decimal.Decimal
}

// NewListingLimiter creates a limiter. Negative caps are treated as zero.
func NewListingLimiter(maxActive int, maxEscrow decimal.Decimal) *ListingLimiter {
	if maxActive < 0 {
		maxActive = 0
	}
	if maxEscrow.IsNegative() {
		maxEscrow = decimal.Zero
	}
	return &ListingLimiter{
		MaxActivePerSeller: maxActive,
		MaxEscrowPerAsset:  maxEscrow,
	}
}

// CheckListing validates whether a new listing respects the caps.
//
// Parameters:
//   - assetRef: asset the new listing escrows
//   - amount: quantity the new listing escrows
//   - existing: the seller's auctions; inactive ones are ignored
//
// Returns nil if the listing is within limits, or an error describing the violation.
func (l *ListingLimiter) CheckListing(assetRef string, amount decimal.Decimal, existing []model.Auction) error {
	if l == nil {
		return nil
	}

	active := 0
	escrowed := amount
	for i := range existing {
		a := &existing[i]
		if !a.IsActive() {
			continue
		}
		active++
		if a.AssetRef == assetRef {
			escrowed = escrowed.Add(a.AssetAmount)
		}
	}

	// 1. Listing count.
	if l.MaxActivePerSeller > 0 && active+1 > l.MaxActivePerSeller {
		return ErrActiveListingsExceeded
	}

	// 2. Escrow per asset, including the new listing.
	if l.MaxEscrowPerAsset.IsPositive() && escrowed.GreaterThan(l.MaxEscrowPerAsset) {
		return ErrEscrowLimitExceeded
	}

	return nil
}
