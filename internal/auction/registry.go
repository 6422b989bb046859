// Package auction implements the reverse Dutch auction registry: it escrows
// a seller's asset, prices it on a linear decay schedule and settles or
// cancels it atomically against the custody collaborators.
//
// All monetary values use shopspring/decimal — never float64 for money.
package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/atmx/dutch-engine/internal/address"
	"github.com/atmx/dutch-engine/internal/custody"
	"github.com/atmx/dutch-engine/internal/decay"
	"github.com/atmx/dutch-engine/internal/limits"
	"github.com/atmx/dutch-engine/internal/metrics"
	"github.com/atmx/dutch-engine/internal/model"
	"github.com/atmx/dutch-engine/internal/notify"
	"github.com/atmx/dutch-engine/internal/store"
)

var (
	ErrInvalidAuctionParameters = errors.New("auction: invalid auction parameters")
	ErrAuctionNotFound          = errors.New("auction: auction not found")
	ErrAuctionNotActive         = errors.New("auction: auction not active")
	ErrInsufficientPayment      = errors.New("auction: insufficient payment")
	ErrNotAuthorized            = errors.New("auction: not authorized")
	ErrEscrowTransferFailed     = errors.New("auction: escrow transfer failed")
	ErrPaymentTransferFailed    = errors.New("auction: payment transfer failed")
)

// Config holds the registry's fixed identities.
type Config struct {
	// Escrow is the account that holds listed assets. Custodians returned by
	// the directory act on its behalf.
	Escrow string

	// Admins may cancel any active auction.
	Admins []string
}

// CreateParams describes a new listing.
type CreateParams struct {
	AssetRef    string          `json:"asset_ref"`
	AssetAmount decimal.Decimal `json:"asset_amount"`
	StartPrice  decimal.Decimal `json:"start_price"`
	EndPrice    decimal.Decimal `json:"end_price"`
	Duration    int64           `json:"duration"` // seconds
}

// Settlement is the outcome of a successful Buy.
type Settlement struct {
	AuctionID   int64           `json:"auction_id"`
	Seller      string          `json:"seller"`
	Buyer       string          `json:"buyer"`
	AssetRef    string          `json:"asset_ref"`
	AssetAmount decimal.Decimal `json:"asset_amount"`
	Price       decimal.Decimal `json:"price"`
	// Refunded is the part of the offered payment above the price. It never
	// leaves the buyer.
	Refunded  decimal.Decimal `json:"refunded"`
	SettledAt time.Time       `json:"settled_at"`
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clockwork.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithNotifier sets where auction events are published.
func WithNotifier(n notify.Notifier) Option {
	return func(r *Registry) { r.notifier = n }
}

// WithLimiter enables per-seller listing caps.
func WithLimiter(l *limits.ListingLimiter) Option {
	return func(r *Registry) { r.limiter = l }
}

// Registry is the sole authority over auctions. Mutating calls are
// serialized (single-instance); a collaborator called back on the same call
// chain re-enters without blocking and observes the state already written by
// the outer call.
type Registry struct {
	store    store.Store
	primary  store.Store
	assets   custody.Directory
	payments custody.PaymentChannel
	escrow   string
	admins   map[string]bool
	clock    clockwork.Clock
	notifier notify.Notifier
	limiter  *limits.ListingLimiter

	mu sync.Mutex
}

// NewRegistry creates a registry over st, moving assets through dir and
// native currency through payments.
func NewRegistry(st store.Store, dir custody.Directory, payments custody.PaymentChannel, cfg Config, opts ...Option) (*Registry, error) {
	escrow, err := address.Parse(cfg.Escrow)
	if err != nil {
		return nil, fmt.Errorf("escrow account: %w", err)
	}
	admins, err := address.ParseAll(cfg.Admins)
	if err != nil {
		return nil, fmt.Errorf("admin accounts: %w", err)
	}

	r := &Registry{
		store:    st,
		primary:  store.Primary(st),
		assets:   dir,
		payments: payments,
		escrow:   escrow,
		admins:   make(map[string]bool, len(admins)),
		clock:    clockwork.NewRealClock(),
		notifier: notify.Nop{},
	}
	for _, a := range admins {
		r.admins[a] = true
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Escrow returns the escrow account.
func (r *Registry) Escrow() string { return r.escrow }

// IsAdmin reports whether account may cancel any auction.
func (r *Registry) IsAdmin(account string) bool {
	a, err := address.Parse(account)
	return err == nil && r.admins[a]
}

// SyncMetrics resets the active auction gauge from the store. Call once at
// startup when the store already holds auctions.
func (r *Registry) SyncMetrics(ctx context.Context) error {
	n, err := r.store.CountActive(ctx)
	if err != nil {
		return err
	}
	metrics.ActiveAuctions.Set(float64(n))
	return nil
}

// CreateAuction escrows p.AssetAmount from seller and lists it. The returned
// auction carries its newly assigned ID.
func (r *Registry) CreateAuction(ctx context.Context, seller string, p CreateParams) (*model.Auction, error) {
	var created *model.Auction
	err := r.transact(ctx, "create", func(ctx context.Context) (*model.Event, error) {
		a, err := r.create(ctx, seller, p)
		if err != nil {
			return nil, err
		}
		created = a
		return &model.Event{
			Type:        model.EventCreated,
			AuctionID:   a.ID,
			Seller:      a.Seller,
			AssetRef:    a.AssetRef,
			AssetAmount: a.AssetAmount,
			StartPrice:  a.StartPrice,
			EndPrice:    a.EndPrice,
			EndTime:     a.EndTime(),
			Status:      a.Status,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *Registry) create(ctx context.Context, seller string, p CreateParams) (*model.Auction, error) {
	seller, err := address.Parse(seller)
	if err != nil {
		return nil, fmt.Errorf("%w: seller: %w", ErrInvalidAuctionParameters, err)
	}
	assetRef, err := address.Parse(p.AssetRef)
	if err != nil {
		return nil, fmt.Errorf("%w: asset: %w", ErrInvalidAuctionParameters, err)
	}
	if !p.AssetAmount.IsPositive() {
		return nil, fmt.Errorf("%w: asset amount must be positive", ErrInvalidAuctionParameters)
	}
	if _, err := decay.NewSchedule(p.StartPrice, p.EndPrice, p.Duration); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAuctionParameters, err)
	}

	if r.limiter != nil {
		existing, err := r.store.ListAuctionsBySeller(ctx, seller)
		if err != nil {
			return nil, fmt.Errorf("load seller listings: %w", err)
		}
		if err := r.limiter.CheckListing(assetRef, p.AssetAmount, existing); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidAuctionParameters, err)
		}
	}

	custodian, err := r.assets.Custodian(ctx, assetRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAuctionParameters, err)
	}

	// Interactions before the record exists: a failed pull leaves nothing
	// to undo.
	ok, err := custodian.TransferFrom(ctx, seller, r.escrow, p.AssetAmount)
	if err != nil || !ok {
		return nil, transferFailure(ErrEscrowTransferFailed, err)
	}

	var j journal
	j.push("return escrow", func(ctx context.Context) error {
		return custodian.Revert(ctx, custody.Receipt{From: seller, To: r.escrow, Amount: p.AssetAmount, Spender: r.escrow})
	})

	a := &model.Auction{
		Seller:       seller,
		AssetRef:     assetRef,
		AssetAmount:  p.AssetAmount,
		StartPrice:   p.StartPrice,
		EndPrice:     p.EndPrice,
		StartTime:    r.clock.Now().UTC().Truncate(time.Second),
		Duration:     p.Duration,
		Status:       model.StatusActive,
		SettledPrice: decimal.Zero,
	}
	if err := r.store.CreateAuction(ctx, a); err != nil {
		return nil, j.rollback(ctx, fmt.Errorf("persist auction: %w", err))
	}

	metrics.AuctionsCreated.WithLabelValues(a.AssetRef).Inc()
	metrics.ActiveAuctions.Inc()

	slog.Info("auction created",
		"auction_id", a.ID,
		"seller", a.Seller,
		"asset_ref", a.AssetRef,
		"asset_amount", a.AssetAmount.String(),
		"start_price", a.StartPrice.String(),
		"end_price", a.EndPrice.String(),
		"duration", a.Duration,
	)
	return a, nil
}

// CurrentPrice returns the price a buyer would pay right now. It is defined
// for settled and cancelled auctions too.
func (r *Registry) CurrentPrice(ctx context.Context, id int64) (decimal.Decimal, error) {
	a, err := r.load(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return priceAt(a, r.clock.Now()), nil
}

// Buy settles auction id to buyer. payment is the most the buyer is willing
// to pay; exactly the current price moves from buyer to seller.
func (r *Registry) Buy(ctx context.Context, id int64, buyer string, payment decimal.Decimal) (*Settlement, error) {
	var s *Settlement
	err := r.transact(ctx, "buy", func(ctx context.Context) (*model.Event, error) {
		var err error
		s, err = r.buy(ctx, id, buyer, payment)
		if err != nil {
			return nil, err
		}
		return &model.Event{
			Type:        model.EventSettled,
			AuctionID:   s.AuctionID,
			Seller:      s.Seller,
			Buyer:       s.Buyer,
			AssetRef:    s.AssetRef,
			AssetAmount: s.AssetAmount,
			Price:       s.Price,
			Status:      model.StatusSettled,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *Registry) buy(ctx context.Context, id int64, buyer string, payment decimal.Decimal) (*Settlement, error) {
	buyer, err := address.Parse(buyer)
	if err != nil {
		return nil, fmt.Errorf("%w: buyer: %w", ErrNotAuthorized, err)
	}

	a, err := r.loadFrom(ctx, r.primary, id)
	if err != nil {
		return nil, err
	}
	if !a.IsActive() {
		return nil, fmt.Errorf("%w: %d is %s", ErrAuctionNotActive, id, a.Status)
	}

	now := r.clock.Now().UTC()
	price := priceAt(a, now)
	if payment.LessThan(price) {
		return nil, fmt.Errorf("%w: offered %s, price %s", ErrInsufficientPayment, payment, price)
	}

	custodian, err := r.assets.Custodian(ctx, a.AssetRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEscrowTransferFailed, err)
	}

	// Effects: the auction is settled before any value moves, so a
	// collaborator calling back into the registry finds it inactive.
	prior := *a
	a.Status = model.StatusSettled
	a.Buyer = buyer
	a.SettledPrice = price
	a.ClosedAt = &now
	if err := r.store.UpdateAuctionState(ctx, a, model.StatusActive); err != nil {
		return nil, stateFailure(id, "persist settlement", err)
	}

	var j journal
	j.push("restore auction", func(ctx context.Context) error {
		return r.store.UpdateAuctionState(ctx, &prior, model.StatusSettled)
	})

	// Interactions: release the asset, then pay the seller.
	ok, err := custodian.Transfer(ctx, buyer, a.AssetAmount)
	if err != nil || !ok {
		return nil, j.rollback(ctx, transferFailure(ErrEscrowTransferFailed, err))
	}
	j.push("reclaim asset", func(ctx context.Context) error {
		return custodian.Revert(ctx, custody.Receipt{From: r.escrow, To: buyer, Amount: a.AssetAmount})
	})

	if err := r.payments.Transfer(ctx, buyer, a.Seller, price); err != nil {
		return nil, j.rollback(ctx, fmt.Errorf("%w: %w", ErrPaymentTransferFailed, err))
	}
	j.push("refund payment", func(ctx context.Context) error {
		return r.payments.Revert(ctx, custody.Receipt{From: buyer, To: a.Seller, Amount: price})
	})

	entry := &model.LedgerEntry{
		ID:          uuid.New().String(),
		AuctionID:   a.ID,
		Kind:        model.LedgerSettled,
		Seller:      a.Seller,
		Buyer:       buyer,
		AssetRef:    a.AssetRef,
		AssetAmount: a.AssetAmount,
		Price:       price,
		Timestamp:   now,
	}
	if err := r.store.InsertLedgerEntry(ctx, entry); err != nil {
		return nil, j.rollback(ctx, fmt.Errorf("record settlement: %w", err))
	}

	metrics.AuctionsSettled.WithLabelValues(a.AssetRef).Inc()
	metrics.ActiveAuctions.Dec()
	metrics.SettledValue.WithLabelValues(a.AssetRef).Add(price.InexactFloat64())

	slog.Info("auction settled",
		"auction_id", a.ID,
		"seller", a.Seller,
		"buyer", buyer,
		"asset_ref", a.AssetRef,
		"asset_amount", a.AssetAmount.String(),
		"price", price.String(),
		"offered", payment.String(),
	)

	return &Settlement{
		AuctionID:   a.ID,
		Seller:      a.Seller,
		Buyer:       buyer,
		AssetRef:    a.AssetRef,
		AssetAmount: a.AssetAmount,
		Price:       price,
		Refunded:    payment.Sub(price),
		SettledAt:   now,
	}, nil
}

// CancelAuction closes an active auction and returns the escrowed asset to
// the seller. Only the seller or an admin may cancel.
func (r *Registry) CancelAuction(ctx context.Context, id int64, caller string) error {
	return r.transact(ctx, "cancel", func(ctx context.Context) (*model.Event, error) {
		a, err := r.cancel(ctx, id, caller)
		if err != nil {
			return nil, err
		}
		return &model.Event{
			Type:        model.EventCancelled,
			AuctionID:   a.ID,
			Seller:      a.Seller,
			AssetRef:    a.AssetRef,
			AssetAmount: a.AssetAmount,
			Status:      model.StatusCancelled,
		}, nil
	})
}

func (r *Registry) cancel(ctx context.Context, id int64, caller string) (*model.Auction, error) {
	caller, err := address.Parse(caller)
	if err != nil {
		return nil, fmt.Errorf("%w: caller: %w", ErrNotAuthorized, err)
	}

	a, err := r.loadFrom(ctx, r.primary, id)
	if err != nil {
		return nil, err
	}
	if !a.IsActive() {
		return nil, fmt.Errorf("%w: %d is %s", ErrAuctionNotActive, id, a.Status)
	}
	by := "seller"
	if caller != a.Seller {
		if !r.admins[caller] {
			return nil, fmt.Errorf("%w: %s may not cancel auction %d", ErrNotAuthorized, caller, id)
		}
		by = "admin"
	}

	custodian, err := r.assets.Custodian(ctx, a.AssetRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEscrowTransferFailed, err)
	}

	now := r.clock.Now().UTC()
	prior := *a
	a.Status = model.StatusCancelled
	a.ClosedAt = &now
	if err := r.store.UpdateAuctionState(ctx, a, model.StatusActive); err != nil {
		return nil, stateFailure(id, "persist cancellation", err)
	}

	var j journal
	j.push("restore auction", func(ctx context.Context) error {
		return r.store.UpdateAuctionState(ctx, &prior, model.StatusCancelled)
	})

	ok, err := custodian.Transfer(ctx, a.Seller, a.AssetAmount)
	if err != nil || !ok {
		return nil, j.rollback(ctx, transferFailure(ErrEscrowTransferFailed, err))
	}
	j.push("reclaim asset", func(ctx context.Context) error {
		return custodian.Revert(ctx, custody.Receipt{From: r.escrow, To: a.Seller, Amount: a.AssetAmount})
	})

	entry := &model.LedgerEntry{
		ID:          uuid.New().String(),
		AuctionID:   a.ID,
		Kind:        model.LedgerCancelled,
		Seller:      a.Seller,
		AssetRef:    a.AssetRef,
		AssetAmount: a.AssetAmount,
		Price:       decimal.Zero,
		Timestamp:   now,
	}
	if err := r.store.InsertLedgerEntry(ctx, entry); err != nil {
		return nil, j.rollback(ctx, fmt.Errorf("record cancellation: %w", err))
	}

	metrics.AuctionsCancelled.WithLabelValues(by).Inc()
	metrics.ActiveAuctions.Dec()

	slog.Info("auction cancelled",
		"auction_id", a.ID,
		"seller", a.Seller,
		"caller", caller,
		"by", by,
		"asset_amount", a.AssetAmount.String(),
	)
	return a, nil
}

// AuctionDetails returns the composite view of auction id at the current
// time.
func (r *Registry) AuctionDetails(ctx context.Context, id int64) (*model.Details, error) {
	a, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	d := details(a, r.clock.Now())
	return &d, nil
}

// ListAuctions returns details for every auction, newest first. With
// activeOnly set, settled and cancelled auctions are skipped.
func (r *Registry) ListAuctions(ctx context.Context, activeOnly bool) ([]model.Details, error) {
	auctions, err := r.store.ListAuctions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list auctions: %w", err)
	}

	now := r.clock.Now()
	out := make([]model.Details, 0, len(auctions))
	for i := range auctions {
		if activeOnly && !auctions[i].IsActive() {
			continue
		}
		out = append(out, details(&auctions[i], now))
	}
	return out, nil
}

// History returns the ledger records of auction id.
func (r *Registry) History(ctx context.Context, id int64) ([]model.LedgerEntry, error) {
	if _, err := r.load(ctx, id); err != nil {
		return nil, err
	}
	entries, err := r.store.GetLedgerEntriesByAuction(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("auction %d history: %w", id, err)
	}
	return entries, nil
}

// AccountHistory returns the ledger records where account sold or bought.
func (r *Registry) AccountHistory(ctx context.Context, account string) ([]model.LedgerEntry, error) {
	account, err := address.Parse(account)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAuctionParameters, err)
	}
	entries, err := r.store.GetLedgerEntriesByUser(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("account %s history: %w", account, err)
	}
	return entries, nil
}

// load fetches auction id, mapping a missing record to ErrAuctionNotFound.
func (r *Registry) load(ctx context.Context, id int64) (*model.Auction, error) {
	return r.loadFrom(ctx, r.store, id)
}

func (r *Registry) loadFrom(ctx context.Context, st store.Store, id int64) (*model.Auction, error) {
	a, err := st.GetAuction(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrAuctionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load auction %d: %w", id, err)
	}
	return a, nil
}

// priceAt evaluates a's schedule at now. Stored auctions were validated at
// creation, so the schedule cannot fail to build.
func priceAt(a *model.Auction, now time.Time) decimal.Decimal {
	s, err := decay.NewSchedule(a.StartPrice, a.EndPrice, a.Duration)
	if err != nil {
		return a.EndPrice
	}
	return s.PriceAtTime(a.StartTime, now)
}

func details(a *model.Auction, now time.Time) model.Details {
	return model.Details{
		ID:           a.ID,
		Seller:       a.Seller,
		AssetRef:     a.AssetRef,
		AssetAmount:  a.AssetAmount,
		StartPrice:   a.StartPrice,
		EndPrice:     a.EndPrice,
		CurrentPrice: priceAt(a, now),
		StartTime:    a.StartTime,
		EndTime:      a.EndTime(),
		IsActive:     a.IsActive(),
		Status:       a.Status,
		Buyer:        a.Buyer,
	}
}

// stateFailure maps a lost compare-and-set on the auction status to
// ErrAuctionNotActive.
func stateFailure(id int64, op string, err error) error {
	if errors.Is(err, store.ErrStatusConflict) {
		return fmt.Errorf("%w: %d: %w", ErrAuctionNotActive, id, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// transferFailure wraps a custodian's error, or reports a plain false
// return, as kind.
func transferFailure(kind, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return kind
}
