// Package api provides the HTTP handlers for creating, pricing, buying and
// cancelling auctions, plus the custody account endpoints.
//
// All monetary values use shopspring/decimal — never float64 for money.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/dutch-engine/internal/address"
	"github.com/atmx/dutch-engine/internal/auction"
	"github.com/atmx/dutch-engine/internal/custody"
	"github.com/atmx/dutch-engine/internal/model"
)

// Service exposes the registry and custody ledger over HTTP. It holds no
// locks itself; serialization lives in the registry.
type Service struct {
	registry *auction.Registry
	ledger   custody.Ledger
	faucet   bool
	auth     *Authenticator
}

// Option configures a Service.
type Option func(*Service)

// WithAuthenticator resolves the acting account of mutating requests from
// bearer tokens.
func WithAuthenticator(a *Authenticator) Option {
	return func(s *Service) { s.auth = a }
}

// NewService creates a new API service. With faucet set, the mint and
// credit endpoints are enabled and unauthenticated requests may name their
// account in the body. Development only.
func NewService(reg *auction.Registry, ledger custody.Ledger, faucet bool, opts ...Option) *Service {
	s := &Service{
		registry: reg,
		ledger:   ledger,
		faucet:   faucet,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes mounts the API on r.
func (s *Service) Routes(r chi.Router) {
	if s.auth != nil {
		r.Use(s.auth.Middleware)
	}

	// Auctions.
	r.Get("/auctions", s.ListAuctions)
	r.Post("/auctions", s.CreateAuction)
	r.Get("/auctions/{auctionID}", s.GetAuction)
	r.Get("/auctions/{auctionID}/price", s.GetPrice)
	r.Post("/auctions/{auctionID}/buy", s.Buy)
	r.Post("/auctions/{auctionID}/cancel", s.Cancel)
	r.Get("/auctions/{auctionID}/history", s.GetAuctionHistory)
	r.Get("/accounts/{account}/history", s.GetAccountHistory)

	// Custody.
	r.Get("/assets", s.ListAssets)
	r.Get("/assets/{assetRef}/balances/{account}", s.GetAssetBalance)
	r.Post("/assets/{assetRef}/approve", s.Approve)
	r.Get("/accounts/{account}/balance", s.GetNativeBalance)
	r.Post("/assets/{assetRef}/mint", s.Mint)
	r.Post("/accounts/{account}/credit", s.Credit)
}

// --- Request/Response types ---

// CreateAuctionRequest is the JSON body for auction creation.
type CreateAuctionRequest struct {
	Seller      string          `json:"seller"`
	AssetRef    string          `json:"asset_ref"`
	AssetAmount decimal.Decimal `json:"asset_amount"`
	StartPrice  decimal.Decimal `json:"start_price"`
	EndPrice    decimal.Decimal `json:"end_price"`
	Duration    int64           `json:"duration"` // seconds
}

// BuyRequest is the JSON body for POST /auctions/{id}/buy. Payment is the
// most the buyer will pay; only the current price is charged. Buyer may be
// omitted when the request carries a bearer token.
type BuyRequest struct {
	Buyer   string          `json:"buyer"`
	Payment decimal.Decimal `json:"payment"`
}

// CancelRequest is the JSON body for POST /auctions/{id}/cancel.
type CancelRequest struct {
	Caller string `json:"caller"`
}

// PriceResponse is the JSON body returned from GET /auctions/{id}/price.
type PriceResponse struct {
	AuctionID int64           `json:"auction_id"`
	Price     decimal.Decimal `json:"price"`
	AsOf      time.Time       `json:"as_of"`
}

// --- HTTP Handlers ---

// CreateAuction handles POST /api/v1/auctions
func (s *Service) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var req CreateAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	seller, ok := s.actor(w, r, req.Seller, "seller")
	if !ok {
		return
	}

	a, err := s.registry.CreateAuction(r.Context(), seller, auction.CreateParams{
		AssetRef:    req.AssetRef,
		AssetAmount: req.AssetAmount,
		StartPrice:  req.StartPrice,
		EndPrice:    req.EndPrice,
		Duration:    req.Duration,
	})
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, a)
}

// ListAuctions handles GET /api/v1/auctions
// Returns all auctions newest first, optionally filtered by ?active=true
// and ?seller=<address>.
func (s *Service) ListAuctions(w http.ResponseWriter, r *http.Request) {
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))

	list, err := s.registry.ListAuctions(r.Context(), activeOnly)
	if err != nil {
		slog.Error("list auctions failed", "err", err)
		writeError(w, "failed to list auctions", http.StatusInternalServerError)
		return
	}

	if seller := r.URL.Query().Get("seller"); seller != "" {
		filtered := []model.Details{}
		for _, d := range list {
			if address.Equal(d.Seller, seller) {
				filtered = append(filtered, d)
			}
		}
		list = filtered
	}

	writeJSON(w, http.StatusOK, list)
}

// GetAuction handles GET /api/v1/auctions/{auctionID}
func (s *Service) GetAuction(w http.ResponseWriter, r *http.Request) {
	id, ok := auctionID(w, r)
	if !ok {
		return
	}

	details, err := s.registry.AuctionDetails(r.Context(), id)
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, details)
}

// GetPrice handles GET /api/v1/auctions/{auctionID}/price
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	id, ok := auctionID(w, r)
	if !ok {
		return
	}

	price, err := s.registry.CurrentPrice(r.Context(), id)
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, PriceResponse{
		AuctionID: id,
		Price:     price,
		AsOf:      time.Now().UTC(),
	})
}

// Buy handles POST /api/v1/auctions/{auctionID}/buy
// Settles at the current price and returns the settlement.
func (s *Service) Buy(w http.ResponseWriter, r *http.Request) {
	id, ok := auctionID(w, r)
	if !ok {
		return
	}

	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	buyer, ok := s.actor(w, r, req.Buyer, "buyer")
	if !ok {
		return
	}

	settlement, err := s.registry.Buy(r.Context(), id, buyer, req.Payment)
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, settlement)
}

// Cancel handles POST /api/v1/auctions/{auctionID}/cancel
func (s *Service) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := auctionID(w, r)
	if !ok {
		return
	}

	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	caller, ok := s.actor(w, r, req.Caller, "caller")
	if !ok {
		return
	}

	ctx := r.Context()
	if err := s.registry.CancelAuction(ctx, id, caller); err != nil {
		writeRegistryError(w, err)
		return
	}

	details, err := s.registry.AuctionDetails(ctx, id)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// GetAuctionHistory handles GET /api/v1/auctions/{auctionID}/history
// Returns the settlement or cancellation record of one auction.
func (s *Service) GetAuctionHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := auctionID(w, r)
	if !ok {
		return
	}

	entries, err := s.registry.History(r.Context(), id)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}

	writeJSON(w, http.StatusOK, entries)
}

// GetAccountHistory handles GET /api/v1/accounts/{account}/history
// Returns every record where the account sold or bought.
func (s *Service) GetAccountHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.registry.AccountHistory(r.Context(), chi.URLParam(r, "account"))
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}

	writeJSON(w, http.StatusOK, entries)
}

// auctionID parses the {auctionID} path parameter, writing a 400 on failure.
func auctionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "auctionID"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, "invalid auction id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// writeRegistryError maps registry errors to HTTP status codes.
func writeRegistryError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, auction.ErrAuctionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, auction.ErrAuctionNotActive):
		status = http.StatusConflict
	case errors.Is(err, auction.ErrInsufficientPayment):
		status = http.StatusPaymentRequired
	case errors.Is(err, auction.ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, auction.ErrInvalidAuctionParameters):
		status = http.StatusBadRequest
	case errors.Is(err, auction.ErrEscrowTransferFailed),
		errors.Is(err, auction.ErrPaymentTransferFailed):
		status = http.StatusUnprocessableEntity
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
		msg = "internal error"
	}
	writeError(w, msg, status)
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
