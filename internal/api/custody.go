package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/dutch-engine/internal/address"
	"github.com/atmx/dutch-engine/internal/custody"
)

// AmountRequest is the JSON body for approve, mint and credit.
type AmountRequest struct {
	Owner  string          `json:"owner,omitempty"` // ignored by credit, which takes it from the path
	Amount decimal.Decimal `json:"amount"`
}

// BalanceResponse reports one balance.
type BalanceResponse struct {
	Account  string          `json:"account"`
	AssetRef string          `json:"asset_ref,omitempty"` // empty for native currency
	Balance  decimal.Decimal `json:"balance"`
}

// AllowanceResponse reports an owner's approval to the escrow account.
type AllowanceResponse struct {
	Owner     string          `json:"owner"`
	Spender   string          `json:"spender"`
	AssetRef  string          `json:"asset_ref"`
	Allowance decimal.Decimal `json:"allowance"`
}

// ListAssets handles GET /api/v1/assets
func (s *Service) ListAssets(w http.ResponseWriter, r *http.Request) {
	assets := s.ledger.Assets()
	if assets == nil {
		assets = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"escrow": s.registry.Escrow(),
		"assets": assets,
	})
}

// GetAssetBalance handles GET /api/v1/assets/{assetRef}/balances/{account}
func (s *Service) GetAssetBalance(w http.ResponseWriter, r *http.Request) {
	ref, account, ok := assetAndAccount(w, r)
	if !ok {
		return
	}

	bal, err := s.ledger.AssetBalance(r.Context(), ref, account)
	if err != nil {
		writeCustodyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Account: account, AssetRef: ref, Balance: bal})
}

// Approve handles POST /api/v1/assets/{assetRef}/approve
// Sets the owner's allowance for the escrow account, the step a seller
// takes before listing.
func (s *Service) Approve(w http.ResponseWriter, r *http.Request) {
	ref, err := address.Parse(chi.URLParam(r, "assetRef"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	owner, ok := s.actor(w, r, req.Owner, "owner")
	if !ok {
		return
	}
	owner, err = address.Parse(owner)
	if err != nil {
		writeError(w, "owner: "+err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	escrow := s.registry.Escrow()
	if err := s.ledger.Approve(ctx, ref, owner, escrow, req.Amount); err != nil {
		writeCustodyError(w, err)
		return
	}
	allowance, err := s.ledger.Allowance(ctx, ref, owner, escrow)
	if err != nil {
		writeCustodyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AllowanceResponse{
		Owner: owner, Spender: escrow, AssetRef: ref, Allowance: allowance,
	})
}

// GetNativeBalance handles GET /api/v1/accounts/{account}/balance
func (s *Service) GetNativeBalance(w http.ResponseWriter, r *http.Request) {
	account, err := address.Parse(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	bal, err := s.ledger.NativeBalance(r.Context(), account)
	if err != nil {
		writeCustodyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Account: account, Balance: bal})
}

// Mint handles POST /api/v1/assets/{assetRef}/mint (faucet only).
func (s *Service) Mint(w http.ResponseWriter, r *http.Request) {
	if !s.faucet {
		writeError(w, "faucet disabled", http.StatusForbidden)
		return
	}
	ref, err := address.Parse(chi.URLParam(r, "assetRef"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	req, owner, ok := decodeAmount(w, r, "")
	if !ok {
		return
	}

	ctx := r.Context()
	if err := s.ledger.Mint(ctx, ref, owner, req.Amount); err != nil {
		writeCustodyError(w, err)
		return
	}
	bal, err := s.ledger.AssetBalance(ctx, ref, owner)
	if err != nil {
		writeCustodyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Account: owner, AssetRef: ref, Balance: bal})
}

// Credit handles POST /api/v1/accounts/{account}/credit (faucet only).
func (s *Service) Credit(w http.ResponseWriter, r *http.Request) {
	if !s.faucet {
		writeError(w, "faucet disabled", http.StatusForbidden)
		return
	}
	req, account, ok := decodeAmount(w, r, chi.URLParam(r, "account"))
	if !ok {
		return
	}

	ctx := r.Context()
	if err := s.ledger.Credit(ctx, account, req.Amount); err != nil {
		writeCustodyError(w, err)
		return
	}
	bal, err := s.ledger.NativeBalance(ctx, account)
	if err != nil {
		writeCustodyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Account: account, Balance: bal})
}

// assetAndAccount parses the {assetRef} and {account} path parameters.
func assetAndAccount(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	ref, err := address.Parse(chi.URLParam(r, "assetRef"))
	if err != nil {
		writeError(w, "asset: "+err.Error(), http.StatusBadRequest)
		return "", "", false
	}
	account, err := address.Parse(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, "account: "+err.Error(), http.StatusBadRequest)
		return "", "", false
	}
	return ref, account, true
}

// decodeAmount reads an AmountRequest. The owner comes from pathOwner when
// set, else from the body.
func decodeAmount(w http.ResponseWriter, r *http.Request, pathOwner string) (AmountRequest, string, bool) {
	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return req, "", false
	}
	owner := req.Owner
	if pathOwner != "" {
		owner = pathOwner
	}
	owner, err := address.Parse(owner)
	if err != nil {
		writeError(w, "owner: "+err.Error(), http.StatusBadRequest)
		return req, "", false
	}
	return req, owner, true
}

// writeCustodyError maps ledger errors to HTTP status codes.
func writeCustodyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, custody.ErrUnknownAsset):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, custody.ErrInvalidAmount):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		writeRegistryError(w, err)
	}
}
