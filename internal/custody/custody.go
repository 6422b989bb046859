// Package custody defines the asset and payment collaborators the auction
// registry moves value through, plus in-memory and Redis-backed ledgers that
// implement them.
//
// The registry depends only on the interfaces here. A custodian that reports
// a failed transfer by returning false is treated exactly like one that
// returns an error: both abort the enclosing registry call.
package custody

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownAsset is returned when an asset reference has no custodian.
	ErrUnknownAsset = errors.New("custody: unknown asset")

	// ErrInvalidAmount is returned for negative transfer amounts.
	ErrInvalidAmount = errors.New("custody: amount must not be negative")

	// ErrInsufficientBalance is returned when the sender cannot cover a transfer.
	ErrInsufficientBalance = errors.New("custody: insufficient balance")

	// ErrRecipientRejected is returned when the recipient refuses a payment.
	ErrRecipientRejected = errors.New("custody: recipient rejected payment")

	// ErrContention is returned when an optimistic transaction keeps losing
	// races and gives up.
	ErrContention = errors.New("custody: too much contention, transfer abandoned")
)

// Receipt describes a committed transfer so that it can be reverted.
type Receipt struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
	// Spender is set when the transfer spent From's allowance; reverting it
	// grants Amount back to Spender.
	Spender string `json:"spender,omitempty"`
}

// Reverter undoes a transfer committed earlier in a registry call that later
// failed. It moves r.Amount from r.To back to r.From, and restores the spent
// allowance when r.Spender is set, without consulting recipient preferences.
type Reverter interface {
	Revert(ctx context.Context, r Receipt) error
}

// AssetCustodian is a fungible asset as seen from the escrow account: the
// implicit sender of Transfer and the spender of TransferFrom.
type AssetCustodian interface {
	// TransferFrom moves amount from owner to `to` using the escrow
	// account's allowance.
	TransferFrom(ctx context.Context, from, to string, amount decimal.Decimal) (bool, error)

	// Transfer moves amount out of the escrow account.
	Transfer(ctx context.Context, to string, amount decimal.Decimal) (bool, error)

	// BalanceOf returns owner's balance of this asset.
	BalanceOf(ctx context.Context, owner string) (decimal.Decimal, error)

	Reverter
}

// PaymentChannel moves native currency between accounts.
type PaymentChannel interface {
	// Transfer pays amount from `from` to `to`. It fails if the sender is
	// short or the recipient refuses the payment.
	Transfer(ctx context.Context, from, to string, amount decimal.Decimal) error

	Reverter
}

// Directory resolves asset references to custodians.
type Directory interface {
	Custodian(ctx context.Context, assetRef string) (AssetCustodian, error)
}

// Ledger is the full surface of a custody backend: the collaborator views the
// registry needs plus the account operations exposed to users.
type Ledger interface {
	Directory

	// Payments returns the native currency channel.
	Payments() PaymentChannel

	// Assets lists the asset references this ledger knows.
	Assets() []string

	AssetBalance(ctx context.Context, assetRef, owner string) (decimal.Decimal, error)
	Allowance(ctx context.Context, assetRef, owner, spender string) (decimal.Decimal, error)
	Approve(ctx context.Context, assetRef, owner, spender string, amount decimal.Decimal) error
	Mint(ctx context.Context, assetRef, owner string, amount decimal.Decimal) error

	NativeBalance(ctx context.Context, owner string) (decimal.Decimal, error)
	Credit(ctx context.Context, owner string, amount decimal.Decimal) error
}
