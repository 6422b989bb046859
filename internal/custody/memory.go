package custody

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// Token is an in-memory fungible asset with balances and allowances.
// Used for testing and development. Not suitable for production (no persistence).
type Token struct {
	ref        string
	mu         sync.Mutex
	balances   map[string]decimal.Decimal
	allowances map[string]map[string]decimal.Decimal // owner → spender → amount
}

// NewToken creates an empty token identified by ref.
func NewToken(ref string) *Token {
	return &Token{
		ref:        ref,
		balances:   make(map[string]decimal.Decimal),
		allowances: make(map[string]map[string]decimal.Decimal),
	}
}

// Ref returns the asset reference.
func (t *Token) Ref() string { return t.ref }

// Mint creates amount new units for owner.
func (t *Token) Mint(owner string, amount decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[owner] = t.balances[owner].Add(amount)
}

// Approve sets the amount spender may move out of owner's balance.
func (t *Token) Approve(owner, spender string, amount decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[string]decimal.Decimal)
	}
	t.allowances[owner][spender] = amount
}

// Balance returns owner's balance.
func (t *Token) Balance(owner string) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[owner]
}

// Allowance returns how much spender may still move out of owner's balance.
func (t *Token) Allowance(owner, spender string) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allowances[owner][spender]
}

// Account returns the custodian view of the token for holder.
func (t *Token) Account(holder string) *TokenAccount {
	return &TokenAccount{token: t, holder: holder}
}

// move transfers amount between balances. Caller holds t.mu.
func (t *Token) move(from, to string, amount decimal.Decimal) bool {
	if t.balances[from].LessThan(amount) {
		return false
	}
	t.balances[from] = t.balances[from].Sub(amount)
	t.balances[to] = t.balances[to].Add(amount)
	return true
}

// TokenAccount implements AssetCustodian for one holder of a Token.
type TokenAccount struct {
	token  *Token
	holder string
}

var _ AssetCustodian = (*TokenAccount)(nil)

// TransferFrom spends the holder's allowance over from's balance.
func (a *TokenAccount) TransferFrom(_ context.Context, from, to string, amount decimal.Decimal) (bool, error) {
	if amount.IsNegative() {
		return false, ErrInvalidAmount
	}
	t := a.token
	t.mu.Lock()
	defer t.mu.Unlock()

	allowance := t.allowances[from][a.holder]
	if allowance.LessThan(amount) {
		return false, nil
	}
	if !t.move(from, to, amount) {
		return false, nil
	}
	if t.allowances[from] == nil {
		t.allowances[from] = make(map[string]decimal.Decimal)
	}
	t.allowances[from][a.holder] = allowance.Sub(amount)
	return true, nil
}

// Transfer moves amount out of the holder's balance.
func (a *TokenAccount) Transfer(_ context.Context, to string, amount decimal.Decimal) (bool, error) {
	if amount.IsNegative() {
		return false, ErrInvalidAmount
	}
	t := a.token
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(a.holder, to, amount), nil
}

func (a *TokenAccount) BalanceOf(_ context.Context, owner string) (decimal.Decimal, error) {
	return a.token.Balance(owner), nil
}

func (a *TokenAccount) Revert(_ context.Context, r Receipt) error {
	t := a.token
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.move(r.To, r.From, r.Amount) {
		return fmt.Errorf("revert %s of %s from %s: %w", r.Amount, t.ref, r.To, ErrInsufficientBalance)
	}
	if r.Spender != "" {
		if t.allowances[r.From] == nil {
			t.allowances[r.From] = make(map[string]decimal.Decimal)
		}
		t.allowances[r.From][r.Spender] = t.allowances[r.From][r.Spender].Add(r.Amount)
	}
	return nil
}

// Bank is an in-memory native currency ledger. Accounts can be marked as
// rejecting incoming payments, the way a contract without a payable fallback
// refuses value.
type Bank struct {
	mu        sync.Mutex
	balances  map[string]decimal.Decimal
	rejecting map[string]bool
}

// NewBank creates an empty bank.
func NewBank() *Bank {
	return &Bank{
		balances:  make(map[string]decimal.Decimal),
		rejecting: make(map[string]bool),
	}
}

var _ PaymentChannel = (*Bank)(nil)

// Credit adds amount to owner's balance.
func (b *Bank) Credit(owner string, amount decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[owner] = b.balances[owner].Add(amount)
}

// Balance returns owner's balance.
func (b *Bank) Balance(owner string) decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[owner]
}

// Reject toggles whether owner refuses incoming payments.
func (b *Bank) Reject(owner string, reject bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if reject {
		b.rejecting[owner] = true
	} else {
		delete(b.rejecting, owner)
	}
}

func (b *Bank) Transfer(_ context.Context, from, to string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rejecting[to] {
		return fmt.Errorf("%w: %s", ErrRecipientRejected, to)
	}
	if b.balances[from].LessThan(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from, b.balances[from], amount)
	}
	b.balances[from] = b.balances[from].Sub(amount)
	b.balances[to] = b.balances[to].Add(amount)
	return nil
}

func (b *Bank) Revert(_ context.Context, r Receipt) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.balances[r.To].LessThan(r.Amount) {
		return fmt.Errorf("revert payment from %s: %w", r.To, ErrInsufficientBalance)
	}
	b.balances[r.To] = b.balances[r.To].Sub(r.Amount)
	b.balances[r.From] = b.balances[r.From].Add(r.Amount)
	return nil
}

// MemoryLedger implements Ledger with in-memory tokens and one bank.
type MemoryLedger struct {
	escrow string
	mu     sync.RWMutex
	tokens map[string]*Token
	bank   *Bank
}

var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger creates a ledger whose custodians act for escrow, with an
// empty token for every asset reference given.
func NewMemoryLedger(escrow string, assets ...string) *MemoryLedger {
	l := &MemoryLedger{
		escrow: escrow,
		tokens: make(map[string]*Token),
		bank:   NewBank(),
	}
	for _, ref := range assets {
		l.AddAsset(ref)
	}
	return l
}

// AddAsset registers a token for ref, returning the existing one if present.
func (l *MemoryLedger) AddAsset(ref string) *Token {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.tokens[ref]; ok {
		return t
	}
	t := NewToken(ref)
	l.tokens[ref] = t
	return t
}

// Token returns the token for ref.
func (l *MemoryLedger) Token(ref string) (*Token, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.tokens[ref]
	return t, ok
}

// Bank returns the native currency ledger.
func (l *MemoryLedger) Bank() *Bank { return l.bank }

func (l *MemoryLedger) Custodian(_ context.Context, assetRef string) (AssetCustodian, error) {
	t, ok := l.Token(assetRef)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, assetRef)
	}
	return t.Account(l.escrow), nil
}

func (l *MemoryLedger) Payments() PaymentChannel { return l.bank }

func (l *MemoryLedger) Assets() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	refs := make([]string, 0, len(l.tokens))
	for ref := range l.tokens {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

func (l *MemoryLedger) AssetBalance(_ context.Context, assetRef, owner string) (decimal.Decimal, error) {
	t, ok := l.Token(assetRef)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownAsset, assetRef)
	}
	return t.Balance(owner), nil
}

func (l *MemoryLedger) Allowance(_ context.Context, assetRef, owner, spender string) (decimal.Decimal, error) {
	t, ok := l.Token(assetRef)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownAsset, assetRef)
	}
	return t.Allowance(owner, spender), nil
}

func (l *MemoryLedger) Approve(_ context.Context, assetRef, owner, spender string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	t, ok := l.Token(assetRef)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, assetRef)
	}
	t.Approve(owner, spender, amount)
	return nil
}

func (l *MemoryLedger) Mint(_ context.Context, assetRef, owner string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	t, ok := l.Token(assetRef)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, assetRef)
	}
	t.Mint(owner, amount)
	return nil
}

func (l *MemoryLedger) NativeBalance(_ context.Context, owner string) (decimal.Decimal, error) {
	return l.bank.Balance(owner), nil
}

func (l *MemoryLedger) Credit(_ context.Context, owner string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	l.bank.Credit(owner, amount)
	return nil
}
