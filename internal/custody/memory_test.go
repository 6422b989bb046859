package custody

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	escrow = "0x00000000000000000000000000000000000000e5"
	alice  = "0x00000000000000000000000000000000000000a1"
	bob    = "0x00000000000000000000000000000000000000b0"
	token  = "0x00000000000000000000000000000000000000f0"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestTokenAccount_TransferFromNeedsAllowance(t *testing.T) {
	ctx := context.Background()
	tok := NewToken(token)
	tok.Mint(alice, d("100"))
	acct := tok.Account(escrow)

	ok, err := acct.TransferFrom(ctx, alice, escrow, d("10"))
	require.NoError(t, err)
	assert.False(t, ok, "transfer without allowance must fail")

	tok.Approve(alice, escrow, d("60"))
	ok, err = acct.TransferFrom(ctx, alice, escrow, d("50"))
	require.NoError(t, err)
	require.True(t, ok)

	assert.True(t, tok.Balance(alice).Equal(d("50")))
	assert.True(t, tok.Balance(escrow).Equal(d("50")))
	assert.True(t, tok.Allowance(alice, escrow).Equal(d("10")))

	ok, err = acct.TransferFrom(ctx, alice, escrow, d("11"))
	require.NoError(t, err)
	assert.False(t, ok, "allowance is spent down")
}

func TestTokenAccount_TransferFromInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	tok := NewToken(token)
	tok.Mint(alice, d("5"))
	tok.Approve(alice, escrow, d("100"))

	ok, err := tok.Account(escrow).TransferFrom(ctx, alice, escrow, d("6"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, tok.Balance(alice).Equal(d("5")), "failed transfer leaves balance unchanged")
	assert.True(t, tok.Allowance(alice, escrow).Equal(d("100")), "failed transfer leaves allowance unchanged")
}

func TestTokenAccount_ZeroTransferFromWithoutApproval(t *testing.T) {
	ok, err := NewToken(token).Account(escrow).TransferFrom(context.Background(), alice, bob, decimal.Zero)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTokenAccount_TransferAndRevert(t *testing.T) {
	ctx := context.Background()
	tok := NewToken(token)
	tok.Mint(escrow, d("100"))
	acct := tok.Account(escrow)

	ok, err := acct.Transfer(ctx, bob, d("100"))
	require.NoError(t, err)
	require.True(t, ok)

	bal, err := acct.BalanceOf(ctx, bob)
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("100")))

	require.NoError(t, acct.Revert(ctx, Receipt{From: escrow, To: bob, Amount: d("100")}))
	assert.True(t, tok.Balance(bob).IsZero())
	assert.True(t, tok.Balance(escrow).Equal(d("100")))

	err = acct.Revert(ctx, Receipt{From: escrow, To: bob, Amount: d("1")})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestTokenAccount_RevertTransferFromRestoresAllowance(t *testing.T) {
	ctx := context.Background()
	tok := NewToken(token)
	tok.Mint(alice, d("100"))
	tok.Approve(alice, escrow, d("100"))
	acct := tok.Account(escrow)

	ok, err := acct.TransferFrom(ctx, alice, escrow, d("60"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, tok.Allowance(alice, escrow).Equal(d("40")))

	require.NoError(t, acct.Revert(ctx, Receipt{From: alice, To: escrow, Amount: d("60"), Spender: escrow}))
	assert.True(t, tok.Balance(alice).Equal(d("100")))
	assert.True(t, tok.Balance(escrow).IsZero())
	assert.True(t, tok.Allowance(alice, escrow).Equal(d("100")))
}

func TestTokenAccount_NegativeAmount(t *testing.T) {
	acct := NewToken(token).Account(escrow)
	_, err := acct.Transfer(context.Background(), bob, d("-1"))
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = acct.TransferFrom(context.Background(), alice, bob, d("-1"))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestBank_TransferAndReject(t *testing.T) {
	ctx := context.Background()
	bank := NewBank()
	bank.Credit(alice, d("3"))

	require.NoError(t, bank.Transfer(ctx, alice, bob, d("1.25")))
	assert.True(t, bank.Balance(alice).Equal(d("1.75")))
	assert.True(t, bank.Balance(bob).Equal(d("1.25")))

	err := bank.Transfer(ctx, alice, bob, d("2"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	bank.Reject(bob, true)
	err = bank.Transfer(ctx, alice, bob, d("1"))
	assert.ErrorIs(t, err, ErrRecipientRejected)
	assert.True(t, bank.Balance(alice).Equal(d("1.75")))

	bank.Reject(bob, false)
	require.NoError(t, bank.Transfer(ctx, alice, bob, d("1")))
}

func TestBank_RevertIgnoresRejection(t *testing.T) {
	ctx := context.Background()
	bank := NewBank()
	bank.Credit(alice, d("1"))
	require.NoError(t, bank.Transfer(ctx, alice, bob, d("1")))

	bank.Reject(alice, true)
	require.NoError(t, bank.Revert(ctx, Receipt{From: alice, To: bob, Amount: d("1")}))
	assert.True(t, bank.Balance(alice).Equal(d("1")))
	assert.True(t, bank.Balance(bob).IsZero())
}

func TestMemoryLedger_Custodian(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(escrow, token)

	_, err := l.Custodian(ctx, "0x00000000000000000000000000000000000000ff")
	assert.ErrorIs(t, err, ErrUnknownAsset)

	require.NoError(t, l.Mint(ctx, token, alice, d("10")))
	require.NoError(t, l.Approve(ctx, token, alice, escrow, d("10")))

	c, err := l.Custodian(ctx, token)
	require.NoError(t, err)
	ok, err := c.TransferFrom(ctx, alice, escrow, d("10"))
	require.NoError(t, err)
	require.True(t, ok)

	bal, err := l.AssetBalance(ctx, token, escrow)
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("10")))

	allowance, err := l.Allowance(ctx, token, alice, escrow)
	require.NoError(t, err)
	assert.True(t, allowance.IsZero())
}

func TestMemoryLedger_NativeAndAssets(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(escrow, token, "0x00000000000000000000000000000000000000aa")

	assert.Equal(t, []string{"0x00000000000000000000000000000000000000aa", token}, l.Assets())
	assert.Same(t, l.AddAsset(token), mustToken(t, l, token), "AddAsset is idempotent")

	require.NoError(t, l.Credit(ctx, alice, d("2")))
	require.NoError(t, l.Payments().Transfer(ctx, alice, bob, d("2")))

	bal, err := l.NativeBalance(ctx, bob)
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("2")))

	assert.ErrorIs(t, l.Credit(ctx, alice, d("-1")), ErrInvalidAmount)
	assert.ErrorIs(t, l.Mint(ctx, "0x00000000000000000000000000000000000000ff", alice, d("1")), ErrUnknownAsset)
}

func mustToken(t *testing.T, l *MemoryLedger, ref string) *Token {
	t.Helper()
	tok, ok := l.Token(ref)
	require.True(t, ok)
	return tok
}
