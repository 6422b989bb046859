package custody

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// maxTxRetries bounds optimistic transaction retries on WATCH conflicts.
const maxTxRetries = 16

// RedisLedger implements Ledger on Redis so balances survive restarts and
// can be shared by several engine instances. Every transfer is a
// WATCH/MULTI/EXEC transaction over the affected keys; amounts are stored
// as decimal strings and never pass through float64.
type RedisLedger struct {
	rdb    *redis.Client
	escrow string
	assets map[string]bool
}

var _ Ledger = (*RedisLedger)(nil)

// NewRedisLedger creates a Redis-backed ledger for the given asset references.
func NewRedisLedger(rdb *redis.Client, escrow string, assets []string) *RedisLedger {
	known := make(map[string]bool, len(assets))
	for _, ref := range assets {
		known[ref] = true
	}
	return &RedisLedger{rdb: rdb, escrow: escrow, assets: known}
}

func (l *RedisLedger) Custodian(_ context.Context, assetRef string) (AssetCustodian, error) {
	if !l.assets[assetRef] {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, assetRef)
	}
	return &redisAsset{ledger: l, ref: assetRef, holder: l.escrow}, nil
}

func (l *RedisLedger) Payments() PaymentChannel {
	return &redisBank{ledger: l}
}

func (l *RedisLedger) Assets() []string {
	refs := make([]string, 0, len(l.assets))
	for ref := range l.assets {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

func (l *RedisLedger) AssetBalance(ctx context.Context, assetRef, owner string) (decimal.Decimal, error) {
	if !l.assets[assetRef] {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownAsset, assetRef)
	}
	return readDecimal(ctx, l.rdb, assetBalanceKey(assetRef, owner))
}

func (l *RedisLedger) Allowance(ctx context.Context, assetRef, owner, spender string) (decimal.Decimal, error) {
	if !l.assets[assetRef] {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownAsset, assetRef)
	}
	return readDecimal(ctx, l.rdb, allowanceKey(assetRef, owner, spender))
}

func (l *RedisLedger) Approve(ctx context.Context, assetRef, owner, spender string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	if !l.assets[assetRef] {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, assetRef)
	}
	return l.rdb.Set(ctx, allowanceKey(assetRef, owner, spender), amount.String(), 0).Err()
}

func (l *RedisLedger) Mint(ctx context.Context, assetRef, owner string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	if !l.assets[assetRef] {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, assetRef)
	}
	return l.credit(ctx, assetBalanceKey(assetRef, owner), amount)
}

func (l *RedisLedger) NativeBalance(ctx context.Context, owner string) (decimal.Decimal, error) {
	return readDecimal(ctx, l.rdb, nativeBalanceKey(owner))
}

func (l *RedisLedger) Credit(ctx context.Context, owner string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	return l.credit(ctx, nativeBalanceKey(owner), amount)
}

// credit adds amount to the balance stored at key.
func (l *RedisLedger) credit(ctx context.Context, key string, amount decimal.Decimal) error {
	return l.withRetry(ctx, func(tx *redis.Tx) error {
		bal, err := readDecimal(ctx, tx, key)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, bal.Add(amount).String(), 0)
			return nil
		})
		return err
	}, key)
}

// allowanceOp names the allowance a move spends or, with grant set,
// restores. The zero value leaves allowances alone.
type allowanceOp struct {
	key   string
	grant bool
}

// move debits fromKey and credits toKey by amount, applying op to the
// allowance in the same transaction. It reports false without error when
// the balance or a spent allowance is short.
func (l *RedisLedger) move(ctx context.Context, fromKey, toKey string, amount decimal.Decimal, op allowanceOp) (bool, error) {
	keys := []string{fromKey, toKey}
	if op.key != "" {
		keys = append(keys, op.key)
	}

	var moved bool
	err := l.withRetry(ctx, func(tx *redis.Tx) error {
		moved = false

		fromBal, err := readDecimal(ctx, tx, fromKey)
		if err != nil {
			return err
		}
		if fromBal.LessThan(amount) {
			return nil
		}

		var allowance decimal.Decimal
		if op.key != "" {
			allowance, err = readDecimal(ctx, tx, op.key)
			if err != nil {
				return err
			}
			if op.grant {
				allowance = allowance.Add(amount)
			} else {
				if allowance.LessThan(amount) {
					return nil
				}
				allowance = allowance.Sub(amount)
			}
		}

		toBal, err := readDecimal(ctx, tx, toKey)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if fromKey != toKey {
				pipe.Set(ctx, fromKey, fromBal.Sub(amount).String(), 0)
				pipe.Set(ctx, toKey, toBal.Add(amount).String(), 0)
			}
			if op.key != "" {
				pipe.Set(ctx, op.key, allowance.String(), 0)
			}
			return nil
		})
		if err == nil {
			moved = true
		}
		return err
	}, keys...)
	return moved, err
}

// withRetry runs fn as an optimistic transaction, retrying on WATCH conflicts.
func (l *RedisLedger) withRetry(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := l.rdb.Watch(ctx, fn, keys...)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrContention
}

// redisAsset implements AssetCustodian for one holder of one asset.
type redisAsset struct {
	ledger *RedisLedger
	ref    string
	holder string
}

func (a *redisAsset) TransferFrom(ctx context.Context, from, to string, amount decimal.Decimal) (bool, error) {
	if amount.IsNegative() {
		return false, ErrInvalidAmount
	}
	return a.ledger.move(ctx,
		assetBalanceKey(a.ref, from),
		assetBalanceKey(a.ref, to),
		amount,
		allowanceOp{key: allowanceKey(a.ref, from, a.holder)})
}

func (a *redisAsset) Transfer(ctx context.Context, to string, amount decimal.Decimal) (bool, error) {
	if amount.IsNegative() {
		return false, ErrInvalidAmount
	}
	return a.ledger.move(ctx, assetBalanceKey(a.ref, a.holder), assetBalanceKey(a.ref, to), amount, allowanceOp{})
}

func (a *redisAsset) BalanceOf(ctx context.Context, owner string) (decimal.Decimal, error) {
	return readDecimal(ctx, a.ledger.rdb, assetBalanceKey(a.ref, owner))
}

func (a *redisAsset) Revert(ctx context.Context, r Receipt) error {
	var op allowanceOp
	if r.Spender != "" {
		op = allowanceOp{key: allowanceKey(a.ref, r.From, r.Spender), grant: true}
	}
	ok, err := a.ledger.move(ctx, assetBalanceKey(a.ref, r.To), assetBalanceKey(a.ref, r.From), r.Amount, op)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("revert %s of %s from %s: %w", r.Amount, a.ref, r.To, ErrInsufficientBalance)
	}
	return nil
}

// redisBank implements PaymentChannel on native balances.
type redisBank struct {
	ledger *RedisLedger
}

func (b *redisBank) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	ok, err := b.ledger.move(ctx, nativeBalanceKey(from), nativeBalanceKey(to), amount, allowanceOp{})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrInsufficientBalance, from)
	}
	return nil
}

func (b *redisBank) Revert(ctx context.Context, r Receipt) error {
	ok, err := b.ledger.move(ctx, nativeBalanceKey(r.To), nativeBalanceKey(r.From), r.Amount, allowanceOp{})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("revert payment from %s: %w", r.To, ErrInsufficientBalance)
	}
	return nil
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// readDecimal loads a decimal string; a missing key reads as zero.
func readDecimal(ctx context.Context, c getter, key string) (decimal.Decimal, error) {
	s, err := c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt balance at %s: %w", key, err)
	}
	return v, nil
}

// --- Key helpers ---

func assetBalanceKey(ref, owner string) string {
	return fmt.Sprintf("custody:asset:%s:balance:%s", ref, owner)
}

func allowanceKey(ref, owner, spender string) string {
	return fmt.Sprintf("custody:asset:%s:allowance:%s:%s", ref, owner, spender)
}

func nativeBalanceKey(owner string) string {
	return fmt.Sprintf("custody:native:balance:%s", owner)
}
