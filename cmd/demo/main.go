// Command demo runs one auction end to end against in-memory custody and a
// simulated clock: mint, approve, list, wait, buy, and print balances.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/atmx/dutch-engine/internal/auction"
	"github.com/atmx/dutch-engine/internal/custody"
	"github.com/atmx/dutch-engine/internal/model"
	"github.com/atmx/dutch-engine/internal/notify"
	"github.com/atmx/dutch-engine/internal/store"
)

const (
	escrowAccount = "0x000000000000000000000000000000000000e5c0"
	tokenAddress  = "0x000000000000000000000000000000000000a55e"
	sellerAccount = "0x00000000000000000000000000000000000005e1"
	buyerAccount  = "0x0000000000000000000000000000000000000b0b"
)

func main() {
	amount := flag.String("amount", "100", "asset units to list")
	startPrice := flag.String("start-price", "1", "starting price in native currency")
	endPrice := flag.String("end-price", "0.5", "floor price in native currency")
	duration := flag.Duration("duration", time.Hour, "decay duration")
	wait := flag.Duration("wait", 30*time.Minute, "simulated time before the buyer purchases")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	if err := run(context.Background(), *amount, *startPrice, *endPrice, *duration, *wait); err != nil {
		fmt.Fprintf(os.Stderr, "demo failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, amountS, startS, endS string, duration, wait time.Duration) error {
	amount, err := decimal.NewFromString(amountS)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	start, err := decimal.NewFromString(startS)
	if err != nil {
		return fmt.Errorf("start price: %w", err)
	}
	end, err := decimal.NewFromString(endS)
	if err != nil {
		return fmt.Errorf("end price: %w", err)
	}

	clock := clockwork.NewFakeClockAt(time.Now().UTC().Truncate(time.Second))
	ledger := custody.NewMemoryLedger(escrowAccount, tokenAddress)
	registry, err := auction.NewRegistry(store.NewMemoryStore(), ledger, ledger.Payments(),
		auction.Config{Escrow: escrowAccount},
		auction.WithClock(clock),
		auction.WithNotifier(notify.Func(func(_ context.Context, ev model.Event) error {
			fmt.Printf("  event %-18s auction=%d price=%s\n", ev.Type, ev.AuctionID, ev.Price)
			return nil
		})),
	)
	if err != nil {
		return err
	}

	// Fund the participants.
	if err := ledger.Mint(ctx, tokenAddress, sellerAccount, amount); err != nil {
		return err
	}
	if err := ledger.Approve(ctx, tokenAddress, sellerAccount, escrowAccount, amount); err != nil {
		return err
	}
	if err := ledger.Credit(ctx, buyerAccount, start); err != nil {
		return err
	}
	fmt.Printf("minted %s tokens to seller %s and approved escrow %s\n", amount, sellerAccount, escrowAccount)

	a, err := registry.CreateAuction(ctx, sellerAccount, auction.CreateParams{
		AssetRef:    tokenAddress,
		AssetAmount: amount,
		StartPrice:  start,
		EndPrice:    end,
		Duration:    int64(duration / time.Second),
	})
	if err != nil {
		return fmt.Errorf("create auction: %w", err)
	}
	fmt.Printf("auction %d listed: %s -> %s over %s\n", a.ID, start, end, duration)

	clock.Advance(wait)
	price, err := registry.CurrentPrice(ctx, a.ID)
	if err != nil {
		return err
	}
	fmt.Printf("after %s the price is %s\n", wait, price)

	s, err := registry.Buy(ctx, a.ID, buyerAccount, price)
	if err != nil {
		return fmt.Errorf("buy: %w", err)
	}
	fmt.Printf("buyer %s paid %s for %s tokens\n", s.Buyer, s.Price, s.AssetAmount)

	for _, acct := range []struct{ name, addr string }{
		{"seller", sellerAccount},
		{"buyer", buyerAccount},
		{"escrow", escrowAccount},
	} {
		tokens, err := ledger.AssetBalance(ctx, tokenAddress, acct.addr)
		if err != nil {
			return err
		}
		native, err := ledger.NativeBalance(ctx, acct.addr)
		if err != nil {
			return err
		}
		fmt.Printf("  %-6s tokens=%s native=%s\n", acct.name, tokens, native)
	}
	return nil
}
