// Package notify delivers informational auction events to external
// observers. Delivery is best effort: a failed publish is reported to the
// caller for logging but never changes the outcome of the registry call
// that produced the event.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/atmx/dutch-engine/internal/model"
)

// Notifier publishes one event.
type Notifier interface {
	Notify(ctx context.Context, ev model.Event) error
}

// Func adapts a plain function to Notifier.
type Func func(ctx context.Context, ev model.Event) error

func (f Func) Notify(ctx context.Context, ev model.Event) error { return f(ctx, ev) }

// Multi fans an event out to every notifier in order. All notifiers are
// attempted even if an earlier one fails; the failures are joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev model.Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes each event to a structured logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(ctx context.Context, ev model.Event) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "auction event",
		"type", ev.Type,
		"auction_id", ev.AuctionID,
		"seller", ev.Seller,
		"buyer", ev.Buyer,
		"asset_ref", ev.AssetRef,
		"asset_amount", ev.AssetAmount.String(),
		"price", ev.Price.String(),
	)
	return nil
}

// Nop discards events.
type Nop struct{}

func (Nop) Notify(context.Context, model.Event) error { return nil }
