package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/dutch-engine/internal/metrics"
	"github.com/atmx/dutch-engine/internal/model"
)

// callKey marks a context as already inside a registry call.
type callKey struct{}

// enter serializes a mutating call. A context already carrying this
// registry's marker belongs to a collaborator calling back on the same call
// chain; it proceeds without taking the lock, which the outer call holds.
// Such a context must not be handed to other goroutines.
func (r *Registry) enter(ctx context.Context) (context.Context, func()) {
	if owner, _ := ctx.Value(callKey{}).(*Registry); owner == r {
		return ctx, func() {}
	}
	r.mu.Lock()
	return context.WithValue(ctx, callKey{}, r), r.mu.Unlock
}

// transact runs fn as one serialized registry call, records its outcome and
// publishes the event fn returns once the call has committed.
func (r *Registry) transact(ctx context.Context, op string, fn func(ctx context.Context) (*model.Event, error)) error {
	start := time.Now()

	ev, err := func() (*model.Event, error) {
		ctx, exit := r.enter(ctx)
		defer exit()
		return fn(ctx)
	}()

	metrics.OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Rejections.WithLabelValues(op, reason(err)).Inc()
		slog.Warn("auction call rejected", "op", op, "err", err)
		return err
	}

	if ev != nil {
		ev.EventID = uuid.New().String()
		ev.Timestamp = r.clock.Now().UTC()
		if perr := r.notifier.Notify(ctx, *ev); perr != nil {
			metrics.EventPublishFailures.Inc()
			slog.Warn("event publish failed",
				"type", ev.Type,
				"auction_id", ev.AuctionID,
				"err", perr,
			)
		}
	}
	return nil
}

// reason maps an error to a low-cardinality metric label.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAuctionParameters):
		return "invalid_parameters"
	case errors.Is(err, ErrAuctionNotFound):
		return "not_found"
	case errors.Is(err, ErrAuctionNotActive):
		return "not_active"
	case errors.Is(err, ErrInsufficientPayment):
		return "insufficient_payment"
	case errors.Is(err, ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, ErrEscrowTransferFailed):
		return "escrow_transfer"
	case errors.Is(err, ErrPaymentTransferFailed):
		return "payment_transfer"
	default:
		return "internal"
	}
}

// journal records compensating actions for the steps a call has committed
// so far.
type journal struct {
	steps []undoStep
}

type undoStep struct {
	name string
	fn   func(ctx context.Context) error
}

func (j *journal) push(name string, fn func(ctx context.Context) error) {
	j.steps = append(j.steps, undoStep{name: name, fn: fn})
}

// rollback applies the recorded compensations in reverse order and returns
// cause. Compensation runs even if ctx is already cancelled. Failed steps are
// joined onto cause so that callers still match on it.
func (j *journal) rollback(ctx context.Context, cause error) error {
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for i := len(j.steps) - 1; i >= 0; i-- {
		step := j.steps[i]
		if err := step.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
		}
	}
	j.steps = nil

	if len(errs) == 0 {
		return cause
	}
	metrics.RollbackFailures.Inc()
	rbErr := errors.Join(errs...)
	slog.Error("rollback incomplete, manual reconciliation required",
		"cause", cause,
		"err", rbErr,
	)
	return errors.Join(cause, fmt.Errorf("rollback: %w", rbErr))
}
