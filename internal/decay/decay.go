// Package decay implements the reverse Dutch price schedule: a price that
// starts high and falls linearly to a floor over a fixed duration.
//
// The schedule is stateless. Elapsed time is passed in, so the same schedule
// answers for any instant and is trivially deterministic under a fake clock.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Division is floored at PriceScale decimal places, so the discount is rounded
// down and the price never drops below the exact linear value.
package decay

import (
	"errors"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidPrices is returned when start <= end or end < 0.
	ErrInvalidPrices = errors.New("decay: start price must exceed a non-negative end price")

	// ErrInvalidDuration is returned when duration <= 0 or above MaxDuration.
	ErrInvalidDuration = errors.New("decay: duration must be positive and at most MaxDuration")

	// ErrPrecision is returned when a price carries more than PriceScale
	// decimal places.
	ErrPrecision = errors.New("decay: price exceeds supported precision")

	// PriceScale is the number of decimal places prices are carried at.
	// 18 matches the base unit of most native currencies (wei).
	PriceScale int32 = 18
)

// MaxDuration is the longest schedule in seconds: the end time of any
// schedule must be representable as a time.Duration offset.
const MaxDuration = math.MaxInt64 / int64(time.Second)

// Schedule is a linear price decay from Start to End over Duration seconds.
type Schedule struct {
	start    decimal.Decimal
	end      decimal.Decimal
	duration int64
}

// NewSchedule validates the parameters and builds a schedule.
func NewSchedule(start, end decimal.Decimal, duration int64) (*Schedule, error) {
	if end.IsNegative() || start.LessThanOrEqual(end) {
		return nil, ErrInvalidPrices
	}
	if duration <= 0 || duration > MaxDuration {
		return nil, ErrInvalidDuration
	}
	if !fitsScale(start) || !fitsScale(end) {
		return nil, ErrPrecision
	}
	return &Schedule{start: start, end: end, duration: duration}, nil
}

// Start returns the opening price.
func (s *Schedule) Start() decimal.Decimal { return s.start }

// End returns the floor price.
func (s *Schedule) End() decimal.Decimal { return s.end }

// Duration returns the decay length in seconds.
func (s *Schedule) Duration() int64 { return s.duration }

// PriceAt returns the price after elapsed seconds.
//
//	elapsed  = clamp(elapsed, 0, duration)
//	discount = floor((start - end) * elapsed / duration)
//	price    = start - discount
//
// At elapsed <= 0 the result is exactly start; at elapsed >= duration it is
// exactly end. For any elapsed in between, end < price <= start.
func (s *Schedule) PriceAt(elapsed int64) decimal.Decimal {
	if elapsed <= 0 {
		return s.start
	}
	if elapsed >= s.duration {
		return s.end
	}
	return s.start.Sub(s.Discount(elapsed))
}

// Discount returns how far the price has fallen after elapsed seconds,
// floored at PriceScale. elapsed must already be inside [0, duration].
func (s *Schedule) Discount(elapsed int64) decimal.Decimal {
	drop := s.start.Sub(s.end).Mul(decimal.NewFromInt(elapsed))
	// For non-negative operands QuoRem truncates, which is a floor.
	q, _ := drop.QuoRem(decimal.NewFromInt(s.duration), PriceScale)
	return q
}

// PriceAtTime evaluates the schedule for an auction that started at start,
// observed at now.
func (s *Schedule) PriceAtTime(start, now time.Time) decimal.Decimal {
	return s.PriceAt(Elapsed(start, now))
}

// Elapsed returns whole seconds between start and now. Sub-second remainders
// are dropped and instants before start count as zero.
func Elapsed(start, now time.Time) int64 {
	if !now.After(start) {
		return 0
	}
	return int64(now.Sub(start) / time.Second)
}

// fitsScale reports whether d has at most PriceScale decimal places.
func fitsScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(PriceScale))
}
