// Package address parses and normalizes account and asset identifiers.
//
// Accounts (sellers, buyers, administrators, the escrow account) and asset
// references share one format: "0x" followed by 40 hex characters. Parsed
// values are lowercased so that two spellings of the same address compare
// equal.
package address

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Zero is the all-zero address. It is never a valid counterparty.
const Zero = "0x0000000000000000000000000000000000000000"

// addressRegex matches: 0x{40 hex chars}, either case.
var addressRegex = regexp.MustCompile(`^0[xX]([0-9a-fA-F]{40})$`)

var (
	ErrInvalidAddress = errors.New("address: invalid format")
	ErrZeroAddress    = errors.New("address: zero address not allowed")
)

// Parse validates s and returns its canonical lowercase form.
func Parse(s string) (string, error) {
	matches := addressRegex.FindStringSubmatch(strings.TrimSpace(s))
	if matches == nil {
		return "", fmt.Errorf("%w: %q (expected 0x followed by 40 hex characters)",
			ErrInvalidAddress, s)
	}
	canonical := "0x" + strings.ToLower(matches[1])
	if canonical == Zero {
		return "", ErrZeroAddress
	}
	return canonical, nil
}

// MustParse is Parse for constants and tests; it panics on invalid input.
func MustParse(s string) string {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// ParseAll parses every entry, stopping at the first invalid one.
func ParseAll(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, s := range in {
		a, err := Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Equal reports whether a and b name the same address.
func Equal(a, b string) bool {
	return strings.EqualFold(a, b)
}
