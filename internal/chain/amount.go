package chain

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidAmount is returned for amounts that are empty, negative, not
// decimal, carry more fractional digits than the token supports, or exceed
// the storable range.
var ErrInvalidAmount = errors.New("invalid amount")

// maxBaseUnits caps amounts at the int64 range. Amounts are persisted in
// sqlite INTEGER columns, which hold signed 64-bit values.
const maxBaseUnits = uint64(math.MaxInt64)

// ToBaseUnits converts a decimal amount string (e.g. "12.5") to the token's
// smallest unit given its fixed decimal count. The conversion is exact; any
// excess fractional digits are an error rather than a silent truncation.
func ToBaseUnits(amount string, decimals uint8) (uint64, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" || strings.HasPrefix(amount, "-") || strings.HasPrefix(amount, "+") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}

	whole, frac, _ := strings.Cut(amount, ".")
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > int(decimals) {
		return 0, fmt.Errorf("%w: %q has more than %d decimal places", ErrInvalidAmount, amount, decimals)
	}
	frac += strings.Repeat("0", int(decimals)-len(frac))

	var out uint64
	for _, digits := range []string{whole, frac} {
		for _, c := range digits {
			if c < '0' || c > '9' {
				return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
			}
			d := uint64(c - '0')
			if out > (maxBaseUnits-d)/10 {
				return 0, fmt.Errorf("%w: %q overflows", ErrInvalidAmount, amount)
			}
			out = out*10 + d
		}
	}
	return out, nil
}

// FromBaseUnits renders a base-unit amount as a decimal string.
func FromBaseUnits(amount uint64, decimals uint8) string {
	if decimals == 0 {
		return fmt.Sprintf("%d", amount)
	}
	div := uint64(1)
	for i := uint8(0); i < decimals; i++ {
		div *= 10
	}
	whole := amount / div
	frac := amount % div
	if frac == 0 {
		return fmt.Sprintf("%d", whole)
	}
	s := fmt.Sprintf("%d.%0*d", whole, decimals, frac)
	return strings.TrimRight(s, "0")
}
