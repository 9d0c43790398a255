package vouchers

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// MaxSequence is the last number a year can issue in six digits.
const MaxSequence int64 = 999999

// ErrSequenceExhausted is returned once a year has issued MaxSequence numbers.
var ErrSequenceExhausted = errors.New("vouchers: sequence exhausted for year")

var numberPattern = regexp.MustCompile(`^JV-(\d{4})-(\d{6})$`)

// SequenceStore advances the per-year counter. Implementations must hold an
// exclusive lock on the year's row until the enclosing transaction ends, so
// same-year creators serialize and a rollback leaves no gap.
type SequenceStore interface {
	NextSequence(ctx context.Context, year int) (int64, error)
}

// FormatNumber renders JV-YYYY-NNNNNN. seq must be within 1..MaxSequence.
func FormatNumber(year int, seq int64) string {
	return fmt.Sprintf("JV-%04d-%06d", year, seq)
}

// ParseNumber splits a voucher number into its year and sequence.
func ParseNumber(number string) (int, int64, error) {
	m := numberPattern.FindStringSubmatch(number)
	if m == nil {
		return 0, 0, fmt.Errorf("vouchers: malformed number %q", number)
	}
	year, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, err
	}
	seq, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return year, seq, nil
}

// NextNumber issues the next voucher number for year inside the caller's
// transaction.
func NextNumber(ctx context.Context, store SequenceStore, year int) (string, error) {
	seq, err := store.NextSequence(ctx, year)
	if err != nil {
		return "", fmt.Errorf("vouchers: next sequence for %d: %w", year, err)
	}
	if seq <= 0 {
		return "", fmt.Errorf("vouchers: counter for %d returned %d", year, seq)
	}
	if seq > MaxSequence {
		return "", fmt.Errorf("%w %d", ErrSequenceExhausted, year)
	}
	return FormatNumber(year, seq), nil
}
