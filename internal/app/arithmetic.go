package app

import (
	"fmt"
	"math"
)

// addInt64AndU64Checked guards deadline math against overflow. what names the
// quantity for the error message.
func addInt64AndU64Checked(base int64, add uint64, what string) (int64, error) {
	if add > math.MaxInt64 {
		return 0, fmt.Errorf("%s overflows int64: add=%d", what, add)
	}
	if base > math.MaxInt64-int64(add) {
		return 0, fmt.Errorf("%s overflows int64: base=%d add=%d", what, base, add)
	}
	return base + int64(add), nil
}

// mulU64Checked multiplies two uint64s, failing on overflow.
func mulU64Checked(a, b uint64, what string) (uint64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	if a > math.MaxUint64/b {
		return 0, fmt.Errorf("%s overflows uint64: %d*%d", what, a, b)
	}
	return a * b, nil
}
