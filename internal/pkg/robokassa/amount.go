package robokassa

import (
	"fmt"
	"math/big"
)

// ParseAmount parses a decimal money string exactly, with no float rounding
func ParseAmount(raw string) (*big.Rat, error) {
	amount, ok := new(big.Rat).SetString(raw)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

// AmountsEqual compares amounts numerically, ignoring scale ("100.10" == "100.100000")
func AmountsEqual(expected, actual *big.Rat) bool {
	return expected.Cmp(actual) == 0
}
