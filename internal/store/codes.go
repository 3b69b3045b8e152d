package store

import (
	"fmt"
	"strconv"
	"strings"
)

// NextCode returns prefix followed by the zero-padded successor of the
// highest numeric suffix among existing codes that start with prefix
// (case-insensitive). Codes whose suffix is not all digits are ignored.
// The digit count grows past width when the sequence overflows it.
func NextCode(prefix string, width int, existing []string) string {
	if width <= 0 {
		width = 3
	}
	var max uint64
	lp := strings.ToLower(prefix)
	for _, code := range existing {
		code = strings.TrimSpace(code)
		if len(code) <= len(prefix) || !strings.HasPrefix(strings.ToLower(code), lp) {
			continue
		}
		n, err := strconv.ParseUint(code[len(prefix):], 10, 64)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return fmt.Sprintf("%s%0*d", prefix, width, max+1)
}
