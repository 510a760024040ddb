package dialect

import (
	"math"
	"strconv"
)

// FormatNumber renders a numeric literal without exponent notation.
func FormatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
