package output

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var byteUnits = []string{"K", "M", "G", "T", "P", "E"}

// FormatBytes renders a byte count with two decimals and a binary unit,
// e.g. 12.00B, 1.00KB, 3.50MB.
func FormatBytes(n float64) string {
	if n < 1024 {
		return fmt.Sprintf("%.2fB", n)
	}
	exp := int(math.Log(n) / math.Log(1024))
	if exp > len(byteUnits) {
		exp = len(byteUnits)
	}
	return fmt.Sprintf("%.2f%sB", n/math.Pow(1024, float64(exp)), byteUnits[exp-1])
}

// FormatCount renders n with comma thousands separators.
func FormatCount(n int64) string {
	digits := strconv.FormatInt(n, 10)
	sign := ""
	if n < 0 {
		sign, digits = "-", digits[1:]
	}
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + b.String()
}

// FormatLatency renders a latency in milliseconds with two decimals.
func FormatLatency(d time.Duration) string {
	return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
}
