package units

import (
	"math"
	"strconv"
	"strings"
)

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB"}

// BytesToSize renders a byte count with the largest binary unit that keeps
// the magnitude at or above one, rounded half-up to a whole number.
func BytesToSize(b int64) string {
	if b == 0 {
		return "0 B"
	}

	abs := b
	if abs < 0 {
		abs = -abs
	}

	// floor(log1024(|b|)) without floating point error at exact powers.
	i := 0
	for i < len(sizeUnits)-1 && abs >= int64(1)<<(10*(i+1)) {
		i++
	}

	value := float64(b) / math.Pow(1024, float64(i))
	return strconv.FormatInt(int64(math.Floor(value+0.5)), 10) + " " + sizeUnits[i]
}

// ParseBytes reads an injected byte count that must be a plain integer.
// Sentinel, empty, formatted ("1.5 GB") and other non-numeric input yields 0.
func ParseBytes(s string) int64 {
	s = Clean(s)
	if s == "" {
		return 0
	}

	n, err := strconv.ParseInt(strings.TrimPrefix(s, "+"), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
