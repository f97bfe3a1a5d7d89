package units

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Seconds per router duration unit.
const (
	SecondsPerWeek   int64 = 604800
	SecondsPerDay    int64 = 86400
	SecondsPerHour   int64 = 3600
	SecondsPerMinute int64 = 60
)

// ZeroDuration is what FormatDuration returns for non-positive input.
const ZeroDuration = "0s"

// SentinelMarker prefixes template variables the hosting page failed to substitute.
const SentinelMarker = "$"

var durationToken = regexp.MustCompile(`(\d+)([wdhms])`)

// unitOrder is the canonical descending order used when formatting seconds.
var unitOrder = []struct {
	unit   string
	weight int64
}{
	{"w", SecondsPerWeek},
	{"d", SecondsPerDay},
	{"h", SecondsPerHour},
	{"m", SecondsPerMinute},
	{"s", 1},
}

// Labels resolves display labels for dotted keys such as "time.h".
type Labels interface {
	Lookup(key string) (string, bool)
}

// IsSentinel reports whether s is an unsubstituted template placeholder.
func IsSentinel(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), SentinelMarker)
}

// Clean trims s and maps sentinel values to the empty string.
func Clean(s string) string {
	s = strings.TrimSpace(s)
	if IsSentinel(s) {
		return ""
	}
	return s
}

type durationPart struct {
	value int64
	unit  string
}

// scanDuration returns every (digits)(unit) token of s in input order.
// Tokens whose magnitude does not fit in an int64 are dropped.
func scanDuration(s string) []durationPart {
	normalized := strings.Join(strings.Fields(strings.ToLower(s)), "")
	matches := durationToken.FindAllStringSubmatch(normalized, -1)

	parts := make([]durationPart, 0, len(matches))
	for _, m := range matches {
		v, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		parts = append(parts, durationPart{value: v, unit: m[2]})
	}
	return parts
}

// ParseDuration converts a router duration string such as "1w6d20h56m25s"
// into seconds. Tokens may appear in any order and whitespace between them
// is ignored. Empty, "-" and sentinel input yields 0; text that is not a
// token contributes nothing, and tokens that would overflow are skipped.
func ParseDuration(s string) int64 {
	s = Clean(s)
	if s == "" || s == "-" {
		return 0
	}

	var total int64
	for _, p := range scanDuration(s) {
		w := unitWeight(p.unit)
		if w == 0 || p.value > math.MaxInt64/w {
			continue
		}
		v := p.value * w
		if total > math.MaxInt64-v {
			continue
		}
		total += v
	}
	return total
}

// FormatDuration renders seconds greedily from weeks down to seconds,
// skipping zero components. Non-positive input returns ZeroDuration.
func FormatDuration(seconds int64, labels Labels) string {
	if seconds <= 0 {
		return ZeroDuration
	}

	parts := make([]string, 0, len(unitOrder))
	remaining := seconds
	for _, u := range unitOrder {
		n := remaining / u.weight
		remaining %= u.weight
		if n > 0 {
			parts = append(parts, strconv.FormatInt(n, 10)+" "+UnitLabel(labels, u.unit))
		}
	}
	return strings.Join(parts, " ")
}

// FormatLabeled renders a raw router duration string with resolved unit
// labels, keeping the tokens in the order they appear in s. Empty or "-"
// input returns "-"; input without any token is returned unchanged.
func FormatLabeled(s string, labels Labels) string {
	if strings.TrimSpace(s) == "" || strings.TrimSpace(s) == "-" {
		return "-"
	}

	tokens := scanDuration(s)
	if len(tokens) == 0 {
		return s
	}

	parts := make([]string, 0, len(tokens))
	for _, p := range tokens {
		parts = append(parts, strconv.FormatInt(p.value, 10)+" "+UnitLabel(labels, p.unit))
	}
	return strings.Join(parts, " ")
}

// UnitLabel resolves the display label for a unit letter, falling back to
// the letter itself.
func UnitLabel(labels Labels, unit string) string {
	if labels == nil {
		return unit
	}
	if label, ok := labels.Lookup("time." + unit); ok && label != "" {
		return label
	}
	return unit
}

func unitWeight(unit string) int64 {
	for _, u := range unitOrder {
		if u.unit == unit {
			return u.weight
		}
	}
	return 0
}
