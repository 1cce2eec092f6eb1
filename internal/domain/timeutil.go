package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/relvacode/iso8601"
)

// apiTimeLayout is the layout openSenseMap accepts for from-date/to-date.
const apiTimeLayout = "2006-01-02T15:04:05.000Z"

// ParseAPITime parses an ISO-8601 API timestamp and normalizes it to UTC.
func ParseAPITime(s string) (time.Time, error) {
	t, err := iso8601.Parse([]byte(strings.TrimSpace(s)))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// FormatAPITime renders t in UTC with a "Z" suffix and millisecond precision.
func FormatAPITime(t time.Time) string {
	return t.UTC().Format(apiTimeLayout)
}

// ParseValue casts an API value to float64. The API sends strings but
// numbers are accepted too. NaN and infinities are rejected: the store
// requires a real value and the models cannot train on them.
func ParseValue(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return checkFinite(x)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("parse value %q: %w", x, err)
		}
		return checkFinite(f)
	case nil:
		return 0, errors.New("missing value")
	default:
		return 0, fmt.Errorf("unsupported value type %T", v)
	}
}

// IsFinite reports whether v is neither NaN nor an infinity.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func checkFinite(v float64) (float64, error) {
	if !IsFinite(v) {
		return 0, fmt.Errorf("non-finite value %v", v)
	}
	return v, nil
}
