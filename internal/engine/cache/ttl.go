package cache

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Expiry bounds, in seconds.
const (
	// DefaultTTLSeconds is how long a query result stays cached.
	DefaultTTLSeconds = 3600
	DefaultTTL        = DefaultTTLSeconds * time.Second

	MinTTLSeconds = 60
	MaxTTLSeconds = 7 * 24 * 3600
)

// ErrInvalidTTL is returned for an expiry outside [MinTTLSeconds, MaxTTLSeconds]
// or one that cannot be parsed.
var ErrInvalidTTL = errors.New("invalid cache TTL")

// ValidateTTL checks a configured expiry in seconds.
func ValidateTTL(seconds int) error {
	if seconds < MinTTLSeconds || seconds > MaxTTLSeconds {
		return fmt.Errorf("%w: %ds is outside %ds..%ds", ErrInvalidTTL, seconds, MinTTLSeconds, MaxTTLSeconds)
	}
	return nil
}

// ParseTTL accepts whole seconds ("3600") or a Go duration ("1h", "90m")
// and returns validated seconds.
func ParseTTL(s string) (int, error) {
	s = strings.TrimSpace(s)
	seconds, err := strconv.Atoi(s)
	if err != nil {
		d, durErr := time.ParseDuration(s)
		if durErr != nil {
			return 0, fmt.Errorf("%w: %q is neither seconds nor a duration", ErrInvalidTTL, s)
		}
		seconds = int(d / time.Second)
	}
	if err = ValidateTTL(seconds); err != nil {
		return 0, err
	}
	return seconds, nil
}

var durationUnits = []struct {
	size   time.Duration
	suffix string
}{
	{24 * time.Hour, "d"},
	{time.Hour, "h"},
	{time.Minute, "m"},
	{time.Second, "s"},
}

// FormatDuration renders d in at most two adjacent units, largest first:
// "30s", "1h", "2h30m", "3d2h".
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Second {
		return "0s"
	}

	var b strings.Builder
	parts := 0
	for _, u := range durationUnits {
		n := d / u.size
		if n == 0 && parts == 0 {
			continue
		}
		if n == 0 || parts == 2 {
			break
		}
		fmt.Fprintf(&b, "%d%s", n, u.suffix)
		d -= n * u.size
		parts++
	}
	return b.String()
}
