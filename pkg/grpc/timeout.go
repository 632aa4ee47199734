package grpc

import (
	"fmt"
	"strconv"
	"time"

	"github.com/kcenon/network-system-sub003/pkg/errors"
)

// FormatTimeout renders d as a grpc-timeout header value. The value is
// always emitted in milliseconds ("<ms>m"), matching what a deadline
// computed at send time naturally yields.
func FormatTimeout(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%dm", d.Milliseconds())
}

// ParseTimeout parses a grpc-timeout header value of the form
// "<n><unit>" where unit is one of H, M, S, m, u, n (hours, minutes,
// seconds, milliseconds, microseconds, nanoseconds).
func ParseTimeout(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, errors.NewValidationError("grpc-timeout value too short: " + s)
	}
	unit := s[len(s)-1]
	n, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
	if err != nil {
		return 0, errors.NewValidationError("invalid grpc-timeout value: " + s)
	}

	switch unit {
	case 'H':
		return time.Duration(n) * time.Hour, nil
	case 'M':
		return time.Duration(n) * time.Minute, nil
	case 'S':
		return time.Duration(n) * time.Second, nil
	case 'm':
		return time.Duration(n) * time.Millisecond, nil
	case 'u':
		return time.Duration(n) * time.Microsecond, nil
	case 'n':
		return time.Duration(n) * time.Nanosecond, nil
	default:
		return 0, errors.NewValidationError("unknown grpc-timeout unit: " + string(unit))
	}
}
