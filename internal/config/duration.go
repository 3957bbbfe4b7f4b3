package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultScanDelay        = 250 * time.Millisecond
	DefaultRetryBase        = 500 * time.Millisecond
	DefaultRetryMaxDelay    = 15 * time.Second
	DefaultRetryMax         = 3
	DefaultPageSize         = 50
	DefaultProgressInterval = 10 * time.Second
)

// ParseDurationField parses an optional non-negative duration. Empty means 0.
// path is only used in error messages.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
