package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration-valued config fields (storage.busy_timeout, lottery.min_interval,
// lottery.max_interval) arrive as Go duration strings so operators can write
// "30m" or "120h" instead of nanosecond counts. An empty or blank value means
// unset.

// ParseDurationField parses raw, using path to name the offending field in
// errors. Unset yields zero; negative durations are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted for an
// unset field. Callers that treat zero as "keep the built-in" use this.
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
