package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration-valued fields (scan.interval, scan.notify_timeout, provider.timeout,
// telegram.poll_timeout, storage.busy_timeout) are Go duration strings in the
// config file. The path argument names the field in error messages, e.g.
// "scan.interval: invalid duration "60x"".

// ParseDurationField parses one duration field. An empty or blank value is
// zero, not an error; callers decide whether zero means "use the default".
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

// ParseDurationOrDefault is ParseDurationField with a fallback for omitted
// fields, backing the XxxDuration accessors on the config sections.
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
