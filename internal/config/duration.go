package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var reDays = regexp.MustCompile(`^(-?[0-9]+)d`)

// Duration is a time.Duration that is read from and written as a string
// ("30s", "1d12h") in every config format.
type Duration time.Duration

// Std returns the standard library duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String formats the duration like time.Duration
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(b []byte) error {
	parsed, err := parseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	negative := false
	days := int64(0)

	if m := reDays.FindStringSubmatch(s); m != nil {
		days, _ = strconv.ParseInt(m[1], 10, 64)
		if days < 0 {
			negative = true
			days = -days
		}
		s = s[len(m[0]):]
	}

	var rest time.Duration
	if s != "" {
		var err error
		rest, err = time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
	}

	total := rest + time.Duration(days)*24*time.Hour
	if negative {
		total = -total
	}
	return total, nil
}
