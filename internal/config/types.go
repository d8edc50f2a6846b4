package config

import (
	"fmt"
	"strconv"
	"time"
)

// Duration is a time.Duration that reads from YAML and env vars. Besides
// Go duration strings ("90s", "5m") it accepts a bare number of seconds,
// which is how the platform passes request timeouts to tasks.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)
	var parsed time.Duration
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		parsed = time.Duration(secs * float64(time.Second))
	} else if parsed, err = time.ParseDuration(s); err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", s)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler. encoding/json uses it too.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

const redacted = "[REDACTED]"

// Secret holds the platform API token. It prints and marshals redacted so a
// dumped config or a logged struct never carries it; Value reads it.
type Secret string

func (s Secret) mask() string {
	if s == "" {
		return ""
	}
	return redacted
}

// String implements fmt.Stringer.
func (s Secret) String() string { return s.mask() }

// GoString implements fmt.GoStringer for %#v.
func (s Secret) GoString() string { return "Secret(" + redacted + ")" }

// MarshalText implements encoding.TextMarshaler, which encoding/json uses.
func (s Secret) MarshalText() ([]byte, error) { return []byte(s.mask()), nil }

// UnmarshalText implements encoding.TextUnmarshaler and keeps the raw value.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}

// Value returns the token itself.
func (s Secret) Value() string { return string(s) }

// IsSet reports whether a token was configured.
func (s Secret) IsSet() bool { return s != "" }
