package protocol

import (
	"fmt"
	"strings"
	"time"
)

// timeLayout is the 14-digit timestamp used in every protocol message.
const timeLayout = "20060102150405"

// FormatTime renders an epoch-seconds value as a YYYYMMDDHHMMSS string.
func FormatTime(sec int64) string {
	return time.Unix(sec, 0).UTC().Format(timeLayout)
}

// ParseTime parses a YYYYMMDDHHMMSS string into epoch seconds.
// Separator characters the host may insert (space, '.', '-', ':') are
// removed first.
func ParseTime(s string) (int64, error) {
	for _, sep := range []string{" ", ".", "-", ":"} {
		s = strings.ReplaceAll(s, sep, "")
	}
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("protocol: parse timestamp %q: %w", s, err)
	}
	return t.Unix(), nil
}

// FormatBool renders a boolean as the single-character code used on
// the wire.
func FormatBool(v bool) string {
	if v {
		return "y"
	}
	return "n"
}

// ParseBool parses a wire boolean ("y"/"n"/"true"/"false", any case),
// returning def when the field is unrecognised.
func ParseBool(s string, def bool) bool {
	switch strings.ToLower(s) {
	case "y", "true":
		return true
	case "n", "false":
		return false
	default:
		return def
	}
}

// IsNone reports whether a configuration field is the explicit "none"
// placeholder, meaning "leave the current value unchanged".
func IsNone(s string) bool {
	return strings.ToLower(s) == "none"
}
