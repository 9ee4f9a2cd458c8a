// Package protocol implements the ASCII line protocol shared with the
// host: checksum framing, sequence-number suffixes, timestamp and
// boolean field encoding, and version compatibility checks.
package protocol

import (
	"fmt"
	"strings"
)

// Checksum computes the line checksum: each character code is summed,
// weighted 1 at even indexes and 3 at odd indexes, modulo 65536. The
// result is rendered as lowercase hex without padding.
func Checksum(line string) string {
	sum := 0
	for i := 0; i < len(line); i++ {
		if i%2 == 0 {
			sum += int(line[i])
		} else {
			sum += int(line[i]) * 3
		}
	}
	return fmt.Sprintf("%x", sum%65536)
}

// AddChecksum appends the checksum suffix to a line.
func AddChecksum(line string) string {
	return line + "|" + Checksum(line)
}

// StripChecksum removes the checksum suffix, if any.
func StripChecksum(line string) string {
	if i := strings.IndexByte(line, '|'); i >= 0 {
		return line[:i]
	}
	return line
}

// ValidateChecksum reports whether the line carries a checksum suffix
// that matches its payload. A missing suffix fails validation.
func ValidateChecksum(line string) bool {
	i := strings.IndexByte(line, '|')
	if i < 0 {
		return false
	}
	payload := line[:i]
	rest := line[i+1:]
	// Tolerate trailing fields after the checksum, as split does.
	if j := strings.IndexByte(rest, '|'); j >= 0 {
		rest = rest[:j]
	}
	return rest == Checksum(payload)
}

// StripSequence removes a trailing "[n]" message counter, if present.
func StripSequence(line string) string {
	if i := strings.LastIndexByte(line, '['); i >= 0 {
		return strings.TrimSpace(line[:i])
	}
	return line
}
