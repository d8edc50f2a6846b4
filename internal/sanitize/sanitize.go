package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

const (
	// MaxNameLength is the longest project or dataset name sent to the
	// platform.
	MaxNameLength = 255

	// HashSuffixLength is the length of the hash suffix added to truncated names.
	// Format: _<8-char-hash> = 9 characters total
	HashSuffixLength = 9

	// DefaultName is used when sanitization produces an empty result.
	DefaultName = "project"
)

// Name cleans a name derived from a file or directory so it is usable as a
// project name.
//
// Rules applied:
//   - Control characters and path separators become underscores
//   - Surrounding whitespace, dots and underscores are trimmed
//   - Names longer than MaxNameLength are truncated with a hash suffix
//   - Empty results become DefaultName
//
// Examples:
//
//	"lidar/run 1"  -> "lidar_run 1"
//	" .hidden. "   -> "hidden"
//	""             -> "project"
func Name(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '/' || r == '\\' || unicode.IsControl(r) {
			b.WriteRune('_')
			continue
		}
		b.WriteRune(r)
	}

	name := strings.Trim(strings.TrimSpace(b.String()), "._ ")
	if name == "" {
		return DefaultName
	}
	if len(name) > MaxNameLength {
		name = truncateWithHash(name)
	}
	return name
}

// truncateWithHash cuts s to fit MaxNameLength and appends a hash of the
// full string so distinct long names stay distinct.
func truncateWithHash(s string) string {
	hash := sha256.Sum256([]byte(s))
	suffix := "_" + hex.EncodeToString(hash[:])[:8]

	cut := MaxNameLength - HashSuffixLength
	// Do not split a multi-byte rune.
	for cut > 0 && !utf8RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimRight(s[:cut], "_ ") + suffix
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
