package domain

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxBriefSize bounds the brief accepted from any surface, in bytes.
var MaxBriefSize = 16 * 1024

var (
	ErrEmptyBrief    = errors.New("brief is empty")
	ErrBriefTooLarge = errors.New("brief exceeds maximum allowed size")
	ErrInvalidUTF8   = errors.New("brief contains invalid UTF-8 sequences")
)

// SanitizeBrief rejects oversized or malformed briefs and strips control
// characters other than newline, tab and carriage return. Surrounding space is trimmed.
func SanitizeBrief(s string) (string, error) {
	if len(s) > MaxBriefSize {
		return "", fmt.Errorf("%w: size=%d limit=%d", ErrBriefTooLarge, len(s), MaxBriefSize)
	}
	if !utf8.ValidString(s) {
		return "", ErrInvalidUTF8
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmptyBrief
	}
	return s, nil
}
