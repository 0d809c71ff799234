// Package extract recovers a structured object from free-form model output.
//
// Strategies are tried in a fixed order and the first one that yields a JSON
// object wins:
//
//  1. the contents of a fenced code block
//  2. the whole response
//  3. the span from the first '{' to the last '}'
//  4. that span with control characters and trailing commas removed
//  5. that span with unescaped quotes and raw newlines inside strings escaped
package extract

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// Strategy identifies which layer recovered the payload.
type Strategy int

const (
	None Strategy = iota
	Fenced
	Whole
	BraceSpan
	Repaired
	QuoteRepaired
)

func (s Strategy) String() string {
	switch s {
	case Fenced:
		return "fenced"
	case Whole:
		return "whole"
	case BraceSpan:
		return "brace_span"
	case Repaired:
		return "repaired"
	case QuoteRepaired:
		return "quote_repaired"
	}
	return "none"
}

// ErrNoObject is returned when no strategy produced a JSON object.
var ErrNoObject = errors.New("no JSON object found in response")

var (
	fenceRe         = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*[ \t]*\r?\n?(.*?)```")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// Object parses the first recoverable JSON object in text.
func Object(text string) (map[string]any, Strategy, error) {
	for _, m := range fenceRe.FindAllStringSubmatch(text, -1) {
		if obj, ok := decode(m[1]); ok {
			return obj, Fenced, nil
		}
	}

	if obj, ok := decode(text); ok {
		return obj, Whole, nil
	}

	span, ok := braceSpan(text)
	if !ok {
		return nil, None, ErrNoObject
	}
	if obj, ok := decode(span); ok {
		return obj, BraceSpan, nil
	}

	repaired := repair(span)
	if obj, ok := decode(repaired); ok {
		return obj, Repaired, nil
	}

	if obj, ok := decode(escapeQuotes(repaired)); ok {
		return obj, QuoteRepaired, nil
	}
	return nil, None, ErrNoObject
}

func decode(s string) (map[string]any, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func braceSpan(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// repair strips control characters other than layout whitespace and drops
// commas that directly precede a closing bracket.
func repair(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		if r == 0x7f {
			return -1
		}
		return r
	}, s)
	return trailingCommaRe.ReplaceAllString(s, "$1")
}

// escapeQuotes walks the text tracking string literals. A quote inside a
// string that is not followed by a structural character is treated as part
// of the value. Raw line breaks and tabs inside strings are escaped.
func escapeQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !inString {
			if c == '"' {
				inString = true
			}
			b.WriteByte(c)
			continue
		}
		if escaped {
			escaped = false
			b.WriteByte(c)
			continue
		}
		switch c {
		case '\\':
			escaped = true
			b.WriteByte(c)
		case '"':
			if closesString(s[i+1:]) {
				inString = false
				b.WriteByte(c)
			} else {
				b.WriteString(`\"`)
			}
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func closesString(rest string) bool {
	rest = strings.TrimLeft(rest, " \t\r\n")
	if rest == "" {
		return true
	}
	switch rest[0] {
	case ':', ',', '}', ']':
		return true
	}
	return false
}
