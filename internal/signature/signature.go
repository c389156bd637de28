// Package signature turns hover text into a callable's display signature
// and splits that signature into parameter spans.
package signature

import (
	"errors"
	"strings"

	"github.com/alucardeht/dynmethod/internal/document"
)

var (
	ErrMalformedHoverText = errors.New("malformed hover text")
	ErrMalformedSignature = errors.New("malformed signature")
)

const (
	// hoverSignatureLine is the line of the rendered hover block carrying
	// the declaration; the blocks open with a blank line and a code fence.
	hoverSignatureLine = 2
	localFunctionMark  = "(local function)"
)

// Extract returns the text following the local-function marker on the
// signature line of hover text.
func Extract(hoverText string) (string, error) {
	lines := strings.Split(hoverText, "\n")
	if len(lines) <= hoverSignatureLine {
		return "", ErrMalformedHoverText
	}

	_, after, found := strings.Cut(lines[hoverSignatureLine], localFunctionMark)
	if !found {
		return "", ErrMalformedHoverText
	}

	text := strings.TrimSpace(after)
	if text == "" {
		return "", ErrMalformedHoverText
	}
	return text, nil
}

// Span is a half-open [Start, End) range in UTF-16 units of the label.
type Span struct {
	Start int
	End   int
}

type Signature struct {
	Label  string
	Params []Span
}

// Parse splits the leading parenthesised parameter list of text on its
// top-level commas. Each span covers one segment including its leading
// whitespace; offsets accumulate across the label.
func Parse(text string) (Signature, error) {
	sig := Signature{Label: text}
	if !strings.HasPrefix(text, "(") {
		return sig, ErrMalformedSignature
	}

	closing := matchingParen(text)
	if closing < 0 {
		return sig, ErrMalformedSignature
	}

	inner := text[1:closing]
	if strings.TrimSpace(inner) == "" {
		return sig, nil
	}

	start := 1
	for _, segment := range SplitTopLevel(inner) {
		width := document.UTF16Len(segment)
		sig.Params = append(sig.Params, Span{Start: start, End: start + width})
		start += width + 1
	}
	return sig, nil
}

func matchingParen(text string) int {
	depth := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// SplitTopLevel splits s on commas that are not nested in brackets, braces,
// parentheses, type-argument angles or string literals. An arrow's '>' does
// not close an angle.
func SplitTopLevel(s string) []string {
	var parts []string
	depth := 0
	last := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '(', '[', '{', '<':
			depth++
		case ')', ']', '}':
			depth--
		case '>':
			if i > 0 && s[i-1] == '=' {
				continue
			}
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[last:i])
				last = i + 1
			}
		}
	}
	return append(parts, s[last:])
}

// CountTopLevelCommas counts the commas of s outside any nesting, i.e. how
// many arguments of the enclosing call are already complete.
func CountTopLevelCommas(s string) int {
	return len(SplitTopLevel(s)) - 1
}
