// Package match decides whether a message body contains the tracked token.
//
// The matcher is shared by live ingestion and history resync so that both
// paths agree on every text.
package match

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/dlclark/regexp2"
)

// DefaultToken is the word tallied when none is configured.
const DefaultToken = "po"

const matchTimeout = 250 * time.Millisecond

// ErrInvalidToken is returned for empty or multi-word tokens.
var ErrInvalidToken = errors.New("invalid token")

// Matcher is a whole-word, case-insensitive token predicate.
// It is safe for concurrent use.
type Matcher struct {
	token string
	re    *regexp2.Regexp
}

// New compiles a matcher for token. Word boundaries are Unicode-aware, so
// "poster" and "épo" do not match "po" while "Po!" and "PO" do.
func New(token string) (*Matcher, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidToken)
	}
	for _, r := range token {
		if !isWordRune(r) {
			return nil, fmt.Errorf("%w: %q is not a single word", ErrInvalidToken, token)
		}
	}

	re, err := regexp2.Compile(`\b`+regexp2.Escape(token)+`\b`, regexp2.IgnoreCase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	re.MatchTimeout = matchTimeout
	return &Matcher{token: token, re: re}, nil
}

// MustNew is New that panics on error. Intended for tests and constants.
func MustNew(token string) *Matcher {
	m, err := New(token)
	if err != nil {
		panic(err)
	}
	return m
}

// Token returns the tracked word as configured.
func (m *Matcher) Token() string { return m.token }

// Matches reports whether text contains the token as a standalone word.
func (m *Matcher) Matches(text string) bool {
	if text == "" {
		return false
	}
	ok, err := m.re.MatchString(text)
	if err != nil {
		// only a match timeout can land here; treat pathological input as no match
		return false
	}
	return ok
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}
