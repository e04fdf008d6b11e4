// Package filter decides whether a raw message carries an upstream spam
// marker. It does not classify mail itself; it only reads what a mail
// provider already stamped on the message.
package filter

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/emersion/go-message/textproto"
)

const (
	DefaultSpamHeader = "X-Yandex-Spam"
	DefaultSpamValue  = "1"
)

// Options captures the spam marker configuration.
type Options struct {
	// Header and Value name a header that flags spam when it equals Value.
	// An empty Header disables the check.
	Header string
	Value  string
	// Patterns are regexes matched against the raw header block; any match
	// flags the message as spam.
	Patterns []string
}

// Marker holds the compiled spam marker rules.
type Marker struct {
	header   string
	value    string
	patterns []*regexp.Regexp
}

// New creates a Marker from the provided options.
func New(opts Options) (*Marker, error) {
	patterns, err := compilePatterns(opts.Patterns)
	if err != nil {
		return nil, fmt.Errorf("compile spam pattern: %w", err)
	}
	return &Marker{
		header:   strings.TrimSpace(opts.Header),
		value:    strings.TrimSpace(opts.Value),
		patterns: patterns,
	}, nil
}

// IsSpam reports whether raw carries the spam marker.
func (m *Marker) IsSpam(raw []byte) bool {
	header, _ := SplitRawMessage(raw)

	if m.header != "" {
		block := make([]byte, 0, len(header)+2)
		block = append(append(block, header...), '\n', '\n')
		h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(block)))
		if err == nil && strings.TrimSpace(h.Get(m.header)) == m.value {
			return true
		}
	}

	if len(m.patterns) > 0 {
		return matchAny(m.patterns, string(header))
	}
	return false
}

// SplitRawMessage splits a raw email message into header and body parts.
func SplitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}

	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}

	return raw, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
