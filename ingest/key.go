package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dhcgn/mbox-archive/model"
)

// KeyScheme selects how the identity string of an email is built.
type KeyScheme string

const (
	// KeySchemeLegacy concatenates the fields without separators. Keys match
	// archives written by earlier versions of the tool.
	KeySchemeLegacy KeyScheme = "legacy"
	// KeySchemeDelimited separates fields and addresses so that distinct
	// address sets can never produce the same identity string.
	KeySchemeDelimited KeyScheme = "delimited"
)

// ParseKeyScheme validates a scheme name. The empty string selects legacy.
func ParseKeyScheme(s string) (KeyScheme, error) {
	switch KeyScheme(strings.ToLower(strings.TrimSpace(s))) {
	case "", KeySchemeLegacy:
		return KeySchemeLegacy, nil
	case KeySchemeDelimited:
		return KeySchemeDelimited, nil
	}
	return "", fmt.Errorf("unknown key scheme %q", s)
}

// IdentityKey derives the object id of an email from its date, sender and
// recipient addresses and subject. Addresses are sorted, so header order does
// not change the key.
func IdentityKey(sentAt time.Time, from, to []model.Address, subject string, scheme KeyScheme) string {
	var b strings.Builder
	if scheme == KeySchemeDelimited {
		b.WriteString(strconv.FormatInt(sentAt.Unix(), 10))
		b.WriteByte(0)
		b.WriteString(strings.Join(sortedEmails(from), "\x1f"))
		b.WriteByte(0)
		b.WriteString(strings.Join(sortedEmails(to), "\x1f"))
		b.WriteByte(0)
		b.WriteString(subject)
	} else {
		b.WriteString(timestampString(sentAt))
		b.WriteString(strings.Join(sortedEmails(from), ""))
		b.WriteString(strings.Join(sortedEmails(to), ""))
		b.WriteString(subject)
	}
	return hashHex([]byte(b.String()))
}

// ContentKey is the object id of an attachment: the digest of its bytes.
func ContentKey(data []byte) string {
	return hashHex(data)
}

// ShortKey returns the first n hex characters of the digest of s.
func ShortKey(s string, n int) string {
	h := hashHex([]byte(s))
	if n > len(h) {
		n = len(h)
	}
	return h[:n]
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sortedEmails(addrs []model.Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Email)
	}
	sort.Strings(out)
	return out
}

// timestampString renders Unix seconds the way earlier archives did: as a
// float with at least one fractional digit ("1000.0").
func timestampString(t time.Time) string {
	s := strconv.FormatFloat(float64(t.Unix()), 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
