package filter

import (
	"testing"
)

// BenchmarkMarker_IsSpam_Header benchmarks the header marker lookup
func BenchmarkMarker_IsSpam_Header(b *testing.B) {
	m, err := New(Options{Header: DefaultSpamHeader, Value: DefaultSpamValue})
	if err != nil {
		b.Fatal(err)
	}

	raw := []byte("From: test@example.com\nTo: user@example.com\nSubject: Test\n\nThis is a test message body with some content.")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.IsSpam(raw)
	}
}

// BenchmarkMarker_IsSpam_Patterns benchmarks regex patterns on the header block
func BenchmarkMarker_IsSpam_Patterns(b *testing.B) {
	m, err := New(Options{
		Patterns: []string{`(?im)^X-Spam-Flag:\s*YES`, `(?im)^X-Spam-Status:\s*Yes`},
	})
	if err != nil {
		b.Fatal(err)
	}

	raw := []byte("From: test@example.com\nTo: user@example.com\nSubject: Test\n\nThis is a test message body with some content.")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.IsSpam(raw)
	}
}
