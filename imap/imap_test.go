package imap

import (
	"testing"

	imapv2 "github.com/emersion/go-imap/v2"
)

func TestNewFetcherValidation(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"valid", Options{Host: "mail.example.com", Port: 993}, false},
		{"missing host", Options{Port: 993}, true},
		{"bad port", Options{Host: "mail.example.com"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFetcher(tt.opts, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewFetcher() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFetcherDefaults(t *testing.T) {
	f, err := NewFetcher(Options{Host: "mail.example.com", Port: 993}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if f.opts.Folder != DefaultFolder || f.opts.BatchSize != DefaultBatchSize {
		t.Errorf("defaults not applied: %+v", f.opts)
	}
}

func TestSource(t *testing.T) {
	f, err := NewFetcher(Options{Host: "mail.example.com", Port: 993, Username: "me@example.com", Folder: "Archive/2023"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := "imap://me%40example.com@mail.example.com:993/Archive/2023"
	if got := f.Source(); got != want {
		t.Errorf("Source() = %q, want %q", got, want)
	}
}

func TestIsJunk(t *testing.T) {
	tests := []struct {
		flags []imapv2.Flag
		want  bool
	}{
		{nil, false},
		{[]imapv2.Flag{imapv2.FlagSeen}, false},
		{[]imapv2.Flag{imapv2.FlagSeen, "$Junk"}, true},
		{[]imapv2.Flag{"$junk"}, true},
		{[]imapv2.Flag{"$NotJunk"}, false},
	}
	for _, tt := range tests {
		if got := isJunk(tt.flags); got != tt.want {
			t.Errorf("isJunk(%v) = %v, want %v", tt.flags, got, tt.want)
		}
	}
}

func TestBatches(t *testing.T) {
	uids := []imapv2.UID{1, 2, 3, 4, 5, 6, 7}
	got := batches(uids, 3)
	if len(got) != 3 {
		t.Fatalf("batches() returned %d batches, want 3", len(got))
	}
	if len(got[0]) != 3 || len(got[2]) != 1 || got[2][0] != 7 {
		t.Errorf("batches() = %v", got)
	}
	if got := batches(nil, 3); len(got) != 0 {
		t.Errorf("batches(nil) = %v, want none", got)
	}
}
