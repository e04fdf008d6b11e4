package mbox

import (
	"context"
	_ "embed"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/dhcgn/mbox-archive/filter"
	"github.com/dhcgn/mbox-archive/model"
)

//go:embed test_data/sample.mbox
var sampleMboxData []byte

const samplePath = "/mail/sample.mbox"

func sampleFs(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, samplePath, sampleMboxData, 0o644); err != nil {
		t.Fatalf("write sample mbox: %v", err)
	}
	return fs
}

func collect(t *testing.T, reader Reader) ([]model.Message, []error) {
	t.Helper()

	out := make(chan model.Envelope, 10)
	done := make(chan error, 1)
	go func() {
		done <- reader.Stream(context.Background(), out)
		close(out)
	}()

	var msgs []model.Message
	var errs []error
	for env := range out {
		if env.Err != nil {
			errs = append(errs, env.Err)
			continue
		}
		msgs = append(msgs, env.Message)
	}
	if err := <-done; err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	return msgs, errs
}

func TestStream(t *testing.T) {
	marker, err := filter.New(filter.Options{Header: filter.DefaultSpamHeader, Value: filter.DefaultSpamValue})
	if err != nil {
		t.Fatalf("filter.New() error = %v", err)
	}

	reader, err := NewReader(Options{Path: samplePath, Fs: sampleFs(t), Marker: marker}, nil)
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}

	msgs, errs := collect(t, reader)
	if len(errs) != 0 {
		t.Fatalf("unexpected stream errors: %v", errs)
	}
	if len(msgs) != 5 {
		t.Fatalf("Expected 5 messages, got %d", len(msgs))
	}

	for i, msg := range msgs {
		if msg.Index != i {
			t.Errorf("message %d has Index %d", i, msg.Index)
		}
		if msg.Source != samplePath {
			t.Errorf("message %d has Source %q", i, msg.Source)
		}
		if wantSpam := i == 2; msg.Spam != wantSpam {
			t.Errorf("message %d Spam = %v, want %v", i, msg.Spam, wantSpam)
		}
	}

	if !strings.Contains(string(msgs[1].Raw), "JVBERi0xLjQK") {
		t.Error("Expected the attachment payload in the raw bytes of message 1")
	}
	if strings.HasPrefix(string(msgs[0].Raw), "From ") {
		t.Error("Expected the mbox separator line to be stripped")
	}
}

func TestStreamWithoutMarker(t *testing.T) {
	reader, err := NewReader(Options{Path: samplePath, Fs: sampleFs(t)}, nil)
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}

	msgs, _ := collect(t, reader)
	for i, msg := range msgs {
		if msg.Spam {
			t.Errorf("message %d marked spam without a marker", i)
		}
	}
}

func TestStreamMissingFile(t *testing.T) {
	reader, err := NewReader(Options{Path: "/nope.mbox", Fs: afero.NewMemMapFs()}, nil)
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}
	out := make(chan model.Envelope, 1)
	if err := reader.Stream(context.Background(), out); err == nil {
		t.Fatal("Expected an error for a missing file")
	}
}

func TestStreamCanceled(t *testing.T) {
	reader, err := NewReader(Options{Path: samplePath, Fs: sampleFs(t)}, nil)
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := make(chan model.Envelope)
	if err := reader.Stream(ctx, out); err == nil {
		t.Fatal("Expected a canceled stream to return an error")
	}
}

func TestNewReaderEmptyPath(t *testing.T) {
	if _, err := NewReader(Options{Path: "  "}, nil); err == nil {
		t.Fatal("Expected an error for an empty path")
	}
}

func TestCountMessages(t *testing.T) {
	n, err := CountMessages(sampleFs(t), samplePath)
	if err != nil {
		t.Fatalf("CountMessages() error = %v", err)
	}
	if n != 5 {
		t.Errorf("CountMessages() = %d, want 5", n)
	}
}
