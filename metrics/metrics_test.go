package metrics

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dhcgn/mbox-archive/stats"
)

func TestSubscriberCountsByType(t *testing.T) {
	rec := New("inbox.mbox")

	events := make(chan stats.Event, 8)
	events <- stats.Event{Type: stats.EventTypeNewEmail}
	events <- stats.Event{Type: stats.EventTypeNewEmail}
	events <- stats.Event{Type: stats.EventTypeSpam}
	close(events)

	if err := rec.Subscriber(context.Background(), events); err != nil {
		t.Fatalf("Subscriber() error = %v", err)
	}

	if got := testutil.ToFloat64(rec.events.WithLabelValues(string(stats.EventTypeNewEmail))); got != 2 {
		t.Errorf("new_email = %v, want 2", got)
	}
	if got := testutil.ToFloat64(rec.events.WithLabelValues(string(stats.EventTypeSpam))); got != 1 {
		t.Errorf("spam = %v, want 1", got)
	}
}

func TestWriteFile(t *testing.T) {
	rec := New("inbox.mbox")
	rec.events.WithLabelValues(string(stats.EventTypeScanned)).Add(3)
	rec.Finish(1500*time.Millisecond, errors.New("boom"))

	path := filepath.Join(t.TempDir(), "archive.prom")
	if err := rec.WriteFile(path); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	text := string(data)
	for _, want := range []string{
		`mbox_archive_events_total{source="inbox.mbox",type="scanned"} 3`,
		`mbox_archive_run_duration_seconds{source="inbox.mbox"} 1.5`,
		`mbox_archive_last_run_failed{source="inbox.mbox"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics file missing %q:\n%s", want, text)
		}
	}
}
