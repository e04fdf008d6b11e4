package state

import (
	"fmt"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func benchInput(i int) Input {
	return Input{
		Path:    fmt.Sprintf("/mail/box-%d.mbox", i),
		Size:    int64(i * 1024),
		ModTime: time.Unix(1700000000+int64(i), 0),
	}
}

// BenchmarkFileTracker_MarkArchived benchmarks the journal write performance
func BenchmarkFileTracker_MarkArchived(b *testing.B) {
	tracker, err := NewFileTracker(afero.NewOsFs(), b.TempDir())
	if err != nil {
		b.Fatal(err)
	}
	defer tracker.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := tracker.MarkArchived(benchInput(i), "new mails: 1"); err != nil {
			b.Fatal(err)
		}
	}
	b.StopTimer()

	if err := tracker.Close(); err != nil {
		b.Fatal(err)
	}
}

// BenchmarkFileTracker_AlreadyArchived benchmarks lookup performance
func BenchmarkFileTracker_AlreadyArchived(b *testing.B) {
	tracker, err := NewFileTracker(afero.NewMemMapFs(), "/state")
	if err != nil {
		b.Fatal(err)
	}
	defer tracker.Close()

	for i := 0; i < 1000; i++ {
		if err := tracker.MarkArchived(benchInput(i), ""); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = tracker.AlreadyArchived(benchInput(i % 1000))
	}
}

// BenchmarkFileTracker_Load benchmarks the journal loading performance
func BenchmarkFileTracker_Load(b *testing.B) {
	fs := afero.NewMemMapFs()
	tracker, err := NewFileTracker(fs, "/state")
	if err != nil {
		b.Fatal(err)
	}
	for i := 0; i < 10000; i++ {
		if err := tracker.MarkArchived(benchInput(i), ""); err != nil {
			b.Fatal(err)
		}
	}
	if err := tracker.Close(); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tracker, err := NewFileTracker(fs, "/state")
		if err != nil {
			b.Fatal(err)
		}
		tracker.Close()
	}
}
