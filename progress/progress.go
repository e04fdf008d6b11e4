package progress

import (
	"context"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/mbox-archive/stats"
)

// Bar renders a terminal progress bar for one archive run.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	title   string
	total   int
	scanned int
	mu      sync.Mutex
	enabled bool
}

// New creates a progress bar over total messages. A disabled bar ignores
// every call.
func New(title string, total int, enabled bool) *Bar {
	bar := &Bar{
		title:   title,
		total:   total,
		enabled: enabled && total > 0,
	}

	if bar.enabled {
		pterm.Info.Printf("Messages in %s: %d\n", title, total)
		pb, _ := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Archiving " + title).
			Start()
		bar.pb = pb
	}

	return bar
}

// Update advances the bar for scanned messages and prints errors above it.
func (b *Bar) Update(evt stats.Event) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeScanned:
		b.scanned++
		b.pb.Increment()
	case stats.EventTypeError:
		if evt.Err != nil {
			pterm.Error.Printf("Error: %v\n", evt.Err)
		}
	}
}

// Scanned returns how many messages the bar has seen.
func (b *Bar) Scanned() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scanned
}

// Stop finalizes the progress bar.
func (b *Bar) Stop() {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}
	_, _ = b.pb.Stop()
}

// Subscriber is a stats subscriber that drives the bar.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	defer b.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}

// Attach subscribes the bar to stream when it is enabled.
func (b *Bar) Attach(stream stats.EventStream) {
	if b.enabled {
		stream.SubscribeStats("progress-bar", b.Subscriber)
	}
}

// PrintSummary renders the run summary as a pterm section.
func PrintSummary(summary stats.Summary, duration time.Duration) {
	pterm.Println()
	pterm.DefaultSection.Println("Summary")
	pterm.Info.Printf("Duration: %v\n", duration.Round(time.Millisecond))
	pterm.Info.Printf("Scanned: %d\n", summary.Scanned)
	pterm.Info.Printf("New mails: %d (already archived: %d)\n", summary.NewEmails, summary.DuplicateEmails)
	pterm.Info.Printf("New attachments: %d (already archived: %d, skipped: %d)\n",
		summary.NewAttachments, summary.DuplicateAttachments, summary.SkippedAttachments)
	pterm.Info.Printf("Spam: %d\n", summary.Spam)
	pterm.Info.Printf("Errors: %d\n", summary.Errors)
	if summary.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", summary.LastError)
	}
}
