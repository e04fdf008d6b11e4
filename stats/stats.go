package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type Stage string

const (
	StageMbox    Stage = "mbox"
	StageIMAP    Stage = "imap"
	StageArchive Stage = "archive"
)

type EventType string

const (
	EventTypeScanned             EventType = "scanned"
	EventTypeNewEmail            EventType = "new_email"
	EventTypeDuplicateEmail      EventType = "duplicate_email"
	EventTypeNewAttachment       EventType = "new_attachment"
	EventTypeDuplicateAttachment EventType = "duplicate_attachment"
	EventTypeSkippedAttachment   EventType = "skipped_attachment"
	EventTypeSpam                EventType = "spam"
	EventTypeError               EventType = "error"
)

type Event struct {
	Stage  Stage
	Type   EventType
	Index  int
	Key    string
	Err    error
	Detail string
}

// Summary holds the counters of one run. NewEmails, NewAttachments, Spam and
// Errors are the figures reported to the user; the rest are logged.
type Summary struct {
	Scanned              int
	NewEmails            int
	DuplicateEmails      int
	NewAttachments       int
	DuplicateAttachments int
	SkippedAttachments   int
	Spam                 int
	Errors               int
	LastError            error
}

func (s Summary) String() string {
	return fmt.Sprintf("new mails: %d, new attachments: %d, spam: %d, errors: %d",
		s.NewEmails, s.NewAttachments, s.Spam, s.Errors)
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"scanned", s.Scanned,
		"newEmails", s.NewEmails,
		"duplicateEmails", s.DuplicateEmails,
		"newAttachments", s.NewAttachments,
		"duplicateAttachments", s.DuplicateAttachments,
		"skippedAttachments", s.SkippedAttachments,
		"spam", s.Spam,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

// Add returns the sum of two summaries. The last error of other wins.
func (s Summary) Add(other Summary) Summary {
	s.Scanned += other.Scanned
	s.NewEmails += other.NewEmails
	s.DuplicateEmails += other.DuplicateEmails
	s.NewAttachments += other.NewAttachments
	s.DuplicateAttachments += other.DuplicateAttachments
	s.SkippedAttachments += other.SkippedAttachments
	s.Spam += other.Spam
	s.Errors += other.Errors
	if other.LastError != nil {
		s.LastError = other.LastError
	}
	return s
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

func (c *Collector) apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeScanned:
		c.summary.Scanned++
	case EventTypeNewEmail:
		c.summary.NewEmails++
	case EventTypeDuplicateEmail:
		c.summary.DuplicateEmails++
	case EventTypeNewAttachment:
		c.summary.NewAttachments++
	case EventTypeDuplicateAttachment:
		c.summary.DuplicateAttachments++
	case EventTypeSkippedAttachment:
		c.summary.SkippedAttachments++
	case EventTypeSpam:
		c.summary.Spam++
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}
