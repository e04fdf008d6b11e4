package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dhcgn/mbox-archive/ingest"
	"github.com/dhcgn/mbox-archive/model"
	"github.com/dhcgn/mbox-archive/stats"
)

// Archiver stores one message at a time.
type Archiver interface {
	Archive(ctx context.Context, msg model.Message) (ingest.Outcome, error)
}

type StageFunc func(context.Context) error

type subscriber struct {
	name   string
	fn     func(context.Context, <-chan stats.Event) error
	events chan stats.Event
}

// Runner wires a producer stage to the single archive stage and fans stats
// events out to every subscriber. Stages and subscribers are registered
// first and launched by Start.
type Runner struct {
	archiver Archiver
	logger   *slog.Logger
	runID    string

	ctx    context.Context
	cancel context.CancelFunc

	messages chan model.Envelope

	stages      map[string]StageFunc
	stageOrder  []string
	subscribers []*subscriber

	workWG  sync.WaitGroup
	statsWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeMailboxOnce sync.Once
	closeEventsOnce  sync.Once
	since            time.Time
}

func New(archiver Archiver, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	runID := uuid.NewString()

	r := &Runner{
		archiver: archiver,
		logger:   logger.With("run_id", runID),
		runID:    runID,
		ctx:      ctx,
		cancel:   cancel,
		messages: make(chan model.Envelope, 32),
		stages:   make(map[string]StageFunc),
	}

	r.AddStage("archive", r.archive)
	return r
}

func (r *Runner) RunID() string {
	return r.runID
}

func (r *Runner) Logger() *slog.Logger {
	return r.logger
}

func (r *Runner) Context() context.Context {
	return r.ctx
}

func (r *Runner) MailboxWriter() chan<- model.Envelope {
	return r.messages
}

func (r *Runner) CloseMailbox() {
	r.closeMailboxOnce.Do(func() {
		close(r.messages)
	})
}

// EmitEvent delivers evt to every subscriber.
func (r *Runner) EmitEvent(evt stats.Event) {
	for _, sub := range r.subscribers {
		select {
		case <-r.ctx.Done():
			return
		case sub.events <- evt:
		}
	}
}

func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	r.subscribers = append(r.subscribers, &subscriber{
		name:   name,
		fn:     fn,
		events: make(chan stats.Event, 128),
	})
}

func (r *Runner) AddStage(name string, fn StageFunc) {
	if _, ok := r.stages[name]; !ok {
		r.stageOrder = append(r.stageOrder, name)
	}
	r.stages[name] = fn
}

// Start runs all stages to completion. The returned error is the first
// fatal error of any stage or subscriber.
func (r *Runner) Start() error {
	r.since = time.Now()
	r.logger.Info("pipeline started", "stages", r.stageOrder)

	for _, sub := range r.subscribers {
		r.statsWG.Add(1)
		go func(sub *subscriber) {
			defer r.statsWG.Done()
			if err := sub.fn(r.ctx, sub.events); err != nil && !errors.Is(err, context.Canceled) {
				r.fail(fmt.Errorf("%s stats: %w", sub.name, err))
			}
		}(sub)
	}

	for _, name := range r.stageOrder {
		r.workWG.Add(1)
		go func(name string, fn StageFunc) {
			defer r.workWG.Done()
			if err := fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.fail(fmt.Errorf("%s stage: %w", name, err))
			}
		}(name, r.stages[name])
	}

	r.workWG.Wait()
	r.closeEvents()
	r.statsWG.Wait()

	r.cancel()

	err := r.firstErr()
	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("pipeline failed", "duration", duration, "err", err)
		return err
	}

	r.logger.Info("pipeline completed", "duration", duration)
	return nil
}

func (r *Runner) archive(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case envelope, ok := <-r.messages:
			if !ok {
				return nil
			}

			if envelope.Err != nil {
				return fmt.Errorf("read input: %w", envelope.Err)
			}

			msg := envelope.Message
			r.EmitEvent(stats.Event{Stage: stats.StageArchive, Type: stats.EventTypeScanned, Index: msg.Index})

			outcome, err := r.archiver.Archive(ctx, msg)
			if err != nil {
				return fmt.Errorf("%s message %d: %w", msg.Source, msg.Index, err)
			}
			r.emitOutcome(msg, outcome)
		}
	}
}

func (r *Runner) emitOutcome(msg model.Message, out ingest.Outcome) {
	evt := stats.Event{Stage: stats.StageArchive, Index: msg.Index, Key: out.Key}

	switch {
	case out.Spam:
		evt.Type = stats.EventTypeSpam
		r.EmitEvent(evt)
		return
	case out.ParseError:
		evt.Type = stats.EventTypeError
		evt.Err = fmt.Errorf("%s message %d: unparseable", msg.Source, msg.Index)
		r.EmitEvent(evt)
		return
	case out.RecordError:
		evt.Type = stats.EventTypeError
		evt.Err = fmt.Errorf("%s message %d: metadata rejected", msg.Source, msg.Index)
		r.EmitEvent(evt)
		return
	case out.NewEmail:
		evt.Type = stats.EventTypeNewEmail
	default:
		evt.Type = stats.EventTypeDuplicateEmail
		r.logger.Debug("email already archived", "index", msg.Index, "id", out.Key)
	}
	r.EmitEvent(evt)

	emitN := func(t stats.EventType, n int) {
		for i := 0; i < n; i++ {
			r.EmitEvent(stats.Event{Stage: stats.StageArchive, Type: t, Index: msg.Index, Key: out.Key})
		}
	}
	emitN(stats.EventTypeNewAttachment, out.NewAttachments)
	emitN(stats.EventTypeSkippedAttachment, out.SkippedAttachments)
	emitN(stats.EventTypeDuplicateAttachment, out.Attachments-out.NewAttachments-out.SkippedAttachments)
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		for _, sub := range r.subscribers {
			close(sub.events)
		}
	})
}

func (r *Runner) firstErr() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
