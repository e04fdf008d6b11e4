package mbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/spf13/afero"

	"github.com/dhcgn/mbox-archive/model"
	"github.com/dhcgn/mbox-archive/runner"
)

type SpamMarker interface {
	IsSpam(raw []byte) bool
}

type Options struct {
	Path string
	// Fs defaults to the local filesystem.
	Fs     afero.Fs
	Marker SpamMarker
}

type Reader interface {
	Stream(ctx context.Context, out chan<- model.Envelope) error
}

func NewReader(opts Options, logger *slog.Logger) (Reader, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &fileReader{
		path:   path,
		fs:     fs,
		marker: opts.Marker,
		logger: logger,
	}, nil
}

type fileReader struct {
	path   string
	fs     afero.Fs
	marker SpamMarker
	logger *slog.Logger
}

func (f *fileReader) Stream(ctx context.Context, out chan<- model.Envelope) error {
	file, err := f.fs.Open(f.path)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()
	reader := mboxlib.NewReader(file)

	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return f.emitError(ctx, out, fmt.Errorf("message %d: %w", idx, err))
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return f.emitError(ctx, out, fmt.Errorf("message %d read: %w", idx, err))
		}

		msg := model.Message{
			Source: f.path,
			Index:  idx,
			Raw:    raw,
		}
		if f.marker != nil {
			msg.Spam = f.marker.IsSpam(raw)
		}

		if err := f.emitEnvelope(ctx, out, model.Envelope{Message: msg}); err != nil {
			return err
		}
	}
}

func (f *fileReader) emitError(ctx context.Context, out chan<- model.Envelope, err error) error {
	if f.logger != nil {
		f.logger.Error("mbox stream error", "path", f.path, "err", err)
	}
	if err := f.emitEnvelope(ctx, out, model.Envelope{Err: err}); err != nil {
		return err
	}
	return nil
}

func (f *fileReader) emitEnvelope(ctx context.Context, out chan<- model.Envelope, env model.Envelope) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- env:
		return nil
	}
}

// Producer feeds the messages of one mbox file into a runner.
type Producer struct {
	reader Reader
	runner *runner.Runner
}

func NewProducer(opts Options, r *runner.Runner, logger *slog.Logger) (*Producer, error) {
	reader, err := NewReader(opts, logger)
	if err != nil {
		return nil, err
	}
	producer := &Producer{reader: reader, runner: r}
	r.AddStage("mbox", producer.run)
	return producer, nil
}

func (p *Producer) run(ctx context.Context) error {
	defer p.runner.CloseMailbox()
	return p.reader.Stream(ctx, p.runner.MailboxWriter())
}

// CountMessages counts the messages in an mbox file without parsing them.
func CountMessages(fs afero.Fs, path string) (int, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	file, err := fs.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()
	reader := mboxlib.NewReader(file)

	count := 0
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return 0, err
		}

		// a message whose body cannot be read still counts
		_, _ = io.Copy(io.Discard, msgReader)
		count++
	}
}
