package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"github.com/dhcgn/mbox-archive/config"
	"github.com/dhcgn/mbox-archive/filter"
	"github.com/dhcgn/mbox-archive/ingest"
	"github.com/dhcgn/mbox-archive/metadata"
	"github.com/dhcgn/mbox-archive/metrics"
	"github.com/dhcgn/mbox-archive/objectstore"
	"github.com/dhcgn/mbox-archive/progress"
	"github.com/dhcgn/mbox-archive/runner"
	"github.com/dhcgn/mbox-archive/stats"
)

// session holds the stores shared by every input of one command invocation.
type session struct {
	cfg      config.Config
	logger   *slog.Logger
	out      io.Writer
	fs       afero.Fs
	objects  *objectstore.Store
	meta     *metadata.Store
	marker   *filter.Marker
	recorder *metrics.Recorder
	started  time.Time
}

func openSession(cfg config.Config, logger *slog.Logger, out io.Writer, name string) (*session, error) {
	fs := afero.NewOsFs()

	marker, err := filter.New(filter.Options{
		Header:   cfg.SpamHeader,
		Value:    cfg.SpamValue,
		Patterns: cfg.SpamPatterns,
	})
	if err != nil {
		return nil, err
	}

	objects, err := objectstore.New(fs, cfg.StoragePath, objectstore.WithShardWidth(cfg.ShardWidth))
	if err != nil {
		return nil, err
	}

	meta, err := metadata.Open(cfg.MetadataPath, logger)
	if err != nil {
		return nil, err
	}

	s := &session{
		cfg:     cfg,
		logger:  logger,
		out:     out,
		fs:      fs,
		objects: objects,
		meta:    meta,
		marker:  marker,
		started: time.Now(),
	}
	if cfg.MetricsFile != "" {
		s.recorder = metrics.New(name)
	}
	return s, nil
}

// archive runs one pipeline over the input registered by attach. total sizes
// the progress bar and may be zero when unknown.
func (s *session) archive(inputID, title string, total int, attach func(*runner.Runner) error) (stats.Summary, error) {
	var quarantine *ingest.Quarantine
	if s.cfg.ErrorsDir != "" {
		q, err := ingest.NewQuarantine(s.fs, s.cfg.ErrorsDir, inputID)
		if err != nil {
			return stats.Summary{}, err
		}
		quarantine = q
	}

	archiver := ingest.New(s.objects, s.meta, ingest.Options{
		KeyScheme:  s.cfg.KeyScheme,
		Quarantine: quarantine,
	}, s.logger.With("input", inputID))

	r := runner.New(archiver, s.logger)
	reporter := stats.NewReporter(r, r.Logger())
	progress.New(title, total, s.cfg.Progress).Attach(r)
	if s.recorder != nil {
		r.SubscribeStats("metrics", s.recorder.Subscriber)
	}

	if err := attach(r); err != nil {
		return stats.Summary{}, err
	}

	r.Logger().Info("archiving input", "input", inputID, "keyScheme", s.cfg.KeyScheme)
	if err := r.Start(); err != nil {
		return stats.Summary{}, err
	}
	return reporter.Summary(), nil
}

// report prints a summary line to the command output.
func (s *session) report(summary stats.Summary) {
	fmt.Fprintln(s.out, summary.String())
}

// finish writes metrics and closes the stores. runErr is the outcome of the
// command and is returned joined with any error from closing.
func (s *session) finish(total stats.Summary, runErr error) error {
	if runErr == nil && s.cfg.Progress {
		progress.PrintSummary(total, time.Since(s.started))
	}
	if s.recorder != nil {
		s.recorder.Finish(time.Since(s.started), runErr)
		if err := s.recorder.WriteFile(s.cfg.MetricsFile); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}
	if err := s.meta.Close(); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("close metadata store: %w", err))
	}
	return runErr
}
