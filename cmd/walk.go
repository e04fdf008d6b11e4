package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-archive/config"
	"github.com/dhcgn/mbox-archive/state"
	"github.com/dhcgn/mbox-archive/stats"
)

func newWalkCommand() (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:   "walk",
		Short: "Archive every *.mbox file below a directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, cleanup, err := prepare(cmd, config.ModeWalk)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			s, err := openSession(cfg, logger, cmd.OutOrStdout(), "walk")
			if err != nil {
				return err
			}
			total, err := s.walk()
			return s.finish(total, err)
		},
	}
	if err := config.RegisterWalkFlags(cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

func (s *session) walk() (stats.Summary, error) {
	files, err := findMboxFiles(s.fs, s.cfg.Root)
	if err != nil {
		return stats.Summary{}, err
	}
	s.logger.Info("mbox files found", "root", s.cfg.Root, "count", len(files))

	var tracker *state.FileTracker
	if s.cfg.Resume {
		tracker, err = state.NewFileTracker(s.fs, s.cfg.StateDir)
		if err != nil {
			return stats.Summary{}, fmt.Errorf("state tracker: %w", err)
		}
		defer tracker.Close()
	}

	var total stats.Summary
	var errs []error
	for _, path := range files {
		in, err := state.Stat(s.fs, path)
		if err != nil {
			s.logger.Error("unable to stat input", "path", path, "err", err)
			errs = append(errs, err)
			continue
		}
		if tracker != nil && tracker.AlreadyArchived(in) {
			s.logger.Info("skipping archived input", "path", path)
			fmt.Fprintln(s.out, "skipping:", path)
			continue
		}

		fmt.Fprintln(s.out, "processing:", path)
		summary, err := s.archiveMbox(path)
		if err != nil {
			// Not journaled, so a resumed run retries it.
			s.logger.Error("archiving input failed", "path", path, "err", err)
			fmt.Fprintln(s.out, "failed:", err)
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		s.report(summary)
		total = total.Add(summary)

		if tracker != nil {
			if err := tracker.MarkArchived(in, summary.String()); err != nil {
				return total, err
			}
			if err := tracker.Flush(); err != nil {
				return total, err
			}
		}
	}

	fmt.Fprintf(s.out, "total: %s\n", total)
	return total, errors.Join(errs...)
}

// findMboxFiles lists files below root with a case-insensitive .mbox
// extension, in lexical order.
func findMboxFiles(fs afero.Fs, root string) ([]string, error) {
	info, err := fs.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("walk root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("walk root %s is not a directory", root)
	}

	var files []string
	err = afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() && strings.EqualFold(filepath.Ext(path), ".mbox") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, nil
}
