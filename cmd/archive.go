package cmd

import (
	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-archive/config"
	"github.com/dhcgn/mbox-archive/mbox"
	"github.com/dhcgn/mbox-archive/runner"
	"github.com/dhcgn/mbox-archive/stats"
)

func newArchiveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Archive one .mbox file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, cleanup, err := prepare(cmd, config.ModeArchive)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			s, err := openSession(cfg, logger, cmd.OutOrStdout(), "archive")
			if err != nil {
				return err
			}
			summary, err := s.archiveMbox(cfg.InputPath)
			if err == nil {
				s.report(summary)
			}
			return s.finish(summary, err)
		},
	}
	config.RegisterArchiveFlags(cmd)
	return cmd
}

func (s *session) archiveMbox(path string) (stats.Summary, error) {
	total := 0
	if s.cfg.Progress {
		n, err := mbox.CountMessages(s.fs, path)
		if err != nil {
			return stats.Summary{}, err
		}
		total = n
	}

	return s.archive(path, path, total, func(r *runner.Runner) error {
		_, err := mbox.NewProducer(mbox.Options{Path: path, Fs: s.fs, Marker: s.marker}, r, r.Logger())
		return err
	})
}
