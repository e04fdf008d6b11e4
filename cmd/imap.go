package cmd

import (
	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-archive/config"
	"github.com/dhcgn/mbox-archive/imap"
	"github.com/dhcgn/mbox-archive/runner"
	"github.com/dhcgn/mbox-archive/stats"
)

func newIMAPCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "imap",
		Short: "Archive every message of an IMAP folder",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, cleanup, err := prepare(cmd, config.ModeIMAP)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			s, err := openSession(cfg, logger, cmd.OutOrStdout(), "imap")
			if err != nil {
				return err
			}

			opts := imap.Options{
				Host:               cfg.IMAPHost,
				Port:               cfg.IMAPPort,
				Username:           cfg.IMAPUser,
				Password:           cfg.IMAPPass,
				UseTLS:             cfg.UseTLS,
				InsecureSkipVerify: cfg.InsecureSkipVerify,
				Folder:             cfg.Folder,
				Marker:             s.marker,
			}
			fetcher, err := imap.NewFetcher(opts, logger)
			if err != nil {
				return s.finish(stats.Summary{}, err)
			}

			summary, err := s.archive(fetcher.Source(), cfg.Folder, 0, func(r *runner.Runner) error {
				_, err := imap.NewProducer(opts, r, r.Logger())
				return err
			})
			if err == nil {
				s.report(summary)
			}
			return s.finish(summary, err)
		},
	}
	config.RegisterIMAPFlags(cmd)
	return cmd
}
