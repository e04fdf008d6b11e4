package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-archive/ingest"
)

// load runs a root command with one subcommand of the given mode and
// returns what Load produced for it.
func load(t *testing.T, mode Mode, args ...string) (Config, error) {
	t.Helper()

	root := &cobra.Command{Use: "mbox-archive", SilenceUsage: true, SilenceErrors: true}
	RegisterGlobalFlags(root)

	var (
		cfg     Config
		loadErr error
	)
	sub := &cobra.Command{
		Use: "sub",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, loadErr = Load(cmd, mode)
			return nil
		},
	}
	switch mode {
	case ModeArchive:
		RegisterArchiveFlags(sub)
	case ModeWalk:
		if err := RegisterWalkFlags(sub); err != nil {
			t.Fatal(err)
		}
	case ModeIMAP:
		RegisterIMAPFlags(sub)
	}
	root.AddCommand(sub)

	root.SetArgs(append([]string{"sub"}, args...))
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	return cfg, loadErr
}

func TestLoadArchiveDefaults(t *testing.T) {
	cfg, err := load(t, ModeArchive, "-i", "in.mbox", "-m", "meta.db", "-s", "store")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.InputPath != "in.mbox" || cfg.MetadataPath != "meta.db" || cfg.StoragePath != "store" {
		t.Errorf("paths not loaded: %+v", cfg)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
	if cfg.KeyScheme != ingest.KeySchemeLegacy {
		t.Errorf("KeyScheme = %q, want legacy", cfg.KeyScheme)
	}
	if cfg.SpamHeader != "X-Yandex-Spam" || cfg.SpamValue != "1" {
		t.Errorf("spam marker = %q: %q", cfg.SpamHeader, cfg.SpamValue)
	}
	if cfg.ShardWidth != 2 {
		t.Errorf("ShardWidth = %d, want 2", cfg.ShardWidth)
	}
}

func TestLoadVerbose(t *testing.T) {
	cfg, err := load(t, ModeArchive, "-i", "in.mbox", "-m", "meta.db", "-s", "store", "-v", "--log-level", "error")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoadSpamPatterns(t *testing.T) {
	cfg, err := load(t, ModeArchive, "-i", "in.mbox", "-m", "meta.db", "-s", "store",
		"--spam-pattern", "(?i)^X-Spam-Flag: yes", "--spam-pattern", "casino")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.SpamPatterns) != 2 || cfg.SpamPatterns[1] != "casino" {
		t.Errorf("SpamPatterns = %q", cfg.SpamPatterns)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("MBOX_ARCHIVE_METADATA", "env.db")
	t.Setenv("MBOX_ARCHIVE_STORAGE", "env-store")
	t.Setenv("MBOX_ARCHIVE_KEY_SCHEME", "delimited")

	cfg, err := load(t, ModeArchive, "-i", "in.mbox", "-s", "flag-store")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MetadataPath != "env.db" {
		t.Errorf("MetadataPath = %q, want env.db", cfg.MetadataPath)
	}
	if cfg.StoragePath != "flag-store" {
		t.Errorf("StoragePath = %q, want the explicit flag to win", cfg.StoragePath)
	}
	if cfg.KeyScheme != ingest.KeySchemeDelimited {
		t.Errorf("KeyScheme = %q, want delimited", cfg.KeyScheme)
	}
}

func TestLoadFromConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.yaml")
	data := "metadata: file.db\nstorage: file-store\nerrors: file-errors\nshard-width: 3\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := load(t, ModeArchive, "--config", path, "-i", "in.mbox")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MetadataPath != "file.db" || cfg.StoragePath != "file-store" || cfg.ErrorsDir != "file-errors" {
		t.Errorf("file values not loaded: %+v", cfg)
	}
	if cfg.ShardWidth != 3 {
		t.Errorf("ShardWidth = %d, want 3", cfg.ShardWidth)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	if _, err := load(t, ModeArchive, "--config", filepath.Join(t.TempDir(), "none.yaml"), "-i", "x", "-m", "m", "-s", "s"); err == nil {
		t.Fatal("Expected an error for a missing config file")
	}
}

func TestLoadWalk(t *testing.T) {
	cfg, err := load(t, ModeWalk, "-m", "meta.db", "-s", "store", "--root", "/mail", "--resume", "--state-dir", "/tmp/state/")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Root != "/mail" || !cfg.Resume || cfg.StateDir != "/tmp/state" {
		t.Errorf("walk options = %+v", cfg)
	}
}

func TestLoadIMAPPasswordFallback(t *testing.T) {
	t.Setenv("IMAP_PASS", "secret")
	cfg, err := load(t, ModeIMAP, "-m", "meta.db", "-s", "store", "--imap-host", "mail.example.com", "--imap-user", "me")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.IMAPPass != "secret" || cfg.IMAPPort != 993 || !cfg.UseTLS || cfg.Folder != "INBOX" {
		t.Errorf("imap options = %+v", cfg)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		mode Mode
		args []string
	}{
		{"missing input", ModeArchive, []string{"-m", "m", "-s", "s"}},
		{"missing metadata", ModeArchive, []string{"-i", "x", "-s", "s"}},
		{"missing storage", ModeArchive, []string{"-i", "x", "-m", "m"}},
		{"bad log level", ModeArchive, []string{"-i", "x", "-m", "m", "-s", "s", "--log-level", "loud"}},
		{"bad key scheme", ModeArchive, []string{"-i", "x", "-m", "m", "-s", "s", "--key-scheme", "md5"}},
		{"bad shard width", ModeArchive, []string{"-i", "x", "-m", "m", "-s", "s", "--shard-width", "0"}},
		{"missing root", ModeWalk, []string{"-m", "m", "-s", "s"}},
		{"missing imap host", ModeIMAP, []string{"-m", "m", "-s", "s", "--imap-user", "u", "--imap-pass", "p"}},
		{"bad imap port", ModeIMAP, []string{"-m", "m", "-s", "s", "--imap-host", "h", "--imap-user", "u", "--imap-pass", "p", "--imap-port", "70000"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("IMAP_PASS", "")
			if _, err := load(t, tt.mode, tt.args...); err == nil {
				t.Fatal("Expected Load() to fail")
			}
		})
	}
}
