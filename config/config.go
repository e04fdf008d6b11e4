package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dhcgn/mbox-archive/filter"
	"github.com/dhcgn/mbox-archive/ingest"
	"github.com/dhcgn/mbox-archive/objectstore"
)

const EnvPrefix = "MBOX_ARCHIVE"

// Mode selects which input flags are required.
type Mode int

const (
	ModeArchive Mode = iota
	ModeWalk
	ModeIMAP
)

// Config captures all options of one archive run.
type Config struct {
	MetadataPath string
	StoragePath  string
	ErrorsDir    string
	Progress     bool
	LogLevel     string
	LogDir       string
	SpamHeader   string
	SpamValue    string
	SpamPatterns []string
	KeyScheme    ingest.KeyScheme
	ShardWidth   int
	MetricsFile  string

	InputPath string

	Root     string
	Resume   bool
	StateDir string

	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	InsecureSkipVerify bool
	Folder             string
}

// RegisterGlobalFlags attaches the flags shared by every subcommand.
func RegisterGlobalFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("config", "", "Optional YAML file with flag values")
	flags.StringP("metadata", "m", "", "Metadata SQLite database path")
	flags.StringP("storage", "s", "", "Object store root directory")
	flags.StringP("errors", "e", "", "Directory to save messages that could not be parsed")
	flags.BoolP("progress", "p", false, "Show a progress bar")
	flags.BoolP("verbose", "v", false, "Shorthand for --log-level debug")
	flags.String("log-level", "warn", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files (logs to stderr only if empty)")
	flags.String("spam-header", filter.DefaultSpamHeader, "Header that marks spam (empty disables)")
	flags.String("spam-value", filter.DefaultSpamValue, "Value of --spam-header that marks spam")
	flags.StringArray("spam-pattern", nil, "Regex matched against the header block; a match marks spam")
	flags.String("key-scheme", string(ingest.KeySchemeLegacy), "Email identity key scheme: legacy, delimited")
	flags.Int("shard-width", objectstore.DefaultShardWidth, "Leading key characters used as shard directory")
	flags.String("metrics-file", "", "Write run metrics in Prometheus text format to this file")
}

func RegisterArchiveFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("input", "i", "", "Input .mbox file")
}

func RegisterWalkFlags(cmd *cobra.Command) error {
	defaultStateDir, err := defaultStateDir()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	flags.String("root", "", "Directory searched recursively for *.mbox files")
	flags.Bool("resume", false, "Skip files already archived in full by an earlier run")
	flags.String("state-dir", defaultStateDir, "Directory for the resume journal")
	return nil
}

func RegisterIMAPFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("imap-host", "", "IMAP server hostname")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("folder", "INBOX", "IMAP folder to archive")
}

// Load merges flags, MBOX_ARCHIVE_* environment variables and the optional
// config file into a validated Config. Explicitly set flags win over the
// environment, which wins over the file.
func Load(cmd *cobra.Command, mode Mode) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, fs := range []*pflag.FlagSet{cmd.InheritedFlags(), cmd.Flags()} {
		if err := v.BindPFlags(fs); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	scheme, err := ingest.ParseKeyScheme(v.GetString("key-scheme"))
	if err != nil {
		return Config{}, err
	}

	logLevel := strings.ToLower(strings.TrimSpace(v.GetString("log-level")))
	if logLevel == "warning" {
		logLevel = "warn"
	}
	if v.GetBool("verbose") {
		logLevel = "debug"
	}

	cfg := Config{
		MetadataPath: v.GetString("metadata"),
		StoragePath:  v.GetString("storage"),
		ErrorsDir:    v.GetString("errors"),
		Progress:     v.GetBool("progress"),
		LogLevel:     logLevel,
		LogDir:       v.GetString("log-dir"),
		SpamHeader:   v.GetString("spam-header"),
		SpamValue:    v.GetString("spam-value"),
		SpamPatterns: v.GetStringSlice("spam-pattern"),
		KeyScheme:    scheme,
		ShardWidth:   v.GetInt("shard-width"),
		MetricsFile:  v.GetString("metrics-file"),
	}

	switch mode {
	case ModeArchive:
		cfg.InputPath = v.GetString("input")
	case ModeWalk:
		cfg.Root = v.GetString("root")
		cfg.Resume = v.GetBool("resume")
		cfg.StateDir = v.GetString("state-dir")
		if cfg.StateDir == "" {
			if cfg.StateDir, err = defaultStateDir(); err != nil {
				return Config{}, err
			}
		}
		cfg.StateDir = filepath.Clean(cfg.StateDir)
	case ModeIMAP:
		cfg.IMAPHost = v.GetString("imap-host")
		cfg.IMAPPort = v.GetInt("imap-port")
		cfg.IMAPUser = v.GetString("imap-user")
		cfg.IMAPPass = v.GetString("imap-pass")
		cfg.UseTLS = v.GetBool("use-tls")
		cfg.InsecureSkipVerify = v.GetBool("insecure-skip-verify")
		cfg.Folder = v.GetString("folder")
		if cfg.IMAPPass == "" {
			cfg.IMAPPass = os.Getenv("IMAP_PASS")
		}
	}

	if err := validateConfig(cfg, mode); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config, mode Mode) error {
	if cfg.MetadataPath == "" {
		return fmt.Errorf("--metadata is required")
	}
	if cfg.StoragePath == "" {
		return fmt.Errorf("--storage is required")
	}
	if cfg.ShardWidth < 1 || cfg.ShardWidth > 8 {
		return fmt.Errorf("--shard-width must be between 1 and 8")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	switch mode {
	case ModeArchive:
		if cfg.InputPath == "" {
			return fmt.Errorf("--input is required")
		}
	case ModeWalk:
		if cfg.Root == "" {
			return fmt.Errorf("--root is required")
		}
	case ModeIMAP:
		if cfg.IMAPHost == "" {
			return fmt.Errorf("--imap-host is required")
		}
		if cfg.IMAPUser == "" {
			return fmt.Errorf("--imap-user is required")
		}
		if cfg.IMAPPass == "" {
			return fmt.Errorf("IMAP password must be provided via --imap-pass, %s_IMAP_PASS or IMAP_PASS", EnvPrefix)
		}
		if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
			return fmt.Errorf("--imap-port must be between 1 and 65535")
		}
	}

	return nil
}

func defaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".mbox-archive", "state"), nil
}
