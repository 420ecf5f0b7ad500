package webrsync

import (
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	defaultKeyserver         = "hkps://keys.gentoo.org"
	defaultKeyRefreshTimeout = 40 * time.Second
)

var validID = regexp.MustCompile(`^[a-z0-9_-]+$`)

// IsValidID checks if the given repository ID is valid.
func IsValidID(id string) bool {
	return validID.MatchString(id)
}

type tomlDuration struct {
	time.Duration
}

func (d *tomlDuration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if parsed <= 0 {
		return errors.New("duration must be positive: " + string(text))
	}
	d.Duration = parsed
	return nil
}

// RepoConfig describes one synchronized repository tree.
//
// A RepoConfig is immutable for the duration of one sync attempt; the
// orchestration code references it without taking ownership.
type RepoConfig struct {
	Location           string        `toml:"location"`
	SyncOpenPGPKeyPath string        `toml:"sync_openpgp_key_path,omitempty"`
	KeyRefreshTimeout  tomlDuration  `toml:"key_refresh_timeout,omitempty"`
	Strategy           string        `toml:"strategy,omitempty"`
	Options            ModuleOptions `toml:"options,omitempty"`
}

// Check validates the repository configuration.
func (rc *RepoConfig) Check() error {
	if rc.Location == "" {
		return errors.New("location is not set")
	}
	if !filepath.IsAbs(rc.Location) {
		return errors.New("location must be an absolute path")
	}
	if rc.SyncOpenPGPKeyPath != "" && !filepath.IsAbs(rc.SyncOpenPGPKeyPath) {
		return errors.New("sync_openpgp_key_path must be an absolute path")
	}
	switch rc.Strategy {
	case "", StrategyWebrsync, StrategyNative:
	default:
		return errors.New("unknown strategy: " + rc.Strategy)
	}
	return nil
}

// LogConfig represents slog configuration options.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Apply configures the global slog logger based on the configuration.
func (lc *LogConfig) Apply() error {
	var level slog.Level
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return errors.New("invalid log level: " + lc.Level)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(lc.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "plain", "", "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return errors.New("invalid log format: " + lc.Format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

// Config is a struct to read TOML configurations.
//
// Use https://github.com/BurntSushi/toml as follows:
//
//	config := webrsync.NewConfig()
//	md, err := toml.DecodeFile("/path/to/websync.toml", config)
//	if err != nil {
//	    ...
//	}
type Config struct {
	SnapshotDir string                 `toml:"snapshot_dir,omitempty"`
	Keyserver   string                 `toml:"keyserver"`
	Log         LogConfig              `toml:"log"`
	Repos       map[string]*RepoConfig `toml:"repos"`
}

// Check validates the configuration.
func (c *Config) Check() error {
	if c.SnapshotDir != "" && !filepath.IsAbs(c.SnapshotDir) {
		return errors.New("snapshot_dir must be an absolute path")
	}
	u, err := url.Parse(c.Keyserver)
	if err != nil {
		return errors.Wrap(err, "keyserver")
	}
	switch u.Scheme {
	case "hkp", "hkps", "http", "https":
	default:
		return errors.New("unsupported keyserver scheme: " + u.Scheme)
	}
	return nil
}

// NewConfig creates Config with default values.
func NewConfig() *Config {
	return &Config{
		Keyserver: defaultKeyserver,
	}
}
