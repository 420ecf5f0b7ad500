package webrsync

import "os"

// ApplyEnvironmentVariables overrides configuration fields from WEBSYNCCTL_*
// environment variables. Overrides take precedence over the TOML file but
// not over command-line flags.
func ApplyEnvironmentVariables(config *Config) error {
	if v, ok := os.LookupEnv("WEBSYNCCTL_LOG_LEVEL"); ok {
		config.Log.Level = v
	}
	if v, ok := os.LookupEnv("WEBSYNCCTL_LOG_FORMAT"); ok {
		config.Log.Format = v
	}
	if v, ok := os.LookupEnv("WEBSYNCCTL_KEYSERVER"); ok {
		config.Keyserver = v
	}
	if v, ok := os.LookupEnv("WEBSYNCCTL_SNAPSHOT_DIR"); ok {
		config.SnapshotDir = v
	}
	return config.Check()
}
