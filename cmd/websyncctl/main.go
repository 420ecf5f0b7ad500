// Package main implements the websyncctl command-line tool for keeping
// local package-repository trees in sync with upstream snapshot
// distribution points.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/websyncctl/websyncctl/internal/snapshot"
	"github.com/websyncctl/websyncctl/internal/webrsync"
)

const defaultConfigPath = "/etc/websyncctl/websync.toml"

var (
	// Build information - set via build flags
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"

	// Command-line flags
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "websyncctl",
	Short: "Sync webrsync-based package repositories",
	Long: `websyncctl keeps local package-repository trees in sync with upstream
snapshot distribution points by driving the emerge-webrsync transfer tool,
gating each transfer on OpenPGP verification of the snapshot signing key.`,
}

var syncCmd = &cobra.Command{
	Use:   "sync [repo-ids...]",
	Short: "Synchronize one or more repositories",
	Long: `Synchronizes one or more repositories based on the provided configuration.

Usage:
  # Synchronize all repositories in your configuration file
  websyncctl sync

  # Synchronize only specific repositories
  websyncctl sync gentoo overlays

  # Use a custom configuration file
  websyncctl sync --config /path/to/websync.toml

  # Show per-file transfer output
  websyncctl sync --verbose

If no repository IDs are specified, all repositories in the configuration
file will be synchronized.`,
	Run: runSync,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long:  `Validate the configuration file and report any issues.`,
	Run:   runValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information including build details",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("websyncctl %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", buildDate)
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage retained snapshot archives",
	Long:  `Manage the snapshot archives kept by the keep-snapshots option.`,
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List retained snapshots",
	Run:   runSnapshotList,
}

var snapshotVerifyCmd = &cobra.Command{
	Use:   "verify <snapshot-name>",
	Short: "Verify the integrity of a retained snapshot archive",
	Args:  cobra.ExactArgs(1),
	Run:   runSnapshotVerify,
}

var snapshotPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove old snapshots beyond the retention count",
	Run:   runSnapshotPrune,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(snapshotCmd)

	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotCmd.AddCommand(snapshotVerifyCmd)
	snapshotCmd.AddCommand(snapshotPruneCmd)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "configuration file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose-errors", false, "show detailed error information including stack traces")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress all output except for errors")

	syncCmd.Flags().BoolP("verbose", "v", false, "pass the verbose flag to the transfer tool")

	snapshotPruneCmd.Flags().Int("keep", 3, "number of recent snapshots to keep")
}

// formatError returns a human-friendly error message, optionally with stack trace
func formatError(err error, verbose bool) string {
	if verbose {
		return fmt.Sprintf("%+v", err)
	}

	flattened := errors.FlattenDetails(err)
	if flattened != "" {
		return flattened
	}
	return err.Error()
}

// loadConfig decodes and validates the configuration file, applying log
// settings, environment overrides, and the command-line log level.
func loadConfig(cmd *cobra.Command) (*webrsync.Config, error) {
	config := webrsync.NewConfig()
	meta, err := toml.DecodeFile(configPath, config)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Error("configuration file not found", "path", configPath)
			slog.Info("Please create a configuration file at the default location or specify one with the --config flag.")
			return nil, err
		}
		return nil, errors.Wrap(err, "decoding "+configPath)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Newf("configuration contains unknown keys: %v", undecoded)
	}

	if err := webrsync.ApplyEnvironmentVariables(config); err != nil {
		return nil, errors.Wrap(err, "environment overrides")
	}

	if err := config.Log.Apply(); err != nil {
		return nil, errors.Wrap(err, "log config")
	}

	if logLevel != "" {
		config.Log.Level = logLevel
		if err := config.Log.Apply(); err != nil {
			return nil, errors.Wrap(err, "command-line log level")
		}
	}

	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		config.Log.Level = "error"
		if err := config.Log.Apply(); err != nil {
			return nil, errors.Wrap(err, "quiet log level")
		}
	}

	return config, nil
}

func runSync(cmd *cobra.Command, args []string) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")

	config, err := loadConfig(cmd)
	if err != nil {
		slog.Error("failed to load configuration", "error", formatError(err, verboseErrors), "path", configPath)
		os.Exit(1)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	quiet, _ := cmd.Flags().GetBool("quiet")
	flags := webrsync.UIFlags{Verbose: verbose, Quiet: quiet}

	if err := webrsync.Run(context.Background(), config, args, flags); err != nil {
		slog.Error("sync run failed", "error", formatError(err, verboseErrors))
		if !verboseErrors {
			slog.Info("run with --verbose-errors for detailed stack traces")
		}
		os.Exit(1)
	}
}

func runValidate(cmd *cobra.Command, _ []string) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")

	config := webrsync.NewConfig()
	meta, err := toml.DecodeFile(configPath, config)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Error("configuration file not found", "path", configPath)
			os.Exit(1)
		}
		slog.Error("failed to decode config file", "error", formatError(err, verboseErrors), "path", configPath)
		os.Exit(1)
	}

	var validationErrors []error

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		validationErrors = append(validationErrors, errors.Newf("unknown keys: %v", undecoded))
	}
	if err := config.Log.Apply(); err != nil {
		validationErrors = append(validationErrors, errors.Wrap(err, "log config"))
	}
	if err := config.Check(); err != nil {
		validationErrors = append(validationErrors, errors.Wrap(err, "global config"))
	}
	for repoID, repoConfig := range config.Repos {
		if !webrsync.IsValidID(repoID) {
			validationErrors = append(validationErrors, errors.New("invalid repository ID: "+repoID))
		}
		if err := repoConfig.Check(); err != nil {
			validationErrors = append(validationErrors, errors.Wrap(err, "repository \""+repoID+"\""))
		}
	}

	if len(validationErrors) > 0 {
		slog.Error("the toml configuration file is not valid")
		for _, err := range validationErrors {
			slog.Error(err.Error())
		}
		os.Exit(1)
	}

	slog.Info("the toml configuration file passes validation checks")
}

// snapshotDir resolves the snapshot directory from configuration.
func snapshotDir(cmd *cobra.Command) (string, bool) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")
	config, err := loadConfig(cmd)
	if err != nil {
		slog.Error("failed to load configuration", "error", formatError(err, verboseErrors), "path", configPath)
		return "", false
	}
	if config.SnapshotDir == "" {
		slog.Error("snapshot_dir is not set in the configuration")
		return "", false
	}
	return config.SnapshotDir, true
}

func runSnapshotList(cmd *cobra.Command, _ []string) {
	dir, ok := snapshotDir(cmd)
	if !ok {
		os.Exit(1)
	}

	snapshots, err := snapshot.List(dir)
	if err != nil {
		slog.Error("failed to list snapshots", "error", err)
		os.Exit(1)
	}

	if len(snapshots) == 0 {
		fmt.Println("No snapshots found")
		return
	}
	for _, snap := range snapshots {
		fmt.Printf("  - %s (%s, %d bytes)\n", snap.Name, snap.Date.Format("2006-01-02"), snap.Size)
	}
}

func runSnapshotVerify(cmd *cobra.Command, args []string) {
	dir, ok := snapshotDir(cmd)
	if !ok {
		os.Exit(1)
	}

	quiet, _ := cmd.Flags().GetBool("quiet")
	path := args[0]
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}

	if err := snapshot.Verify(path, quiet); err != nil {
		slog.Error("snapshot verification failed", "snapshot", args[0], "error", err)
		os.Exit(1)
	}
	slog.Info("snapshot archive is intact", "snapshot", args[0])
}

func runSnapshotPrune(cmd *cobra.Command, _ []string) {
	dir, ok := snapshotDir(cmd)
	if !ok {
		os.Exit(1)
	}

	keep, _ := cmd.Flags().GetInt("keep")
	removed, err := snapshot.Prune(dir, keep)
	if err != nil {
		slog.Error("failed to prune snapshots", "error", err)
		os.Exit(1)
	}

	if len(removed) == 0 {
		slog.Info("no snapshots pruned")
		return
	}
	slog.Info("pruned snapshots", "count", len(removed))
	for _, name := range removed {
		fmt.Printf("  - %s\n", name)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
