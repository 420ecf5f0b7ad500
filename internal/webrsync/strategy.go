package webrsync

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
)

// Strategy names selectable in repository configuration.
const (
	StrategyWebrsync = "webrsync"
	StrategyNative   = "native"
)

// External transfer binaries and their minimum version requirements.
const (
	webrsyncBin             = "emerge-webrsync"
	webrsyncMinVersion      = "2.3"
	deltaWebrsyncBin        = "emerge-delta-webrsync"
	deltaWebrsyncMinVersion = "3.7.5"
)

// okExitCode is the platform OK value for the transfer process.
const okExitCode = 0

// SyncResult reports the outcome of one sync attempt. Success is true only
// when the transfer process exited with okExitCode.
type SyncResult struct {
	ExitCode int
	Success  bool
}

// UIFlags carries the already-parsed user-facing flags consumed by a sync
// attempt.
type UIFlags struct {
	Verbose bool
	Quiet   bool
}

// SyncStrategy synchronizes one repository tree with its upstream snapshot
// distribution point.
//
// Failures are converted into the SyncResult contract at the point of
// detection; the error carries the classification for logging and is
// marked with one of the sentinels in errors.go.
type SyncStrategy interface {
	Sync(ctx context.Context, repo *RepoConfig, spawn *SpawnEnv, flags UIFlags) (SyncResult, error)
}

// ProcessStrategy syncs by delegating to the external emerge-webrsync (or
// emerge-delta-webrsync) binary, gated on OpenPGP verification.
type ProcessStrategy struct {
	Locator BinaryLocator
	Keyring KeyringProvider
	Runner  ProcessRunner

	// RefreshTimeout bounds the keyserver refresh step. Repository
	// configuration may override it per attempt.
	RefreshTimeout time.Duration
}

// NewProcessStrategy constructs a ProcessStrategy with the default locator
// and runner. keyring may be nil, which makes verification requests fail
// with ErrCapabilityUnavailable.
func NewProcessStrategy(keyring KeyringProvider) *ProcessStrategy {
	return &ProcessStrategy{
		Locator:        &PathLocator{},
		Keyring:        keyring,
		Runner:         &ExecRunner{},
		RefreshTimeout: defaultKeyRefreshTimeout,
	}
}

// resolveBinary picks the transfer binary variant for this attempt. The
// delta option substitutes the delta-capable binary together with its own
// minimum version requirement.
func resolveBinary(opts ModuleOptions) (name, minVersion string) {
	if opts.Enabled(OptDelta) {
		return deltaWebrsyncBin, deltaWebrsyncMinVersion
	}
	return webrsyncBin, webrsyncMinVersion
}

// Sync performs one verification-gated transfer attempt.
//
// The keyring environment, if one is provisioned by the gate, is released
// on every exit path.
func (s *ProcessStrategy) Sync(ctx context.Context, repo *RepoConfig, spawn *SpawnEnv, flags UIFlags) (SyncResult, error) {
	name, minVersion := resolveBinary(repo.Options)
	binPath, err := s.Locator.Locate(name, minVersion)
	if err != nil {
		return SyncResult{ExitCode: 1}, err
	}

	spawn.StripPrivileges()

	timeout := s.RefreshTimeout
	if d := repo.KeyRefreshTimeout.Duration; d > 0 {
		timeout = d
	}
	gate := NewVerificationGate(repo, s.Keyring, timeout, flags.Quiet)
	defer gate.Release()

	if err := gate.Prepare(ctx, spawn); err != nil {
		return SyncResult{ExitCode: 1}, err
	}

	argv := BuildCommand(binPath, flags.Verbose, flags.Quiet, repo.Options.Enabled(OptKeepSnapshots))
	code, err := s.Runner.Run(ctx, argv, spawn)
	if err != nil {
		return SyncResult{ExitCode: 1}, errors.Mark(err, ErrTransferProcess)
	}
	if code != okExitCode {
		slog.Error("webrsync transfer failed", "location", repo.Location, "exit_code", code)
		return SyncResult{ExitCode: code}, errors.Mark(
			errors.Newf("%s exited with code %d in %s", name, code, repo.Location),
			ErrTransferProcess)
	}
	return SyncResult{ExitCode: code, Success: true}, nil
}

// NativeStrategy is a planned in-process implementation of the snapshot
// transfer. It exists so the strategy can be selected in configuration
// ahead of the implementation; every call fails with ErrNotImplemented and
// allocates no resources.
type NativeStrategy struct{}

// Sync always fails with ErrNotImplemented.
func (NativeStrategy) Sync(_ context.Context, _ *RepoConfig, _ *SpawnEnv, _ UIFlags) (SyncResult, error) {
	return SyncResult{ExitCode: 1}, errors.Mark(
		errors.New("native webrsync transfer is not implemented"),
		ErrNotImplemented)
}
