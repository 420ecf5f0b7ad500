package webrsync

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/cockroachdb/errors"
)

// Environment variables advertised to the child process when verification
// is active. Both point at the disposable keyring home.
const (
	EnvGPGDir     = "PORTAGE_GPG_DIR"
	EnvTempGPGDir = "PORTAGE_TEMP_GPG_DIR"
)

// GateState is the verification gate's lifecycle state.
type GateState int

const (
	// GateDisabled means verification was not requested.
	GateDisabled GateState = iota
	// GateValidating means precondition checks are in progress.
	GateValidating
	// GateProvisioned means the keyring is ready and the spawn environment
	// has been updated.
	GateProvisioned
	// GateFailed means a precondition or keyring operation failed.
	GateFailed
)

// KeyringEnvironment is the capability surface the gate needs from an
// isolated keyring scope.
type KeyringEnvironment interface {
	ImportKey(r io.Reader) error
	Refresh(ctx context.Context) error
	HomeDir() string
	Release() error
}

// KeyringProvider allocates isolated keyring environments. The gate treats
// a nil provider as "verification capability unavailable".
type KeyringProvider interface {
	NewEnvironment() (KeyringEnvironment, error)
}

// KeyringProviderFunc adapts a function to the KeyringProvider interface.
type KeyringProviderFunc func() (KeyringEnvironment, error)

// NewEnvironment calls f.
func (f KeyringProviderFunc) NewEnvironment() (KeyringEnvironment, error) {
	return f()
}

// VerificationGate decides whether a sync attempt may proceed to the
// transfer step. When the repository requests signature verification, the
// gate provisions a disposable keyring, imports and refreshes the trusted
// key, and advertises the keyring home to the child process.
//
// A gate is used for exactly one sync attempt. Release must be called on
// every exit path once Prepare has run; it releases the keyring environment
// at most once and is a no-op when none was allocated.
type VerificationGate struct {
	repo           *RepoConfig
	provider       KeyringProvider
	refreshTimeout time.Duration
	quiet          bool

	state GateState
	env   KeyringEnvironment
}

// NewVerificationGate constructs a gate for one sync attempt.
func NewVerificationGate(repo *RepoConfig, provider KeyringProvider, refreshTimeout time.Duration, quiet bool) *VerificationGate {
	if refreshTimeout <= 0 {
		refreshTimeout = defaultKeyRefreshTimeout
	}
	return &VerificationGate{
		repo:           repo,
		provider:       provider,
		refreshTimeout: refreshTimeout,
		quiet:          quiet,
	}
}

// State returns the gate's current state.
func (g *VerificationGate) State() GateState {
	return g.state
}

// Prepare runs the verification preconditions and, when they pass,
// provisions the keyring and injects EnvGPGDir and EnvTempGPGDir into the
// spawn environment. It returns nil when verification is disabled.
func (g *VerificationGate) Prepare(ctx context.Context, spawn *SpawnEnv) error {
	if !g.repo.Options.Enabled(OptVerifySignature) {
		g.state = GateDisabled
		return nil
	}
	g.state = GateValidating

	keyPath := g.repo.SyncOpenPGPKeyPath
	if keyPath == "" {
		g.state = GateFailed
		return errors.Mark(errors.New("sync_openpgp_key_path is not set"), ErrVerificationConfig)
	}

	st, err := os.Stat(keyPath)
	if err != nil || !st.Mode().IsRegular() {
		g.state = GateFailed
		return errors.Mark(
			errors.New("sync_openpgp_key_path file not found: "+keyPath),
			ErrVerificationConfig)
	}

	if g.provider == nil {
		g.state = GateFailed
		return errors.Mark(
			errors.New("verifying against the configured key requires OpenPGP support"),
			ErrCapabilityUnavailable)
	}

	env, err := g.provider.NewEnvironment()
	if err != nil {
		g.state = GateFailed
		return errors.Mark(errors.Wrap(err, "creating keyring environment"), ErrKeyringFailure)
	}
	g.env = env

	if !g.quiet {
		slog.Info("using keys from file", "path", keyPath, "location", g.repo.Location)
	}

	if err := g.importAndRefresh(ctx, keyPath); err != nil {
		g.state = GateFailed
		return errors.Mark(err, ErrKeyringFailure)
	}

	spawn.Env[EnvGPGDir] = g.env.HomeDir()
	spawn.Env[EnvTempGPGDir] = g.env.HomeDir()
	g.state = GateProvisioned
	return nil
}

func (g *VerificationGate) importAndRefresh(ctx context.Context, keyPath string) error {
	f, err := os.Open(keyPath) // #nosec G304 - keyPath comes from validated repository configuration
	if err != nil {
		return errors.Wrap(err, "opening key file")
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("failed to close key file", "path", keyPath, "error", err)
		}
	}()

	if err := g.env.ImportKey(f); err != nil {
		return errors.Wrap(err, "importing key from "+keyPath)
	}

	refreshCtx, cancel := context.WithTimeout(ctx, g.refreshTimeout)
	defer cancel()
	if err := g.env.Refresh(refreshCtx); err != nil {
		return errors.Wrap(err, "refreshing keys")
	}
	return nil
}

// Release tears down the keyring environment if one was allocated. It is
// safe to call multiple times; only the first call releases.
func (g *VerificationGate) Release() {
	if g.env == nil {
		return
	}
	if err := g.env.Release(); err != nil {
		slog.Warn("failed to release keyring environment", "error", err)
	}
	g.env = nil
}
