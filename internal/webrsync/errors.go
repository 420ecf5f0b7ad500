package webrsync

import "github.com/cockroachdb/errors"

// Error kinds for sync failures. Concrete errors are marked with one of
// these sentinels so callers can classify failures with errors.Is.
var (
	// ErrBinaryUnavailable is reported when the external transfer binary
	// cannot be located or its minimum version requirement is unmet.
	ErrBinaryUnavailable = errors.New("transfer binary unavailable")

	// ErrVerificationConfig is reported when verification is requested but
	// the signing key path is unset or does not reference an existing file.
	ErrVerificationConfig = errors.New("verification misconfigured")

	// ErrCapabilityUnavailable is reported when verification is requested
	// but no OpenPGP keyring capability was provided.
	ErrCapabilityUnavailable = errors.New("OpenPGP capability unavailable")

	// ErrKeyringFailure is reported for keyring problems: environment
	// creation, key import, or key refresh (including refresh timeout).
	ErrKeyringFailure = errors.New("keyring problem")

	// ErrTransferProcess is reported when the spawned transfer process
	// exits with a non-zero code or cannot be started.
	ErrTransferProcess = errors.New("transfer process failed")

	// ErrNotImplemented is reported by the native sync strategy, which is
	// declared but intentionally unimplemented.
	ErrNotImplemented = errors.New("not implemented")
)
