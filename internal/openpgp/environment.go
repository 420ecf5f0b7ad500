// Package openpgp provides isolated, disposable keyring environments for
// verification-gated sync attempts. An Environment owns a private GPG home
// directory holding exactly the trust material imported for one attempt;
// it is never shared across attempts and must be released when the attempt
// finishes.
package openpgp

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ProtonMail/gopenpgp/v3/crypto"
	"github.com/cockroachdb/errors"
)

// Error kinds reported by keyring operations.
var (
	// ErrKeyImport is reported for malformed key material or I/O failures
	// during import.
	ErrKeyImport = errors.New("openpgp: key import failed")

	// ErrKeyRefresh is reported when the keyserver refresh fails.
	ErrKeyRefresh = errors.New("openpgp: key refresh failed")

	// ErrRefreshTimeout is reported when the refresh time budget is
	// exceeded.
	ErrRefreshTimeout = errors.New("openpgp: key refresh timed out")

	// ErrReleased is reported when an operation is attempted on a released
	// environment.
	ErrReleased = errors.New("openpgp: environment already released")
)

const pubringFile = "pubring.gpg"

// Environment is an isolated keyring scope backed by a temporary home
// directory. The home directory path is advertised to the child transfer
// process so its own GPG invocations use the same trust material.
type Environment struct {
	home      string
	keyserver *Keyserver
	key       *crypto.Key
	released  bool
}

// NewEnvironment allocates a fresh keyring scope. keyserverURL selects the
// keyserver used by Refresh; empty means the default.
func NewEnvironment(keyserverURL string) (*Environment, error) {
	ks, err := NewKeyserver(keyserverURL)
	if err != nil {
		return nil, err
	}

	home, err := os.MkdirTemp("", "websync-gpg-")
	if err != nil {
		return nil, errors.Wrap(err, "creating keyring home")
	}
	return &Environment{home: home, keyserver: ks}, nil
}

// HomeDir returns the keyring scope's working directory.
func (e *Environment) HomeDir() string {
	return e.home
}

// Fingerprint returns the imported key's fingerprint, or "" before import.
func (e *Environment) Fingerprint() string {
	if e.key == nil {
		return ""
	}
	return e.key.GetFingerprint()
}

// ImportKey reads trust material from r and installs it into the keyring
// scope. Armored and binary key formats are accepted; private keys are
// reduced to their public part before installation.
func (e *Environment) ImportKey(r io.Reader) error {
	if e.released {
		return ErrReleased
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "reading key material"), ErrKeyImport)
	}
	key, err := parseKey(data)
	if err != nil {
		return errors.Mark(err, ErrKeyImport)
	}
	if err := e.writePubring(key); err != nil {
		return errors.Mark(err, ErrKeyImport)
	}
	e.key = key
	return nil
}

func parseKey(data []byte) (*crypto.Key, error) {
	key, err := crypto.NewKeyFromArmored(string(data))
	if err == nil {
		return key, nil
	}
	key, binErr := crypto.NewKey(data)
	if binErr != nil {
		return nil, errors.Wrap(err, "parsing key material")
	}
	return key, nil
}

// writePubring serializes the key's public part into the keyring home.
func (e *Environment) writePubring(key *crypto.Key) error {
	pub := key
	if key.IsPrivate() {
		var err error
		pub, err = key.ToPublic()
		if err != nil {
			return errors.Wrap(err, "extracting public key")
		}
	}

	data, err := pub.Serialize()
	if err != nil {
		return errors.Wrap(err, "serializing public key")
	}
	path := filepath.Join(e.home, pubringFile)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.Wrap(err, "writing "+path)
	}
	return nil
}

// Refresh fetches the current key material for the imported key from the
// keyserver, bounded by ctx. Refreshed material whose fingerprint differs
// from the imported key is refused.
func (e *Environment) Refresh(ctx context.Context) error {
	if e.released {
		return ErrReleased
	}
	if e.key == nil {
		return errors.Mark(errors.New("no key imported"), ErrKeyRefresh)
	}

	fingerprint := e.key.GetFingerprint()
	refreshed, err := e.keyserver.Fetch(ctx, fingerprint)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errors.Mark(err, ErrRefreshTimeout)
		}
		return errors.Mark(err, ErrKeyRefresh)
	}

	if !strings.EqualFold(refreshed.GetFingerprint(), fingerprint) {
		return errors.Mark(
			errors.Newf("keyserver returned key %s, want %s", refreshed.GetFingerprint(), fingerprint),
			ErrKeyRefresh)
	}

	if err := e.writePubring(refreshed); err != nil {
		return errors.Mark(err, ErrKeyRefresh)
	}
	e.key = refreshed
	return nil
}

// Release removes the keyring home directory. Subsequent calls are no-ops.
func (e *Environment) Release() error {
	if e.released {
		return nil
	}
	e.released = true
	e.key = nil
	return os.RemoveAll(e.home)
}
