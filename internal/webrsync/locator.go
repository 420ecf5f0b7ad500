package webrsync

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-version"
)

const versionProbeTimeout = 10 * time.Second

// BinaryLocator resolves the external transfer binary for one sync attempt.
//
// Implementations report ErrBinaryUnavailable when the binary cannot be
// found or is older than the required minimum version.
type BinaryLocator interface {
	Locate(name, minVersion string) (string, error)
}

// PathLocator locates binaries on PATH and probes their version by running
// them with --version.
type PathLocator struct {
	// Probe overrides the version probe. Nil means run the binary.
	Probe func(path string) (string, error)
}

// Locate resolves name on PATH and checks it against minVersion.
//
// Binaries whose version cannot be probed or parsed are accepted as-is:
// the installed-package metadata is authoritative for versioning and the
// probe is only a best-effort guard.
func (l *PathLocator) Locate(name, minVersion string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", errors.Mark(errors.Wrapf(err, "%s not found", name), ErrBinaryUnavailable)
	}
	if minVersion == "" {
		return path, nil
	}

	probe := l.Probe
	if probe == nil {
		probe = probeVersion
	}
	raw, err := probe(path)
	if err != nil {
		return path, nil
	}
	have, err := version.NewVersion(strings.TrimSpace(raw))
	if err != nil {
		return path, nil
	}

	want, err := version.NewVersion(minVersion)
	if err != nil {
		return "", errors.Wrapf(err, "invalid minimum version for %s", name)
	}
	if have.LessThan(want) {
		return "", errors.Mark(
			errors.Newf("%s version %s is older than required %s", name, have, want),
			ErrBinaryUnavailable)
	}
	return path, nil
}

// probeVersion runs the binary with --version and returns the last field of
// the first output line, which is where emerge-webrsync prints its version.
func probeVersion(path string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), versionProbeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return "", errors.Wrapf(err, "probing %s", path)
	}
	line, _, _ := strings.Cut(string(out), "\n")
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", errors.New("empty version output from " + path)
	}
	return fields[len(fields)-1], nil
}
