package webrsync

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
)

// SpawnEnv carries the environment variables and optional credentials for
// the child transfer process. The verification gate adds its variables to
// Env; the orchestrator strips the credentials before spawning.
type SpawnEnv struct {
	Env    map[string]string
	UID    *uint32
	GID    *uint32
	Groups []uint32
}

// NewSpawnEnv returns a SpawnEnv populated from the current process
// environment, without credentials.
func NewSpawnEnv() *SpawnEnv {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		env[k] = v
	}
	return &SpawnEnv{Env: env}
}

// StripPrivileges drops the uid/gid/groups credentials unconditionally.
// The external transfer tool does not expect privilege-drop semantics and
// fails when spawned with them.
func (s *SpawnEnv) StripPrivileges() {
	s.UID = nil
	s.GID = nil
	s.Groups = nil
}

// Environ returns the environment in the form expected by os/exec, sorted
// for deterministic spawns.
func (s *SpawnEnv) Environ() []string {
	kvs := make([]string, 0, len(s.Env))
	for k, v := range s.Env {
		kvs = append(kvs, k+"="+v)
	}
	sort.Strings(kvs)
	return kvs
}

// ProcessRunner invokes the external transfer process and reports its exit
// code. A non-zero exit code is not an error at this layer; errors are
// reserved for spawns that never produced an exit code.
type ProcessRunner interface {
	Run(ctx context.Context, argv []string, env *SpawnEnv) (int, error)
}

// ExecRunner runs commands via os/exec, streaming output to the parent's
// stdout and stderr.
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer
}

// Run spawns argv with the given environment and blocks until it exits.
func (r *ExecRunner) Run(ctx context.Context, argv []string, env *SpawnEnv) (int, error) {
	if len(argv) == 0 {
		return 1, errors.New("empty argument vector")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) // #nosec G204 - argv is built by BuildCommand from a located binary
	cmd.Env = env.Environ()
	cmd.Stdout = r.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = r.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	if env.UID != nil || env.GID != nil || len(env.Groups) > 0 {
		cred := &syscall.Credential{Groups: env.Groups}
		if env.UID != nil {
			cred.Uid = *env.UID
		}
		if env.GID != nil {
			cred.Gid = *env.GID
		}
		cmd.SysProcAttr = &syscall.SysProcAttr{Credential: cred}
	}

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return 1, errors.Wrap(err, "spawning "+argv[0])
	}
	return 0, nil
}
