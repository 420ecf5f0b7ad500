package webrsync

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
)

// fakeLocator records the requested binary and returns a fixed path.
type fakeLocator struct {
	path string
	err  error

	gotName       string
	gotMinVersion string
}

func (f *fakeLocator) Locate(name, minVersion string) (string, error) {
	f.gotName = name
	f.gotMinVersion = minVersion
	if f.err != nil {
		return "", f.err
	}
	return f.path, nil
}

// fakeRunner records the spawn and returns a fixed exit code.
type fakeRunner struct {
	code int
	err  error

	called  bool
	gotArgv []string
	gotEnv  map[string]string
	gotUID  *uint32
}

func (f *fakeRunner) Run(_ context.Context, argv []string, env *SpawnEnv) (int, error) {
	f.called = true
	f.gotArgv = argv
	f.gotEnv = make(map[string]string, len(env.Env))
	for k, v := range env.Env {
		f.gotEnv[k] = v
	}
	f.gotUID = env.UID
	if f.err != nil {
		return 1, f.err
	}
	return f.code, nil
}

func newTestStrategy(locator *fakeLocator, runner *fakeRunner, provider KeyringProvider) *ProcessStrategy {
	return &ProcessStrategy{
		Locator:        locator,
		Keyring:        provider,
		Runner:         runner,
		RefreshTimeout: time.Second,
	}
}

func TestProcessStrategySuccess(t *testing.T) {
	t.Parallel()

	locator := &fakeLocator{path: "/usr/bin/emerge-webrsync"}
	runner := &fakeRunner{code: 0}
	strategy := newTestStrategy(locator, runner, nil)

	repo := &RepoConfig{Location: "/var/db/repos/gentoo"}
	spawn := &SpawnEnv{Env: map[string]string{"PATH": "/usr/bin"}}

	result, err := strategy.Sync(context.Background(), repo, spawn, UIFlags{})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success || result.ExitCode != 0 {
		t.Errorf("result = %+v, want exit 0 success", result)
	}
	if locator.gotName != "emerge-webrsync" {
		t.Errorf("located %q, want emerge-webrsync", locator.gotName)
	}
	if locator.gotMinVersion != "2.3" {
		t.Errorf("minimum version = %q, want 2.3", locator.gotMinVersion)
	}
	if len(runner.gotArgv) != 1 || runner.gotArgv[0] != locator.path {
		t.Errorf("argv = %v, want just the binary path", runner.gotArgv)
	}
	if _, ok := runner.gotEnv[EnvGPGDir]; ok {
		t.Errorf("%s must not be set when verification is disabled", EnvGPGDir)
	}
}

func TestProcessStrategyDeltaBinary(t *testing.T) {
	t.Parallel()

	locator := &fakeLocator{path: "/usr/bin/emerge-delta-webrsync"}
	runner := &fakeRunner{code: 0}
	strategy := newTestStrategy(locator, runner, nil)

	repo := &RepoConfig{
		Location: "/var/db/repos/gentoo",
		Options:  ModuleOptions{OptDelta: "true"},
	}
	if _, err := strategy.Sync(context.Background(), repo, &SpawnEnv{Env: map[string]string{}}, UIFlags{}); err != nil {
		t.Fatal(err)
	}
	if locator.gotName != "emerge-delta-webrsync" {
		t.Errorf("located %q, want emerge-delta-webrsync", locator.gotName)
	}
	if locator.gotMinVersion != "3.7.5" {
		t.Errorf("minimum version = %q, want 3.7.5", locator.gotMinVersion)
	}
}

func TestProcessStrategyBinaryUnavailable(t *testing.T) {
	t.Parallel()

	locator := &fakeLocator{err: errors.Mark(errors.New("not found"), ErrBinaryUnavailable)}
	runner := &fakeRunner{}
	strategy := newTestStrategy(locator, runner, nil)

	repo := &RepoConfig{Location: "/var/db/repos/gentoo"}
	result, err := strategy.Sync(context.Background(), repo, &SpawnEnv{Env: map[string]string{}}, UIFlags{})
	if !errors.Is(err, ErrBinaryUnavailable) {
		t.Errorf("err = %v, want ErrBinaryUnavailable", err)
	}
	if result.Success || result.ExitCode != 1 {
		t.Errorf("result = %+v, want exit 1 failure", result)
	}
	if runner.called {
		t.Error("transfer must not run when the binary is unavailable")
	}
}

func TestProcessStrategyStripsPrivileges(t *testing.T) {
	t.Parallel()

	locator := &fakeLocator{path: "/usr/bin/emerge-webrsync"}
	runner := &fakeRunner{code: 0}
	strategy := newTestStrategy(locator, runner, nil)

	uid := uint32(250)
	gid := uint32(250)
	spawn := &SpawnEnv{
		Env:    map[string]string{},
		UID:    &uid,
		GID:    &gid,
		Groups: []uint32{250},
	}
	repo := &RepoConfig{Location: "/var/db/repos/gentoo"}
	if _, err := strategy.Sync(context.Background(), repo, spawn, UIFlags{}); err != nil {
		t.Fatal(err)
	}
	if runner.gotUID != nil {
		t.Error("uid credential must be stripped before spawning")
	}
	if spawn.UID != nil || spawn.GID != nil || spawn.Groups != nil {
		t.Error("credentials must be stripped from the spawn environment")
	}
}

func TestProcessStrategyGateBlocksTransfer(t *testing.T) {
	t.Parallel()

	locator := &fakeLocator{path: "/usr/bin/emerge-webrsync"}
	runner := &fakeRunner{}
	strategy := newTestStrategy(locator, runner, nil)

	// verification requested but no key path configured
	repo := verifyingRepo("")
	result, err := strategy.Sync(context.Background(), repo, &SpawnEnv{Env: map[string]string{}}, UIFlags{})
	if !errors.Is(err, ErrVerificationConfig) {
		t.Errorf("err = %v, want ErrVerificationConfig", err)
	}
	if result.Success || result.ExitCode != 1 {
		t.Errorf("result = %+v, want exit 1 failure", result)
	}
	if runner.called {
		t.Error("transfer must not run when the verification gate fails")
	}
}

func TestProcessStrategyVerifiedTransfer(t *testing.T) {
	t.Parallel()

	keyPath := writeKeyFile(t, "trusted key material")
	env := &fakeKeyringEnv{home: "/tmp/keyring-home"}
	provider := &fakeProvider{env: env}

	locator := &fakeLocator{path: "/usr/bin/emerge-webrsync"}
	runner := &fakeRunner{code: 0}
	strategy := newTestStrategy(locator, runner, provider)

	repo := verifyingRepo(keyPath)
	result, err := strategy.Sync(context.Background(), repo, &SpawnEnv{Env: map[string]string{}}, UIFlags{Quiet: true})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success {
		t.Errorf("result = %+v, want success", result)
	}
	if runner.gotEnv[EnvGPGDir] != env.home {
		t.Errorf("%s = %q, want %q", EnvGPGDir, runner.gotEnv[EnvGPGDir], env.home)
	}
	if runner.gotEnv[EnvTempGPGDir] != env.home {
		t.Errorf("%s = %q, want %q", EnvTempGPGDir, runner.gotEnv[EnvTempGPGDir], env.home)
	}
	if env.releases != 1 {
		t.Errorf("releases = %d, keyring must be released after the transfer", env.releases)
	}
}

func TestProcessStrategyReleasesKeyringOnTransferFailure(t *testing.T) {
	t.Parallel()

	keyPath := writeKeyFile(t, "trusted key material")
	env := &fakeKeyringEnv{home: "/tmp/keyring-home"}
	provider := &fakeProvider{env: env}

	locator := &fakeLocator{path: "/usr/bin/emerge-webrsync"}
	runner := &fakeRunner{code: 5}
	strategy := newTestStrategy(locator, runner, provider)

	repo := verifyingRepo(keyPath)
	result, err := strategy.Sync(context.Background(), repo, &SpawnEnv{Env: map[string]string{}}, UIFlags{Quiet: true})
	if !errors.Is(err, ErrTransferProcess) {
		t.Errorf("err = %v, want ErrTransferProcess", err)
	}
	if result.Success || result.ExitCode != 5 {
		t.Errorf("result = %+v, want exit 5 failure", result)
	}
	if env.releases != 1 {
		t.Errorf("releases = %d, keyring must be released on every exit path", env.releases)
	}
}

func TestProcessStrategyTransferExitCode(t *testing.T) {
	t.Parallel()

	locator := &fakeLocator{path: "/usr/bin/emerge-webrsync"}
	runner := &fakeRunner{code: 3}
	strategy := newTestStrategy(locator, runner, nil)

	repo := &RepoConfig{Location: "/var/db/repos/gentoo"}
	result, err := strategy.Sync(context.Background(), repo, &SpawnEnv{Env: map[string]string{}}, UIFlags{})
	if !errors.Is(err, ErrTransferProcess) {
		t.Errorf("err = %v, want ErrTransferProcess", err)
	}
	if result.Success {
		t.Error("non-zero exit must not be reported as success")
	}
	if result.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", result.ExitCode)
	}
}

func TestProcessStrategySpawnFailure(t *testing.T) {
	t.Parallel()

	locator := &fakeLocator{path: "/usr/bin/emerge-webrsync"}
	runner := &fakeRunner{err: errors.New("fork failed")}
	strategy := newTestStrategy(locator, runner, nil)

	repo := &RepoConfig{Location: "/var/db/repos/gentoo"}
	result, err := strategy.Sync(context.Background(), repo, &SpawnEnv{Env: map[string]string{}}, UIFlags{})
	if !errors.Is(err, ErrTransferProcess) {
		t.Errorf("err = %v, want ErrTransferProcess", err)
	}
	if result.Success || result.ExitCode != 1 {
		t.Errorf("result = %+v, want exit 1 failure", result)
	}
}

func TestProcessStrategyCommandFlags(t *testing.T) {
	t.Parallel()

	locator := &fakeLocator{path: "/usr/bin/emerge-webrsync"}
	runner := &fakeRunner{code: 0}
	strategy := newTestStrategy(locator, runner, nil)

	repo := &RepoConfig{
		Location: "/var/db/repos/gentoo",
		Options:  ModuleOptions{OptKeepSnapshots: "yes"},
	}
	if _, err := strategy.Sync(context.Background(), repo, &SpawnEnv{Env: map[string]string{}}, UIFlags{Verbose: true}); err != nil {
		t.Fatal(err)
	}

	expected := []string{locator.path, "-v", "-k"}
	if len(runner.gotArgv) != len(expected) {
		t.Fatalf("argv = %v, want %v", runner.gotArgv, expected)
	}
	for i := range expected {
		if runner.gotArgv[i] != expected[i] {
			t.Fatalf("argv = %v, want %v", runner.gotArgv, expected)
		}
	}
}

func TestNativeStrategyNotImplemented(t *testing.T) {
	t.Parallel()

	repo := &RepoConfig{Location: "/var/db/repos/gentoo", Strategy: StrategyNative}
	result, err := NativeStrategy{}.Sync(context.Background(), repo, &SpawnEnv{Env: map[string]string{}}, UIFlags{})
	if !errors.Is(err, ErrNotImplemented) {
		t.Errorf("err = %v, want ErrNotImplemented", err)
	}
	if result.Success || result.ExitCode != 1 {
		t.Errorf("result = %+v, want exit 1 failure", result)
	}
}
