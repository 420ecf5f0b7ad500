package webrsync

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/websyncctl/websyncctl/internal/openpgp"
)

// Run synchronizes the named repositories. If repoIDs is empty, all
// configured repositories are synchronized. Repositories are processed
// concurrently; each sync attempt holds an exclusive lock beside its tree
// so two attempts never overlap on the same repository.
func Run(ctx context.Context, config *Config, repoIDs []string, flags UIFlags) error {
	if len(repoIDs) == 0 {
		for id := range config.Repos {
			repoIDs = append(repoIDs, id)
		}
		sort.Strings(repoIDs)
	}

	slog.Info("sync starts", "repos", len(repoIDs))

	group, ctx := errgroup.WithContext(ctx)
	for _, id := range repoIDs {
		group.Go(func() error {
			result, err := syncRepo(ctx, config, id, flags)
			if err != nil {
				slog.Error("sync failed", "repo", id, "exit_code", result.ExitCode, "error", err.Error())
				return err
			}
			slog.Info("sync succeeded", "repo", id)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	slog.Info("sync ends")
	return nil
}

// syncRepo runs one verification-gated sync attempt for a repository.
func syncRepo(ctx context.Context, config *Config, id string, flags UIFlags) (SyncResult, error) {
	repo, ok := config.Repos[id]
	if !ok {
		return SyncResult{ExitCode: 1}, errors.New("no such repository: " + id)
	}
	if !IsValidID(id) {
		return SyncResult{ExitCode: 1}, errors.New("invalid repository id: " + id)
	}
	if err := repo.Check(); err != nil {
		return SyncResult{ExitCode: 1}, errors.Wrap(err, id)
	}

	unlock, err := lockRepo(repo)
	if err != nil {
		return SyncResult{ExitCode: 1}, errors.Wrap(err, id)
	}
	defer unlock()

	strategy := newStrategy(config, repo)
	spawn := NewSpawnEnv()
	result, err := strategy.Sync(ctx, repo, spawn, flags)
	if err != nil {
		return result, errors.Wrap(err, id)
	}
	return result, nil
}

// lockRepo takes an exclusive flock on a lock file beside the repository
// tree and returns a function releasing it.
func lockRepo(repo *RepoConfig) (func(), error) {
	lockPath := filepath.Join(filepath.Dir(repo.Location),
		"."+filepath.Base(repo.Location)+".websync.lock")

	file, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE, 0644) // #nosec G304 - lockPath derives from validated repo location
	if err != nil {
		return nil, errors.Wrap(err, "opening lock file")
	}

	lock := Flock{file}
	if err := lock.Lock(); err != nil {
		_ = file.Close()
		return nil, errors.Wrap(err, "another sync is running for "+repo.Location)
	}

	return func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("failed to unlock repository", "path", lockPath, "error", err)
		}
		if err := file.Close(); err != nil {
			slog.Warn("failed to close lock file", "path", lockPath, "error", err)
		}
		if err := os.Remove(lockPath); err != nil {
			slog.Warn("failed to remove lock file", "path", lockPath, "error", err)
		}
	}, nil
}

// newStrategy selects the sync strategy for a repository at configuration
// time.
func newStrategy(config *Config, repo *RepoConfig) SyncStrategy {
	if repo.Strategy == StrategyNative {
		return NativeStrategy{}
	}

	keyserver := config.Keyserver
	provider := KeyringProviderFunc(func() (KeyringEnvironment, error) {
		return openpgp.NewEnvironment(keyserver)
	})
	strategy := NewProcessStrategy(provider)
	if d := repo.KeyRefreshTimeout.Duration; d > 0 {
		strategy.RefreshTimeout = d
	}
	return strategy
}
