// Package snapshot maintains the snapshot archives kept in the snapshot
// directory when syncing with the keep-snapshots option. The transfer tool
// leaves one portage-YYYYMMDD.tar.xz per fetched snapshot; this package
// lists, verifies, and prunes them.
package snapshot

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/cockroachdb/errors"
	"github.com/ulikunitz/xz"
)

const dateFormat = "20060102"

var namePattern = regexp.MustCompile(`^portage-(\d{8})\.tar\.xz$`)

// Snapshot describes one retained snapshot archive.
type Snapshot struct {
	Name string
	Path string
	Date time.Time
	Size int64
}

// List returns the snapshot archives in dir, oldest first. Files that do
// not match the snapshot naming convention are ignored.
func List(dir string) ([]Snapshot, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "listing snapshots")
	}

	var snapshots []Snapshot
	for _, dirEntry := range dirEntries {
		m := namePattern.FindStringSubmatch(dirEntry.Name())
		if m == nil {
			continue
		}
		date, err := time.Parse(dateFormat, m[1])
		if err != nil {
			continue
		}
		info, err := dirEntry.Info()
		if err != nil {
			return nil, errors.Wrap(err, "listing snapshots")
		}
		snapshots = append(snapshots, Snapshot{
			Name: dirEntry.Name(),
			Path: filepath.Join(dir, dirEntry.Name()),
			Date: date,
			Size: info.Size(),
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Date.Before(snapshots[j].Date)
	})
	return snapshots, nil
}

// Verify streams the archive through an xz reader to check that it
// decompresses cleanly end to end. Unless quiet, progress is shown.
func Verify(path string, quiet bool) error {
	file, err := os.Open(path) // #nosec G304 - path comes from the configured snapshot directory
	if err != nil {
		return errors.Wrap(err, "opening snapshot")
	}
	defer func() {
		_ = file.Close()
	}()

	info, err := file.Stat()
	if err != nil {
		return errors.Wrap(err, "stat snapshot")
	}

	var reader io.Reader = file
	if !quiet {
		bar := pb.Full.Start64(info.Size())
		defer bar.Finish()
		reader = bar.NewProxyReader(file)
	}

	xzReader, err := xz.NewReader(bufio.NewReader(reader))
	if err != nil {
		return errors.Wrapf(err, "corrupt snapshot %s", filepath.Base(path))
	}
	if _, err := io.Copy(io.Discard, xzReader); err != nil {
		return errors.Wrapf(err, "corrupt snapshot %s", filepath.Base(path))
	}
	return nil
}

// Prune removes the oldest snapshots from dir so that at most keep remain.
// It returns the names of the removed archives.
func Prune(dir string, keep int) ([]string, error) {
	if keep < 0 {
		return nil, errors.New("keep must not be negative")
	}

	snapshots, err := List(dir)
	if err != nil {
		return nil, err
	}
	if len(snapshots) <= keep {
		return nil, nil
	}

	var removed []string
	for _, snap := range snapshots[:len(snapshots)-keep] {
		if err := os.Remove(snap.Path); err != nil {
			return removed, errors.Wrap(err, "pruning snapshots")
		}
		removed = append(removed, snap.Name)
	}

	if err := dirSync(dir); err != nil {
		return removed, err
	}
	return removed, nil
}

// dirSync calls fsync(2) on the directory to persist the removals.
func dirSync(dir string) error {
	f, err := os.OpenFile(dir, os.O_RDONLY, 0755) // #nosec G304,G302 - directory comes from validated configuration
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
