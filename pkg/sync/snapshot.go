package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	goSync "sync"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/sidkik/dirmirror/pkg/errors"
)

// TakeSnapshot captures all the directories and files below `base`. The files
// are fingerprinted by up to `workers` goroutines in parallel.
func TakeSnapshot(ctx context.Context, base string, workers int) (Snapshot, error) {
	base = filepath.Clean(base)
	exists, err := rootExists(base)
	if err != nil {
		return Snapshot{}, err
	}
	if !exists {
		return Snapshot{Base: base, Missing: true}, nil
	}

	dirs, err := Directories(base)
	if err != nil {
		return Snapshot{}, errors.WithContext(err, "list directories")
	}

	files, err := Files(ctx, base, workers)
	if err != nil {
		return Snapshot{}, errors.WithContext(err, "list files")
	}

	return Snapshot{Base: base, Dirs: dirs, Files: files}, nil
}

// Directories returns every directory below `base`, at any depth, sorted by
// relative path. A missing `base` isn't an error: it just doesn't contain any
// directories yet.
func Directories(base string) ([]DirectoryEntry, error) {
	base = filepath.Clean(base)
	exists, err := rootExists(base)
	if err != nil || !exists {
		return nil, err
	}

	var dirs []DirectoryEntry
	err = afero.Walk(fs, base, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if path == base || !fi.IsDir() {
			return nil
		}

		relativePath, err := relativePath(base, path)
		if err != nil {
			return err
		}

		dirs = append(dirs, DirectoryEntry{BasePath: base, RelativePath: relativePath})
		return nil
	})
	if err != nil {
		return nil, errors.WithContext(err, "walk")
	}

	sort.Slice(dirs, func(i, j int) bool {
		return dirs[i].RelativePath < dirs[j].RelativePath
	})
	return dirs, nil
}

// Files returns every file below `base`, at any depth, along with its
// fingerprint. A missing `base` isn't an error.
//
// The tree is walked by a single goroutine, and the files it finds are
// fingerprinted by a pool of `workers` goroutines. The first failure stops the
// walk and is returned. The result is sorted by relative path.
func Files(ctx context.Context, base string, workers int) ([]FileEntry, error) {
	base = filepath.Clean(base)
	exists, err := rootExists(base)
	if err != nil || !exists {
		return nil, err
	}

	if workers < 1 {
		workers = 1
	}

	group, ctx := errgroup.WithContext(ctx)
	toFingerprint := make(chan string, workers*2)

	// Feed the fingerprint workers.
	group.Go(func() error {
		defer close(toFingerprint)
		err := afero.Walk(fs, base, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}

			if fi.IsDir() {
				return nil
			}

			if fi.Mode()&os.ModeSymlink != 0 {
				fi, err = fs.Stat(path)
				if os.IsNotExist(err) {
					log.WithField("path", path).Warn("Ignoring broken symlink")
					return nil
				}
				if err != nil {
					return errors.WithContext(err, fmt.Sprintf("stat symlink %q", path))
				}
			}

			if !fi.Mode().IsRegular() {
				log.WithField("path", path).Debug("Ignoring irregular file")
				return nil
			}

			select {
			case toFingerprint <- path:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		return errors.WithContext(err, "walk")
	})

	var lock goSync.Mutex
	var files []FileEntry
	for i := 0; i < workers; i++ {
		group.Go(func() error {
			for path := range toFingerprint {
				if err := ctx.Err(); err != nil {
					return err
				}

				relativePath, err := relativePath(base, path)
				if err != nil {
					return err
				}

				fingerprint, err := Fingerprint(path)
				if err != nil {
					return errors.WithContext(err, fmt.Sprintf("fingerprint %q", relativePath))
				}

				lock.Lock()
				files = append(files, FileEntry{
					Fingerprint:  fingerprint,
					BasePath:     base,
					RelativePath: relativePath,
				})
				lock.Unlock()
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].RelativePath < files[j].RelativePath
	})
	return files, nil
}

// rootExists returns whether `base` exists. It's an error for `base` to be
// anything other than a directory.
func rootExists(base string) (bool, error) {
	fi, err := fs.Stat(base)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.WithContext(err, "stat root")
	}

	if !fi.IsDir() {
		return false, fmt.Errorf("%q is not a directory", base)
	}
	return true, nil
}

func relativePath(base, path string) (string, error) {
	relativePath, err := filepath.Rel(base, path)
	if err != nil {
		return "", errors.WithContext(err, "relative path")
	}

	// This shouldn't happen because `path` is always a child of `base`.
	if relativePath == ".." || strings.HasPrefix(relativePath, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%q is not inside %q", path, base)
	}
	return relativePath, nil
}
