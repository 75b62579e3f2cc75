package sync

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sidkik/dirmirror/pkg/errors"
)

// parkedPrefix is the name prefix of replica files that are temporarily moved
// out of the way of another move.
const parkedPrefix = ".dirmirror-"

// Reconcile changes the replica so that it mirrors the source, and returns
// what it did. See the package documentation for the order of operations.
//
// The first failed change aborts the reconciliation. The changes that were
// already made are not rolled back, and are described by the returned Result.
func Reconcile(source, replica Snapshot, mutator Mutator, log logrus.FieldLogger) (Result, error) {
	r := newReconciler(source, replica, mutator, log)

	steps := []struct {
		name string
		run  func() error
	}{
		{"create replica", r.createRoot},
		{"create directories", r.createDirs},
		{"match files", r.matchFiles},
		{"move files", r.moveFiles},
		{"delete files", r.deleteFiles},
		{"copy files", r.copyFiles},
		{"delete directories", r.deleteDirs},
		{"copy files replacing directories", r.copyFilesReplacingDirs},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			return r.result, errors.WithContext(err, step.name)
		}
	}
	return r.result, nil
}

type reconciler struct {
	source, replica Snapshot
	mutator         Mutator
	log             logrus.FieldLogger

	// replicaFiles contains the replica files that haven't been matched,
	// claimed by a move, or deleted yet. It's keyed by relative path.
	replicaFiles map[string]FileEntry

	// unmatched contains the source files that aren't already in place.
	unmatched []FileEntry

	// toCopy contains the source files that couldn't be moved into place.
	toCopy []FileEntry

	// toCopyAfterDirs contains the source files whose path is taken by a
	// replica directory. They can only be copied once the directory is gone.
	toCopyAfterDirs []FileEntry

	result Result
}

// move is a planned move of a replica file to the path of a source file.
type move struct {
	// from is the current relative path of the replica file. It changes if
	// the file gets parked.
	from string

	origin FileEntry
	target FileEntry
}

func newReconciler(source, replica Snapshot, mutator Mutator, log logrus.FieldLogger) *reconciler {
	replicaFiles := map[string]FileEntry{}
	for _, f := range replica.Files {
		replicaFiles[f.RelativePath] = f
	}

	return &reconciler{
		source:       source,
		replica:      replica,
		mutator:      mutator,
		log:          log,
		replicaFiles: replicaFiles,
	}
}

// createRoot creates the replica's root if it doesn't exist yet, so that files
// can be copied directly into it.
func (r *reconciler) createRoot() error {
	if !r.replica.Missing {
		return nil
	}

	if err := r.mutator.CreateDir(r.replica.Base); err != nil {
		return errors.WithContext(err, fmt.Sprintf("create %q", r.replica.Base))
	}
	r.log.WithField("path", r.replica.Base).Info("Created replica directory")
	return nil
}

func (r *reconciler) createDirs() error {
	replicaDirs := dirSet(r.replica.Dirs)
	for _, dir := range sortedDirs(r.source.Dirs) {
		if _, ok := replicaDirs[dir.RelativePath]; ok {
			r.result.MatchingDirs = append(r.result.MatchingDirs, dir)
			r.log.WithField("path", dir.RelativePath).Debug("Directory already exists")
			continue
		}

		// The source replaced a file with a directory.
		if f, ok := r.replicaFiles[dir.RelativePath]; ok {
			if err := r.deleteFile(f); err != nil {
				return err
			}
		}

		if err := r.mutator.CreateDir(r.replicaPath(dir.RelativePath)); err != nil {
			return errors.WithContext(err, fmt.Sprintf("create %q", dir.RelativePath))
		}
		r.result.CreatedDirs = append(r.result.CreatedDirs, dir)
		r.log.WithField("path", dir.RelativePath).Info("Created directory")
	}
	return nil
}

func (r *reconciler) matchFiles() error {
	for _, f := range sortedFiles(r.source.Files) {
		replicaFile, ok := r.replicaFiles[f.RelativePath]
		if ok && replicaFile.Fingerprint == f.Fingerprint {
			delete(r.replicaFiles, f.RelativePath)
			r.result.MatchingFiles = append(r.result.MatchingFiles, f)
			r.log.WithField("path", f.RelativePath).Debug("File is up to date")
			continue
		}
		r.unmatched = append(r.unmatched, f)
	}
	return nil
}

func (r *reconciler) moveFiles() error {
	// Index the remaining replica files by fingerprint. If several files
	// have the same fingerprint, the one with the smallest relative path is
	// moved first.
	byFingerprint := map[string][]FileEntry{}
	for _, f := range r.remainingReplicaFiles() {
		byFingerprint[f.Fingerprint] = append(byFingerprint[f.Fingerprint], f)
	}

	staleDirs := dirSet(r.staleDirs())
	var moves []*move
	for _, f := range r.unmatched {
		if _, ok := staleDirs[f.RelativePath]; ok {
			r.toCopyAfterDirs = append(r.toCopyAfterDirs, f)
			continue
		}

		candidates := byFingerprint[f.Fingerprint]
		if len(candidates) == 0 {
			r.toCopy = append(r.toCopy, f)
			continue
		}

		origin := candidates[0]
		byFingerprint[f.Fingerprint] = candidates[1:]
		delete(r.replicaFiles, origin.RelativePath)
		moves = append(moves, &move{from: origin.RelativePath, origin: origin, target: f})
	}

	// The replica files that still have to be moved, keyed by current path.
	pending := map[string]*move{}
	for _, mv := range moves {
		pending[mv.from] = mv
	}

	for _, mv := range moves {
		delete(pending, mv.from)

		target := mv.target.RelativePath
		if blocker, ok := pending[target]; ok {
			if err := r.park(blocker, pending); err != nil {
				return err
			}
		} else if stale, ok := r.replicaFiles[target]; ok {
			if err := r.deleteFile(stale); err != nil {
				return err
			}
		}

		if err := r.mutator.MoveFile(r.replicaPath(mv.from), r.replicaPath(target)); err != nil {
			return errors.WithContext(err, fmt.Sprintf("move %q to %q", mv.origin.RelativePath, target))
		}
		r.result.MovedFiles = append(r.result.MovedFiles, mv.target)
		r.log.WithFields(logrus.Fields{
			"from": mv.origin.RelativePath,
			"to":   target,
		}).Info("Moved file")
	}
	return nil
}

// park moves a replica file that's in the way of another move to a temporary
// path in the same directory. The file is moved to its final path later.
func (r *reconciler) park(mv *move, pending map[string]*move) error {
	parked := filepath.Join(filepath.Dir(mv.from), parkedPrefix+uuid.New().String())
	if err := r.mutator.MoveFile(r.replicaPath(mv.from), r.replicaPath(parked)); err != nil {
		return errors.WithContext(err, fmt.Sprintf("park %q", mv.from))
	}
	r.log.WithFields(logrus.Fields{
		"path":   mv.from,
		"parked": parked,
	}).Debug("Parked file that's in the way of a move")

	delete(pending, mv.from)
	mv.from = parked
	pending[parked] = mv
	return nil
}

func (r *reconciler) deleteFiles() error {
	for _, f := range r.remainingReplicaFiles() {
		if err := r.deleteFile(f); err != nil {
			return err
		}
	}
	return nil
}

func (r *reconciler) copyFiles() error {
	for _, f := range r.toCopy {
		if err := r.copyFile(f); err != nil {
			return err
		}
	}
	return nil
}

func (r *reconciler) deleteDirs() error {
	stale := r.staleDirs()

	// Directories can only be deleted once they're empty, so delete the
	// deepest directories first. A directory's path is always longer than
	// its parent's.
	sort.Slice(stale, func(i, j int) bool {
		left, right := len(stale[i].FullPath()), len(stale[j].FullPath())
		if left != right {
			return left > right
		}
		return stale[i].RelativePath < stale[j].RelativePath
	})

	for _, dir := range stale {
		if err := r.mutator.DeleteDir(dir.FullPath()); err != nil {
			return errors.WithContext(err, fmt.Sprintf("delete %q", dir.RelativePath))
		}
		r.result.DeletedDirs = append(r.result.DeletedDirs, dir)
		r.log.WithField("path", dir.RelativePath).Info("Deleted directory")
	}
	return nil
}

func (r *reconciler) copyFilesReplacingDirs() error {
	for _, f := range r.toCopyAfterDirs {
		if err := r.copyFile(f); err != nil {
			return err
		}
	}
	return nil
}

func (r *reconciler) deleteFile(f FileEntry) error {
	if err := r.mutator.DeleteFile(f.FullPath()); err != nil {
		return errors.WithContext(err, fmt.Sprintf("delete %q", f.RelativePath))
	}
	delete(r.replicaFiles, f.RelativePath)
	r.result.DeletedFiles = append(r.result.DeletedFiles, f)
	r.log.WithField("path", f.RelativePath).Info("Deleted file")
	return nil
}

func (r *reconciler) copyFile(f FileEntry) error {
	if err := r.mutator.CopyFile(f.FullPath(), r.replicaPath(f.RelativePath)); err != nil {
		return errors.WithContext(err, fmt.Sprintf("copy %q", f.RelativePath))
	}
	r.result.CreatedFiles = append(r.result.CreatedFiles, f)
	r.log.WithField("path", f.RelativePath).Info("Copied file")
	return nil
}

// staleDirs returns the replica directories that don't exist in the source.
func (r *reconciler) staleDirs() (stale []DirectoryEntry) {
	sourceDirs := dirSet(r.source.Dirs)
	for _, dir := range r.replica.Dirs {
		if _, ok := sourceDirs[dir.RelativePath]; !ok {
			stale = append(stale, dir)
		}
	}
	return stale
}

func (r *reconciler) remainingReplicaFiles() []FileEntry {
	var files []FileEntry
	for _, f := range r.replicaFiles {
		files = append(files, f)
	}
	return sortedFiles(files)
}

func (r *reconciler) replicaPath(relativePath string) string {
	return filepath.Join(r.replica.Base, relativePath)
}

func dirSet(dirs []DirectoryEntry) map[string]struct{} {
	set := map[string]struct{}{}
	for _, dir := range dirs {
		set[dir.RelativePath] = struct{}{}
	}
	return set
}

func sortedDirs(dirs []DirectoryEntry) []DirectoryEntry {
	sorted := append([]DirectoryEntry{}, dirs...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].RelativePath < sorted[j].RelativePath
	})
	return sorted
}

func sortedFiles(files []FileEntry) []FileEntry {
	sorted := append([]FileEntry{}, files...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].RelativePath < sorted[j].RelativePath
	})
	return sorted
}
