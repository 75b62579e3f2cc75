package sync

//go:generate mockery -name Mutator

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sidkik/dirmirror/pkg/errors"
)

// Mutator applies changes to the replica. All paths are full paths.
type Mutator interface {
	// CreateDir creates the directory at `path`, along with any missing
	// parents.
	CreateDir(path string) error

	// DeleteDir removes the directory at `path`. The directory must be empty.
	DeleteDir(path string) error

	// MoveFile moves the file at `src` to `dst`.
	MoveFile(src, dst string) error

	// DeleteFile removes the file at `path`.
	DeleteFile(path string) error

	// CopyFile copies the file at `src` to `dst`. It fails if `dst` already
	// exists.
	CopyFile(src, dst string) error
}

type fsMutator struct{}

// NewFSMutator returns a Mutator that modifies the filesystem.
func NewFSMutator() Mutator {
	return fsMutator{}
}

func (fsMutator) CreateDir(path string) error {
	return fs.MkdirAll(path, 0755)
}

func (fsMutator) DeleteDir(path string) error {
	return fs.Remove(path)
}

func (fsMutator) MoveFile(src, dst string) error {
	return fs.Rename(src, dst)
}

func (fsMutator) DeleteFile(path string) error {
	return fs.Remove(path)
}

func (fsMutator) CopyFile(src, dst string) error {
	srcFile, err := fs.Open(src)
	if err != nil {
		return errors.WithContext(err, "open source")
	}
	defer srcFile.Close()

	fileInfo, err := srcFile.Stat()
	if err != nil {
		return errors.WithContext(err, "stat")
	}

	dstFile, err := fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fileInfo.Mode().Perm())
	if err != nil {
		return errors.WithContext(err, "open destination")
	}

	// The destination is closed explicitly rather than deferred because
	// closing a written file may update its modification time.
	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		return errors.WithContext(err, "copy")
	}

	if err := dstFile.Close(); err != nil {
		return errors.WithContext(err, "close destination")
	}

	if err := fs.Chmod(dst, fileInfo.Mode().Perm()); err != nil {
		return errors.WithContext(err, "set file mode")
	}

	// Change the modification time as the last step so that it doesn't get
	// reset by other file operations. The replica's fingerprint depends on it.
	if err := fs.Chtimes(dst, time.Now(), fileInfo.ModTime()); err != nil {
		return errors.WithContext(err, "set file modtime")
	}
	return nil
}

type dryRunMutator struct {
	log logrus.FieldLogger
}

// NewDryRunMutator returns a Mutator that only logs the changes it's asked to
// make.
func NewDryRunMutator(log logrus.FieldLogger) Mutator {
	return dryRunMutator{log}
}

func (m dryRunMutator) CreateDir(path string) error {
	m.log.WithField("path", path).Info("Would create directory")
	return nil
}

func (m dryRunMutator) DeleteDir(path string) error {
	m.log.WithField("path", path).Info("Would delete directory")
	return nil
}

func (m dryRunMutator) MoveFile(src, dst string) error {
	m.log.WithFields(logrus.Fields{"from": src, "to": dst}).Info("Would move file")
	return nil
}

func (m dryRunMutator) DeleteFile(path string) error {
	m.log.WithField("path", path).Info("Would delete file")
	return nil
}

func (m dryRunMutator) CopyFile(src, dst string) error {
	m.log.WithFields(logrus.Fields{"from": src, "to": dst}).Info("Would copy file")
	return nil
}
