package sync

import (
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"io"

	"github.com/spf13/afero"

	"github.com/sidkik/dirmirror/pkg/errors"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// Fingerprint returns the sha512 hash of the contents of the file at the given
// path, followed by its modification time. Two files are considered identical
// if and only if their fingerprints are equal.
//
// Since the modification time is part of the fingerprint, touching a file
// without changing its contents makes it look different, and it gets copied
// again on the next pass.
func Fingerprint(path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", errors.WithContext(err, "open")
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return "", errors.WithContext(err, "stat")
	}

	hasher := sha512.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", errors.WithContext(err, "read")
	}

	var modTime [8]byte
	binary.BigEndian.PutUint64(modTime[:], uint64(fi.ModTime().UnixNano()))
	hasher.Write(modTime[:])

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
