package sync

import (
	"path/filepath"
)

// FileEntry is a file captured in a Snapshot.
type FileEntry struct {
	// Fingerprint identifies the contents of the file. See Fingerprint.
	Fingerprint string

	// BasePath is the root of the tree the file was found in.
	BasePath string

	// RelativePath is the path of the file relative to BasePath. It's unique
	// within a Snapshot.
	RelativePath string
}

// FullPath returns the path to the file on the filesystem.
func (f FileEntry) FullPath() string {
	return filepath.Join(f.BasePath, f.RelativePath)
}

// DirectoryEntry is a directory captured in a Snapshot. Two directories are
// the same if they have the same relative path, regardless of their contents.
type DirectoryEntry struct {
	BasePath     string
	RelativePath string
}

// FullPath returns the path to the directory on the filesystem.
func (d DirectoryEntry) FullPath() string {
	return filepath.Join(d.BasePath, d.RelativePath)
}

// Snapshot contains all the directories and files under a root at the time
// the snapshot was taken.
type Snapshot struct {
	Base  string
	Dirs  []DirectoryEntry
	Files []FileEntry

	// Missing is true if Base didn't exist when the snapshot was taken.
	Missing bool
}
