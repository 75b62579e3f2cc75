package sync

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Result describes what a reconciliation pass did.
//
// Deleted entries come from the replica snapshot. All other entries come from
// the source snapshot. In particular, moved files are described by their new
// location.
type Result struct {
	MatchingDirs []DirectoryEntry
	CreatedDirs  []DirectoryEntry
	DeletedDirs  []DirectoryEntry

	MatchingFiles []FileEntry
	CreatedFiles  []FileEntry
	DeletedFiles  []FileEntry
	MovedFiles    []FileEntry
}

// Summary contains the number of entries in each category of a Result.
type Summary struct {
	MatchingDirs, CreatedDirs, DeletedDirs                int
	MatchingFiles, CreatedFiles, DeletedFiles, MovedFiles int
}

// Legend explains the abbreviations used by Summary.String.
const Legend = "Legend: F is file, D is directory, = is matching, + is created, " +
	"- is deleted, > is moved"

// Summary counts the entries in the result.
func (res Result) Summary() Summary {
	return Summary{
		MatchingDirs:  len(res.MatchingDirs),
		CreatedDirs:   len(res.CreatedDirs),
		DeletedDirs:   len(res.DeletedDirs),
		MatchingFiles: len(res.MatchingFiles),
		CreatedFiles:  len(res.CreatedFiles),
		DeletedFiles:  len(res.DeletedFiles),
		MovedFiles:    len(res.MovedFiles),
	}
}

// Changes returns the number of filesystem changes that were made.
func (s Summary) Changes() int {
	return s.CreatedDirs + s.DeletedDirs + s.CreatedFiles + s.DeletedFiles + s.MovedFiles
}

func (s Summary) String() string {
	return fmt.Sprintf("D=:%d\tD+:%d\tD-:%d\tF=:%d\tF+:%d\tF-:%d\tF>:%d",
		s.MatchingDirs, s.CreatedDirs, s.DeletedDirs,
		s.MatchingFiles, s.CreatedFiles, s.DeletedFiles, s.MovedFiles)
}

// Fields returns the summary as structured log fields.
func (s Summary) Fields() logrus.Fields {
	return logrus.Fields{
		"matchingDirs":  s.MatchingDirs,
		"createdDirs":   s.CreatedDirs,
		"deletedDirs":   s.DeletedDirs,
		"matchingFiles": s.MatchingFiles,
		"createdFiles":  s.CreatedFiles,
		"deletedFiles":  s.DeletedFiles,
		"movedFiles":    s.MovedFiles,
	}
}
