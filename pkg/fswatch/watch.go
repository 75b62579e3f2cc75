// Package fswatch notifies the mirror when the source directory changes, so
// that changes are mirrored without waiting for the next interval.
package fswatch

import (
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/dirmirror/pkg/errors"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// Watch watches for changes to any file or directory below `root`. It sends an
// event on the returned channel whenever something changes. Bursts of changes
// are combined into a single event.
// The returned function stops the watch.
func Watch(root string) (chan struct{}, func() error, error) {
	pathsToWatch, err := getPathsToWatch(root)
	if err != nil {
		return nil, nil, errors.WithContext(err, "get paths")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, errors.WithContext(err, "create watcher")
	}

	for _, path := range pathsToWatch {
		if err := watcher.Add(path); err != nil {
			// Close the watcher so that we release the file handlers for the
			// previously added paths.
			if err := watcher.Close(); err != nil {
				log.WithError(err).Warn("Failed to close file watcher")
			}

			return nil, nil, errors.WithContext(err, fmt.Sprintf("watch %q", path))
		}
	}

	events := make(chan fsnotify.Event)
	go forwardEvents(watcher, events)
	return combineUpdates(events), watcher.Close, nil
}

// forwardEvents passes on the watcher's events until the watcher is closed.
func forwardEvents(watcher *fsnotify.Watcher, events chan<- fsnotify.Event) {
	defer close(events)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			handleEvent(watcher, event)
			events <- event
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("File watcher error")
		}
	}
}

type adder interface {
	Add(path string) error
}

// handleEvent starts watching directories that are created below the root.
// fsnotify doesn't watch directories recursively.
func handleEvent(watcher adder, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) {
		return
	}

	fi, err := fs.Stat(event.Name)
	if err != nil || !fi.IsDir() {
		// The path may have already been removed again. Either way, there's
		// nothing new to watch.
		return
	}

	paths, err := getPathsToWatch(event.Name)
	if err != nil {
		log.WithError(err).WithField("path", event.Name).Warn("Failed to list new directory")
		return
	}

	for _, path := range paths {
		if err := watcher.Add(path); err != nil {
			log.WithError(err).WithField("path", path).Warn("Failed to watch new directory")
		}
	}
}

func combineUpdates(updates <-chan fsnotify.Event) chan struct{} {
	combined := make(chan struct{}, 1)
	go func() {
		for range updates {
			select {
			case combined <- struct{}{}:
			default:
			}
		}
	}()
	return combined
}

// getPathsToWatch returns `root` and all the directories below it. Watching a
// directory also reports changes to the files directly inside it.
func getPathsToWatch(root string) (paths []string, err error) {
	fi, err := fs.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound{Path: root}
		}
		return nil, errors.WithContext(err, "stat")
	}

	if !fi.IsDir() {
		return nil, fmt.Errorf("%q is not a directory", root)
	}

	err = afero.Walk(fs, root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return errors.WithContext(err, "walk error")
		}

		if fi.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}
