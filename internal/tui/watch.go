package tui

import (
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// SnapshotWatcher signals changes to the process snapshot file. The
// directory is watched because the snapshot is replaced by rename.
type SnapshotWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	changed chan struct{}
	done    chan struct{}
}

// NewSnapshotWatcher starts watching path.
func NewSnapshotWatcher(path string) (*SnapshotWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, err
	}

	sw := &SnapshotWatcher{
		path:    filepath.Clean(path),
		watcher: w,
		changed: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go sw.loop()
	return sw, nil
}

func (sw *SnapshotWatcher) loop() {
	defer close(sw.done)
	for {
		select {
		case ev, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != sw.path {
				continue
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				// Coalesce bursts into one pending notification.
				select {
				case sw.changed <- struct{}{}:
				default:
				}
			}
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("Snapshot watcher error: %v", err)
		}
	}
}

// Changed receives a value after the snapshot file changed.
func (sw *SnapshotWatcher) Changed() <-chan struct{} {
	return sw.changed
}

// Close stops the watcher.
func (sw *SnapshotWatcher) Close() error {
	err := sw.watcher.Close()
	<-sw.done
	return err
}
