package ingest

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"

	"arf/internal/logging"
)

// Watcher reports new export files dropped into the input directory
// between directory scans.
type Watcher struct {
	watcher *fsnotify.Watcher
	events  chan string
}

// NewWatcher starts watching dir for new .json exports.
func NewWatcher(dir string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w := &Watcher{
		watcher: fw,
		events:  make(chan string, 16),
	}
	go w.loop()

	logging.Ingest("watching %s for new exports", dir)
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.events)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if !strings.HasSuffix(ev.Name, ".json") {
				continue
			}
			select {
			case w.events <- ev.Name:
			default:
				// Channel full: the periodic scan will pick the file up.
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryIngest).Warn("watcher error: %v", err)
		}
	}
}

// Events returns the channel of newly arrived export paths.
func (w *Watcher) Events() <-chan string {
	return w.events
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
