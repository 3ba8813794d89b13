package analyze

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mpapenbr/iracelog-racemodel/log"
)

// settle is the quiet period after the last write before a file is processed.
const settle = 500 * time.Millisecond

// dirWatcher calls process for every json file created or written in dir.
type dirWatcher struct {
	dir     string
	process func(file string)
	log     *log.Logger
	mu      sync.Mutex
	pending map[string]*time.Timer
}

func newDirWatcher(dir string, process func(file string)) *dirWatcher {
	return &dirWatcher{
		dir:     dir,
		process: process,
		log:     log.Default().Named("watch"),
		pending: make(map[string]*time.Timer),
	}
}

func (w *dirWatcher) run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(w.dir); err != nil {
		return err
	}
	w.log.Info("watching for session files", log.String("dir", w.dir))
	for {
		select {
		case <-ctx.Done():
			w.log.Info("context done, stopping watch")
			w.stopPending()
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.log.Debug("change detected",
				log.String("file", event.Name), log.Any("event", event))
			if !strings.EqualFold(filepath.Ext(event.Name), ".json") {
				continue
			}
			if event.Op&fsnotify.Create == fsnotify.Create ||
				event.Op&fsnotify.Write == fsnotify.Write {

				w.schedule(event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error("watcher error", log.ErrorField(err))
		}
	}
}

// schedule delays processing until the file was not written for settle.
func (w *dirWatcher) schedule(file string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[file]; ok {
		t.Reset(settle)
		return
	}
	w.pending[file] = time.AfterFunc(settle, func() {
		w.mu.Lock()
		delete(w.pending, file)
		w.mu.Unlock()
		w.log.Info("analyzing", log.String("file", file))
		w.process(file)
	})
}

func (w *dirWatcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for file, t := range w.pending {
		t.Stop()
		delete(w.pending, file)
	}
}
