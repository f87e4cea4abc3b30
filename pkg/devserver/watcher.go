package devserver

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"agentdev/pkg/logx"
)

// restartHintFiles are files whose changes hot reload does not cover: the
// developer has to restart (CodeZip) or rebuild (Container) to pick them
// up. The watcher turns edits to them into warn events.
var restartHintFiles = map[string]string{
	"requirements.txt": "restart the dev server to install updated dependencies",
	dockerfileName:     "restart the dev server to rebuild the image",
}

// restartHintWatcher is best-effort: if the watch cannot be established
// the dev server runs without hints.
type restartHintWatcher struct {
	s       *Server
	watcher *fsnotify.Watcher
	stopped chan struct{}
}

func newRestartHintWatcher(s *Server) *restartHintWatcher {
	return &restartHintWatcher{s: s, stopped: make(chan struct{})}
}

func (w *restartHintWatcher) start() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.s.logger.Debug("restart-hint watcher unavailable: %v", err)
		return
	}
	if err := watcher.Add(w.s.cfg.Dir); err != nil {
		w.s.logger.Debug("cannot watch %s: %v", w.s.cfg.Dir, err)
		_ = watcher.Close()
		return
	}
	w.watcher = watcher

	go func() {
		for {
			select {
			case <-w.stopped:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				name := filepath.Base(event.Name)
				if hint, tracked := restartHintFiles[name]; tracked {
					w.s.emit(logx.LevelWarn, fmt.Sprintf("%s changed: %s", name, hint))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				w.s.logger.Debug("watch error: %v", err)
			}
		}
	}()
}

func (w *restartHintWatcher) stop() {
	close(w.stopped)
	if w.watcher != nil {
		_ = w.watcher.Close()
	}
}
