package server

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// dirWatcher pushes dir_changed notices to sessions after they navigate to a
// local directory. Each session watches at most one directory, its most
// recent navigation target; remote paths are never watched.
type dirWatcher struct {
	fw     *fsnotify.Watcher
	logger *slog.Logger

	mu        sync.Mutex
	byPath    map[string]map[string]*session
	bySession map[string]string
	done      chan struct{}
}

func newDirWatcher(logger *slog.Logger) (*dirWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &dirWatcher{
		fw:        fw,
		logger:    logger,
		byPath:    make(map[string]map[string]*session),
		bySession: make(map[string]string),
		done:      make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *dirWatcher) run() {
	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.notify(filepath.Dir(event.Name))
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("directory watch error", "error", err)
		case <-w.done:
			return
		}
	}
}

func (w *dirWatcher) notify(dir string) {
	w.mu.Lock()
	var targets []*session
	for _, sess := range w.byPath[dir] {
		targets = append(targets, sess)
	}
	w.mu.Unlock()

	for _, sess := range targets {
		if err := sess.send(Message{Type: TypeDirChanged, Path: dir}); err != nil {
			w.logger.Debug("dir_changed not delivered", "sessionID", sess.ID(), "error", err)
		}
	}
}

// Watch points sess at dir, replacing any previous watch it held.
func (w *dirWatcher) Watch(sess *session, dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.dropLocked(sess.ID())

	if w.byPath[dir] == nil {
		if err := w.fw.Add(dir); err != nil {
			w.logger.Warn("cannot watch directory", "dir", dir, "error", err)
			return
		}
		w.byPath[dir] = make(map[string]*session)
	}
	w.byPath[dir][sess.ID()] = sess
	w.bySession[sess.ID()] = dir
}

// Drop removes the watch held by a session, if any.
func (w *dirWatcher) Drop(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dropLocked(sessionID)
}

func (w *dirWatcher) dropLocked(sessionID string) {
	dir, ok := w.bySession[sessionID]
	if !ok {
		return
	}
	delete(w.bySession, sessionID)

	sessions := w.byPath[dir]
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(w.byPath, dir)
		if err := w.fw.Remove(dir); err != nil {
			w.logger.Debug("cannot unwatch directory", "dir", dir, "error", err)
		}
	}
}

func (w *dirWatcher) Close() {
	close(w.done)
	w.fw.Close()
}
