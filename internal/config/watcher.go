package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/skellig/convoke/internal/analyzer"
)

// LexiconWatcher hot-reloads the analyzer's keyword lexicon when its
// YAML file changes on disk. A reload that fails to parse keeps the
// previous lexicon active.
type LexiconWatcher struct {
	path     string
	analyzer *analyzer.Analyzer
	watcher  *fsnotify.Watcher
	done     chan struct{}

	mu      sync.Mutex
	lastErr error
}

// WatchLexicon loads the lexicon at path, installs it on the analyzer,
// and starts watching the file for changes.
func WatchLexicon(path string, a *analyzer.Analyzer) (*LexiconWatcher, error) {
	lex, err := analyzer.LoadLexicon(path)
	if err != nil {
		return nil, err
	}
	a.SetLexicon(lex)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create lexicon watcher: %w", err)
	}
	// Watch the directory, not the file: editors replace files on save
	// and a file watch dies with the old inode.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	w := &LexiconWatcher{
		path:     path,
		analyzer: a,
		watcher:  watcher,
		done:     make(chan struct{}),
	}
	go w.watch()
	return w, nil
}

// watch reloads the lexicon on create/write events for the watched file.
func (w *LexiconWatcher) watch() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.reload()
		case <-w.watcher.Errors:
			// Ignore errors, keep watching
		}
	}
}

// reload parses the file and swaps it in; parse failures are recorded
// and the active lexicon stays untouched.
func (w *LexiconWatcher) reload() {
	lex, err := analyzer.LoadLexicon(w.path)

	w.mu.Lock()
	w.lastErr = err
	w.mu.Unlock()

	if err != nil {
		return
	}
	w.analyzer.SetLexicon(lex)
}

// LastError returns the most recent reload error, or nil if the last
// reload succeeded.
func (w *LexiconWatcher) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Close stops watching.
func (w *LexiconWatcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
