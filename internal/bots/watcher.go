package bots

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/exatta/encerramento/internal/log"
)

// Watch reloads the registry whenever the bots directory changes. Bursts of
// events are collapsed into a single reload.
func (r *Registry) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	root := r.Dir()
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		watcher.Close()
		return err
	}

	r.watcher = watcher
	r.stopChan = make(chan struct{})
	log.Info().Str("dir", root).Msg("Watching bots directory")

	go r.processEvents()
	return nil
}

// Close stops the watcher, if running.
func (r *Registry) Close() error {
	if r.watcher == nil {
		return nil
	}
	close(r.stopChan)
	r.timerMu.Lock()
	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
	}
	r.timerMu.Unlock()
	return r.watcher.Close()
}

func (r *Registry) processEvents() {
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			r.handleEvent(event)
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Bots watcher error")
		case <-r.stopChan:
			return
		}
	}
}

func (r *Registry) handleEvent(event fsnotify.Event) {
	// Chmod fires on reads and permission tweaks; nothing to reload.
	if event.Op == fsnotify.Chmod {
		return
	}

	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			r.watcher.Add(event.Name)
		}
	}

	r.timerMu.Lock()
	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
	}
	r.debounceTimer = time.AfterFunc(r.debounceDelay, r.reload)
	r.timerMu.Unlock()
}

func (r *Registry) reload() {
	if err := r.Load(); err != nil {
		log.Error().Err(err).Msg("Failed to reload bots")
	}
}
