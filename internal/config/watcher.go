package config

import (
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce absorbs the event bursts editors produce when saving: most
// write a temp file and rename it over the original, which fires several
// events for one logical change.
const reloadDebounce = 100 * time.Millisecond

// fileWatcher watches one config file and triggers a reload when it changes.
// The watch is on the parent directory, since a rename-over-save replaces the
// inode the file path pointed at.
type fileWatcher struct {
	watcher *fsnotify.Watcher
	stop    chan struct{}

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

// watchConfigFile starts watching path and calls reload after each change.
func watchConfigFile(path string, reload func()) (*fileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	fw := &fileWatcher{
		watcher: watcher,
		stop:    make(chan struct{}),
	}
	go fw.loop(filepath.Base(path), reload)

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		fw.Stop()
		return nil, err
	}
	return fw, nil
}

// Stop stops the watcher.
func (fw *fileWatcher) Stop() {
	close(fw.stop)
	fw.watcher.Close()
}

func (fw *fileWatcher) loop(base string, reload func()) {
	for {
		select {
		case <-fw.stop:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			fw.debounceMu.Lock()
			if fw.debounceTimer != nil {
				fw.debounceTimer.Stop()
			}
			fw.debounceTimer = time.AfterFunc(reloadDebounce, func() {
				log.Printf("[Config] File changed, reloading...")
				reload()
			})
			fw.debounceMu.Unlock()
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[Config] Watcher error: %v", err)
		}
	}
}
