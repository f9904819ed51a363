package config

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher backstops mtime polling on site_devices.json and
// sos_templates_modbus.json with an fsnotify watch on their containing
// directory, so a reload is normally event-driven rather than purely a
// busy poll. It never decides by itself whether content actually
// changed — the caller's mtime check remains authoritative, per
// SPEC_FULL.md §4.8.
type Watcher struct {
	sitePath, templatesPath string

	fsw    *fsnotify.Watcher
	stop   chan struct{}
	done   chan struct{}
	Logger *log.Logger
}

// NewWatcher sets up an fsnotify watch on the directory containing
// sitePath and templatesPath (they are expected to share a directory).
func NewWatcher(sitePath, templatesPath string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(sitePath)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		sitePath:      sitePath,
		templatesPath: templatesPath,
		fsw:           fsw,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}, nil
}

// Run calls onChange whenever a write/create/rename event touches
// either watched file. It blocks until Stop is called.
func (w *Watcher) Run(onChange func()) {
	defer close(w.done)
	site := filepath.Clean(w.sitePath)
	templates := filepath.Clean(w.templatesPath)

	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Clean(ev.Name)
			if name == site || name == templates {
				onChange()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.Logger != nil {
				w.Logger.Printf("modbus wiretap: config watcher error: %v", err)
			}
		}
	}
}

// Stop tears down the fsnotify watch and waits for Run to return.
func (w *Watcher) Stop() {
	close(w.stop)
	w.fsw.Close()
	<-w.done
}

// Mtime returns path's modification time, or the zero time if it cannot
// be stat'd (a missing file is not fatal to the reload loop; it simply
// never triggers a reload until it reappears).
func Mtime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
