package hooks

import (
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultLRUCapacity bounds the dedup set's memory footprint.
const DefaultLRUCapacity = 4096

// pollFallbackInterval is how often the drop directory is swept when the
// fsnotify watch could not be established.
const pollFallbackInterval = 2 * time.Second

// Handler receives normalized, deduplicated hook events.
type Handler func(Event)

// Ingest watches a drop directory for hook reports written by an
// out-of-band wrapper script, normalizing and deduplicating them before
// handing them to a Handler.
type Ingest struct {
	dir     string
	handler Handler

	mu  sync.Mutex
	lru *dedupLRU
}

// New constructs an Ingest watching dir for dropped report files.
func New(dir string, handler Handler) *Ingest {
	return &Ingest{
		dir:     dir,
		handler: handler,
		lru:     newDedupLRU(DefaultLRUCapacity),
	}
}

// Deliver normalizes, dedups, and dispatches a single raw report. Exposed
// directly so the HTTP hook endpoint (POST /event) can use it without going
// through the filesystem.
func (in *Ingest) Deliver(data []byte) {
	ev, err := Normalize(data)
	if err != nil {
		log.Printf("[hooks] malformed report: %v", err)
		return
	}
	if ev.SessionID == "" || ev.Type == "" {
		return
	}

	in.mu.Lock()
	dup := in.lru.seen(keyFor(ev))
	in.mu.Unlock()
	if dup {
		return
	}

	if in.handler != nil {
		in.handler(ev)
	}
}

// Run watches the drop directory with fsnotify, falling back to polling if
// the watch cannot be established — never fatal, per the propagation
// policy: a degraded hook pathway should not bring the process down.
func (in *Ingest) Run(stop <-chan struct{}) {
	if in.dir == "" {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[hooks] fsnotify unavailable, falling back to polling: %v", err)
		in.runPolling(stop)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(in.dir); err != nil {
		log.Printf("[hooks] watch on %s failed, falling back to polling: %v", in.dir, err)
		in.runPolling(stop)
		return
	}

	in.sweep()

	for {
		select {
		case <-stop:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				in.consumeFile(event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[hooks] watch error: %v", err)
		}
	}
}

func (in *Ingest) runPolling(stop <-chan struct{}) {
	ticker := time.NewTicker(pollFallbackInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			in.sweep()
		}
	}
}

// sweep reads every file currently in the drop directory, delivers it, and
// removes it — mirrors the teacher's consumeSessionEndMarkers drain loop.
func (in *Ingest) sweep() {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[hooks] drop dir read error: %v", err)
		}
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		in.consumeFile(filepath.Join(in.dir, entry.Name()))
	}
}

func (in *Ingest) consumeFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	in.Deliver(data)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("[hooks] cleanup error for %s: %v", path, err)
	}
}
