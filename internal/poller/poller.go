// Package poller implements the Pane Poller: a ticker-driven scheduler that
// snapshots the multiplexer, detects pane lifecycle changes, and feeds
// terminal-content changes to the Reconciler.
package poller

import (
	"context"
	"hash/fnv"
	"log"
	"time"

	"github.com/fleetwatch/backend/internal/session"
	"github.com/fleetwatch/backend/internal/tmux"
)

// DefaultInterval is the Poller's default base interval.
const DefaultInterval = 250 * time.Millisecond

// ScrollbackLines bounds how much trailing scroll-back is captured and
// retained per pane.
const ScrollbackLines = 30

// Adapter is the subset of the Multiplexer Adapter the Poller drives.
type Adapter interface {
	Snapshot(ctx context.Context) ([]tmux.Window, error)
	Capture(ctx context.Context, paneTarget string, lastN int) (string, error)
}

// ContentHandler is invoked once per pane whose captured content changed,
// with the new content and the pane's new monotonic sequence number. It is
// the Poller's hook into the Reconciler.
type ContentHandler func(paneID string, content string, seq uint64)

// RemovalHandler is invoked once a pane has been absent for two
// consecutive snapshots.
type RemovalHandler func(paneID string)

// SnapshotHandler is invoked once per cycle with the full window/pane list.
type SnapshotHandler func(windows []tmux.Window)

// Poller drives an Adapter at a fixed interval, publishing pane lifecycle
// and content-change events. At most one cycle runs at a time; a tick that
// arrives while a cycle is still running is coalesced, not queued, by
// virtue of running every cycle synchronously on a single goroutine.
type Poller struct {
	adapter  Adapter
	interval time.Duration
	panes    *session.PaneSet

	onContent  ContentHandler
	onRemoval  RemovalHandler
	onSnapshot SnapshotHandler

	hashes map[string]uint64
	seqs   map[string]uint64
	health *tmux.Health
}

// New constructs a Poller. interval <= 0 uses DefaultInterval.
func New(adapter Adapter, panes *session.PaneSet, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		adapter:  adapter,
		interval: interval,
		panes:    panes,
		hashes:   make(map[string]uint64),
		seqs:     make(map[string]uint64),
		health:   tmux.NewHealth(),
	}
}

// OnContentChange registers the handler invoked on pane content change.
func (p *Poller) OnContentChange(h ContentHandler) { p.onContent = h }

// OnRemoval registers the handler invoked on pane eviction.
func (p *Poller) OnRemoval(h RemovalHandler) { p.onRemoval = h }

// OnSnapshot registers the handler invoked once per cycle with all windows.
func (p *Poller) OnSnapshot(h SnapshotHandler) { p.onSnapshot = h }

// Health exposes the Adapter's consecutive-failure health tracker.
func (p *Poller) Health() *tmux.Health { return p.health }

// Run blocks, running one cycle immediately then on every tick, until ctx
// is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("[poller] stopped")
			return
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

func (p *Poller) cycle(ctx context.Context) {
	windows, err := p.adapter.Snapshot(ctx)
	if err != nil {
		p.health.RecordFailure(err)
		log.Printf("[poller] snapshot error: %v", err)
		return
	}
	p.health.RecordSuccess()

	current := make(map[string]tmux.WindowPane)
	for _, w := range windows {
		for _, pane := range w.Panes {
			current[pane.ID] = pane
		}
	}

	for _, pane := range p.panes.AllPanes() {
		if _, present := current[pane.ID]; present {
			continue
		}
		if evict := p.panes.MarkMissing(pane.ID); evict {
			p.panes.RemovePane(pane.ID)
			delete(p.hashes, pane.ID)
			delete(p.seqs, pane.ID)
			if p.onRemoval != nil {
				p.onRemoval(pane.ID)
			}
		}
	}

	for id, wp := range current {
		p.panes.ClearMissing(id)
		p.panes.UpsertPane(&session.Pane{
			ID:         id,
			Address:    wp.Target,
			Kind:       wp.Kind,
			WorkingDir: wp.WorkingDir,
			PID:        wp.PID,
		})

		if wp.Kind != session.KindInteractiveAI {
			continue
		}

		content, err := p.adapter.Capture(ctx, wp.Target, ScrollbackLines)
		if err != nil {
			log.Printf("[poller] capture error for %s: %v", wp.Target, err)
			continue
		}

		h := hashContent(content)
		if prev, ok := p.hashes[id]; ok && prev == h {
			continue
		}
		p.hashes[id] = h

		p.seqs[id]++
		seq := p.seqs[id]

		pane, _ := p.panes.Pane(id)
		if pane != nil {
			pane.ScrollBack = content
			p.panes.UpsertPane(pane)
		}

		if p.onContent != nil {
			p.onContent(id, content, seq)
		}
	}

	if p.onSnapshot != nil {
		p.onSnapshot(windows)
	}
}

// hashContent computes a 64-bit content hash, cheap enough to run every
// cycle for every interactive-AI pane.
func hashContent(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
