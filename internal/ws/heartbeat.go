package ws

import (
	"context"
	"log"
	"time"
)

// DefaultHeartbeatInterval is the Heartbeat's default tick period (§4.9).
const DefaultHeartbeatInterval = 30 * time.Second

// Heartbeat periodically pings every connected client and evicts ones that
// have missed two consecutive replies.
type Heartbeat struct {
	broadcaster *Broadcaster
	interval    time.Duration
}

// NewHeartbeat constructs a Heartbeat over broadcaster. interval <= 0 uses
// DefaultHeartbeatInterval.
func NewHeartbeat(broadcaster *Broadcaster, interval time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Heartbeat{broadcaster: broadcaster, interval: interval}
}

// Run blocks, ticking at h.interval until ctx is cancelled.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[heartbeat] stopped")
			return
		case <-ticker.C:
			h.tick()
		}
	}
}

// tick evicts clients stale for two missed intervals, then pings every
// client still standing. A client evicted this tick receives no ping
// (S6).
func (h *Heartbeat) tick() {
	staleAfter := 2 * h.interval
	var stale []string

	h.broadcaster.EachClient(func(id string, lastPong time.Time, now time.Time) {
		if now.Sub(lastPong) > staleAfter {
			stale = append(stale, id)
		}
	})

	for _, id := range stale {
		log.Printf("[heartbeat] evicting stale client %s", id)
		h.broadcaster.RemoveStale(id)
	}

	h.broadcaster.Ping()
}
