// Package fleet wires the Pane Poller, Hook Ingest, Terminal Parser, and
// Reconciler together: it is the stateful half of §4.7, the pure decision
// rules living in internal/session. Engine owns the per-pane hook-side
// state (last known hook status, its age, active subagent count) that the
// pure Reconciler needs but the Poller and Hook Ingest don't themselves
// track.
package fleet

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetwatch/backend/internal/diff"
	"github.com/fleetwatch/backend/internal/eventstore"
	"github.com/fleetwatch/backend/internal/hooks"
	"github.com/fleetwatch/backend/internal/parser"
	"github.com/fleetwatch/backend/internal/patterns"
	"github.com/fleetwatch/backend/internal/session"
	"github.com/fleetwatch/backend/internal/tmux"
)

// Sink is the outbound side the Engine publishes through. *ws.Broadcaster
// satisfies it; tests can substitute a recorder.
type Sink interface {
	PublishWindows(windows []tmux.Window)
	PublishPaneUpdate(pane *session.Pane, sess *session.Session, critical bool)
	PublishPaneRemoved(paneID string)
	PublishTerminalDiff(paneID, target string, ops []diff.DiffOp, seq uint64)
	PublishTerminalOutput(paneID, target, content string, seq uint64)
	PublishEvent(t session.TransitionEvent)
}

// hookTrack is the per-pane hook-side state the Reconciler's rules read.
type hookTrack struct {
	status              session.HookStatus
	eventAt             time.Time
	statusChangedAt     time.Time
	activeSubagents     int
	lastDetection       *session.TerminalDetection
	lastTerminalChange  time.Time
}

// Engine is the stateful Reconciler: it glues the Poller's content changes
// and the Hook Ingest's domain events into Reconcile() calls, applies the
// resulting decisions to the PaneSet, and publishes the outcome.
type Engine struct {
	panes    *session.PaneSet
	registry *patterns.Registry
	sink     Sink
	store    *eventstore.Store

	mu                    sync.Mutex
	tracks                map[string]*hookTrack // paneID -> hook state
	lastSent              map[string]string     // paneID -> last scroll-back broadcast
	externalSessionToPane map[string]string      // hook-reported session id -> paneID

	gamEvents chan<- session.Event
}

// New constructs an Engine. store may be nil (event persistence becomes a
// no-op, per §7's "a write failure logs and returns" propagation policy).
func New(panes *session.PaneSet, registry *patterns.Registry, sink Sink, store *eventstore.Store) *Engine {
	return &Engine{
		panes:                 panes,
		registry:              registry,
		sink:                  sink,
		store:                 store,
		tracks:                make(map[string]*hookTrack),
		lastSent:              make(map[string]string),
		externalSessionToPane: make(map[string]string),
	}
}

// SetGamificationSink wires a channel the Engine forwards a legacy-shaped
// session.Event to on every session creation/update/terminal transition,
// for the gamification stats tracker (an external collaborator, §1).
func (e *Engine) SetGamificationSink(ch chan<- session.Event) {
	e.mu.Lock()
	e.gamEvents = ch
	e.mu.Unlock()
}

func (e *Engine) trackFor(paneID string) *hookTrack {
	t, ok := e.tracks[paneID]
	if !ok {
		t = &hookTrack{}
		e.tracks[paneID] = t
	}
	return t
}

// OnSnapshot implements poller.SnapshotHandler: publish the full
// windows/pane list once per cycle (§4.5 step 6).
func (e *Engine) OnSnapshot(windows []tmux.Window) {
	e.sink.PublishWindows(windows)
}

// OnPaneRemoved implements poller.RemovalHandler. The Poller has already
// evicted the pane (and any bound session) from the PaneSet by the time
// this fires; the Engine's job is to drop its own tracking state and tell
// clients (B1: exactly one pane_removed, no further messages for it).
func (e *Engine) OnPaneRemoved(paneID string) {
	e.mu.Lock()
	delete(e.tracks, paneID)
	delete(e.lastSent, paneID)
	for ext, pid := range e.externalSessionToPane {
		if pid == paneID {
			delete(e.externalSessionToPane, ext)
		}
	}
	e.mu.Unlock()

	e.sink.PublishPaneRemoved(paneID)
}

// OnContent implements poller.ContentHandler: parse the new scroll-back,
// reconcile it against the pane's hook-side state, apply any transition,
// and publish the terminal content as a diff or a full payload (§4.7).
func (e *Engine) OnContent(paneID string, content string, seq uint64) {
	pane, ok := e.panes.Pane(paneID)
	if !ok {
		return
	}

	detection := parser.Detect(e.registry, content)
	now := time.Now()

	e.mu.Lock()
	track := e.trackFor(paneID)
	track.lastDetection = &detection
	track.lastTerminalChange = now
	e.mu.Unlock()

	sess, bound := e.panes.SessionForPane(paneID)
	isNew := !bound
	if !bound {
		sess = e.createSession(paneID)
	}

	e.reconcileAndPublish(pane, sess, track, now, isNew)

	e.mu.Lock()
	old := e.lastSent[paneID]
	e.lastSent[paneID] = content
	e.mu.Unlock()

	res := diff.Generate(old, content)
	if res.EstimatedSize < int(0.8*float64(diff.EstimateFullSize(content))) {
		e.sink.PublishTerminalDiff(paneID, pane.Address, res.Ops, seq)
	} else {
		e.sink.PublishTerminalOutput(paneID, pane.Address, content, seq)
	}
}

// createSession allocates and binds a new Session for a pane just
// identified as running an interactive-AI process (§3).
func (e *Engine) createSession(paneID string) *session.Session {
	sess := &session.Session{
		ID:     uuid.NewString(),
		PaneID: paneID,
		Status: session.StatusUnknown,
		Source: session.SourceTerminal,
	}
	e.panes.BindSession(paneID, sess)
	s, _ := e.panes.SessionForPane(paneID)
	return s
}

// OnHookEvent implements hooks.Handler: fold a normalized hook report into
// the referenced pane's hook-side state and re-run reconciliation.
func (e *Engine) OnHookEvent(ev hooks.Event) {
	paneID := e.resolvePane(ev)
	if paneID == "" {
		log.Printf("[fleet] hook event %s for unresolvable session %s, dropping", ev.Type, ev.SessionID)
		return
	}

	pane, ok := e.panes.Pane(paneID)
	if !ok {
		log.Printf("[fleet] hook event %s for unknown pane %s, dropping", ev.Type, paneID)
		return
	}

	now := time.Now()

	if ev.Type == hooks.TypeSessionEnd {
		if sess, bound := e.panes.SessionForPane(paneID); bound {
			e.panes.EndSession(sess.ID)
			e.sink.PublishPaneUpdate(pane, nil, false)
		}
		e.mu.Lock()
		delete(e.tracks, paneID)
		e.mu.Unlock()
		return
	}

	e.mu.Lock()
	track := e.trackFor(paneID)
	switch ev.Type {
	case hooks.TypeSubagentStart:
		track.activeSubagents++
	case hooks.TypeSubagentStop:
		if track.activeSubagents > 0 {
			track.activeSubagents--
		}
	}

	if hookStatus, ok := session.IntendedHookStatus(string(ev.Type), ev.Success, false); ok {
		if hookStatus != track.status {
			track.statusChangedAt = now
		}
		track.status = hookStatus
		track.eventAt = now
	}
	e.mu.Unlock()

	isNew := false
	if ev.Type == hooks.TypeSessionStart || ev.Type == hooks.TypePreTool || ev.Type == hooks.TypeUserPrompt {
		if _, bound := e.panes.SessionForPane(paneID); !bound {
			e.createSession(paneID)
			isNew = true
		}
	}

	sess, bound := e.panes.SessionForPane(paneID)
	if !bound {
		return
	}

	e.reconcileAndPublish(pane, sess, track, now, isNew)
}

// resolvePane finds the pane a hook event refers to, learning the
// hook-reported session id -> pane id mapping along the way so later
// events that carry only a session id can still be routed (the source
// doesn't guarantee every report names the pane directly).
func (e *Engine) resolvePane(ev hooks.Event) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ev.PaneID != "" {
		if ev.SessionID != "" {
			e.externalSessionToPane[ev.SessionID] = ev.PaneID
		}
		return ev.PaneID
	}
	if ev.SessionID != "" {
		return e.externalSessionToPane[ev.SessionID]
	}
	return ""
}

// reconcileAndPublish runs Reconcile with the pane's current hook-side
// state, applies the decision, and publishes the outcome: always a
// pane_update, plus an event and a persisted ledger row on genuine change.
// isNew marks the session's very first reconciliation, so gamification sees
// a new-session event rather than an ordinary update.
func (e *Engine) reconcileAndPublish(pane *session.Pane, sess *session.Session, track *hookTrack, now time.Time, isNew bool) {
	e.mu.Lock()
	in := session.Reconciliation{
		HookStatus:          track.status,
		HookEventAt:         track.eventAt,
		HookStatusChangedAt: track.statusChangedAt,
		Terminal:            track.lastDetection,
		TerminalChangedAt:   track.lastTerminalChange,
		Now:                 now,
		ActiveSubagents:     track.activeSubagents,
	}
	e.mu.Unlock()

	if in.Terminal != nil {
		sess.TerminalConfidence = in.Terminal.Confidence
		if in.Terminal.Prompt != nil {
			sess.Prompt = in.Terminal.Prompt
		}
		if in.Terminal.Error != nil {
			sess.LastError = in.Terminal.Error
		}
		sess.LastTerminalChangeAt = in.TerminalChangedAt
	}
	if !track.eventAt.IsZero() {
		sess.LastHookEventAt = track.eventAt
	}
	sess.ActiveSubagents = track.activeSubagents

	decision := session.Reconcile(sess.Status, in)
	transition, changed := session.ApplyDecision(sess, decision, now)

	if decision.Status == session.StatusWaiting && in.Terminal != nil && in.Terminal.Status == session.StatusWaiting {
		sess.Prompt = in.Terminal.Prompt
	} else if changed && decision.Status != session.StatusWaiting {
		sess.Prompt = nil
	}

	e.panes.UpdateSession(sess)

	e.sink.PublishPaneUpdate(pane, sess, session.IsCriticalStatus(sess.Status))

	if changed {
		e.sink.PublishEvent(transition)
		e.persistTransition(transition)
	}

	switch {
	case isNew:
		e.emitGamification(pane, sess, session.EventNew)
	case changed && (sess.Status == session.StatusIdle || sess.Status == session.StatusError):
		e.emitGamification(pane, sess, session.EventTerminal)
	case changed:
		e.emitGamification(pane, sess, session.EventUpdate)
	}
}

func (e *Engine) persistTransition(t session.TransitionEvent) {
	if e.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.store.AppendEvent(ctx, t.PaneID, t.SessionID, "status_change", t); err != nil {
		log.Printf("[fleet] event persistence failed: %v", err)
	}
}

func (e *Engine) emitGamification(pane *session.Pane, sess *session.Session, typ session.EventType) {
	e.mu.Lock()
	ch := e.gamEvents
	e.mu.Unlock()
	if ch == nil {
		return
	}
	state := ToLegacySessionState(pane, sess)
	select {
	case ch <- session.Event{Type: typ, State: state, ActiveCount: e.panes.ActiveSessionCount()}:
	default:
		log.Printf("[fleet] gamification event channel full, dropping update for %s", sess.ID)
	}
}
