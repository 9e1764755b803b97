package mock

import (
	"context"
	"testing"
	"time"

	"github.com/fleetwatch/backend/internal/diff"
	"github.com/fleetwatch/backend/internal/fleet"
	"github.com/fleetwatch/backend/internal/patterns"
	"github.com/fleetwatch/backend/internal/session"
	"github.com/fleetwatch/backend/internal/tmux"
)

// noopSink satisfies fleet.Sink without touching a real WebSocket
// broadcaster, recording just enough to assert the engine actually ran.
type noopSink struct {
	paneUpdates int
	events      int
}

func (s *noopSink) PublishWindows([]tmux.Window)                                  {}
func (s *noopSink) PublishPaneUpdate(*session.Pane, *session.Session, bool)        { s.paneUpdates++ }
func (s *noopSink) PublishPaneRemoved(string)                                      {}
func (s *noopSink) PublishTerminalDiff(string, string, []diff.DiffOp, uint64)      {}
func (s *noopSink) PublishTerminalOutput(string, string, string, uint64)           {}
func (s *noopSink) PublishEvent(session.TransitionEvent)                          { s.events++ }

func testRegistry(t *testing.T) *patterns.Registry {
	t.Helper()
	reg, err := patterns.NewRegistry()
	if err != nil {
		t.Fatalf("patterns.NewRegistry: %v", err)
	}
	return reg
}

func TestGenerator_SeedsPanesAndDrivesReconciler(t *testing.T) {
	panes := session.NewPaneSet()
	sink := &noopSink{}
	engine := fleet.New(panes, testRegistry(t), sink, nil)

	gen := NewGenerator(panes, engine, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		gen.Start(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	all := panes.AllPanes()
	if len(all) != 2 {
		t.Fatalf("got %d seeded panes, want 2", len(all))
	}
	for _, p := range all {
		if p.Kind != session.KindInteractiveAI {
			t.Errorf("pane %s: kind = %s, want interactive-ai", p.ID, p.Kind)
		}
	}
	if sink.paneUpdates == 0 {
		t.Error("generator ran but the engine never published a pane update")
	}
}

func TestGenerator_AdvancesScriptOverTicks(t *testing.T) {
	panes := session.NewPaneSet()
	engine := fleet.New(panes, testRegistry(t), &noopSink{}, nil)
	gen := NewGenerator(panes, engine, 1)
	for _, m := range gen.mocks {
		panes.UpsertPane(&session.Pane{ID: m.paneID, Address: m.address, Kind: session.KindInteractiveAI})
	}

	m := gen.mocks[0]
	startIdx := m.idx
	for i := 0; i < m.script[startIdx].holdFor; i++ {
		gen.tick()
	}

	if m.idx == startIdx {
		t.Errorf("script index did not advance after %d ticks", m.script[startIdx].holdFor)
	}
}
