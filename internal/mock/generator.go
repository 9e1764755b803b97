// Package mock drives the fleet core with synthetic pane content instead of
// a real tmux server, for demoing and frontend development without any
// interactive-AI sessions actually running.
package mock

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/fleetwatch/backend/internal/fleet"
	"github.com/fleetwatch/backend/internal/session"
)

// tickInterval is how often the generator advances each mock pane's stage.
const tickInterval = 2 * time.Second

// stage is one step in a mock pane's scripted lifecycle: the scroll-back
// content it presents and how many ticks to hold it before advancing.
type stage struct {
	content string
	holdFor int
}

// mockPane is a single synthetic pane cycling through a scripted sequence
// of terminal content, driving the real Reconciler via fleet.Engine.OnContent
// exactly as the Poller would for a live pane.
type mockPane struct {
	paneID  string
	address string
	script  []stage
	idx     int
	held    int
	seq     uint64
}

var workingLines = []string{
	"Reading src/handlers/auth.go\nesc to interrupt",
	"Running tool: Edit\nesc to interrupt",
	"⠋ Thinking about the next step\nesc to interrupt",
	"Executing command: go test ./...\nesc to interrupt",
}

func scriptedSessions(n int) []*mockPane {
	panes := make([]*mockPane, 0, n)
	for i := 0; i < n; i++ {
		address := fmt.Sprintf("fleetwatch-mock:%d.0", i)
		panes = append(panes, &mockPane{
			paneID:  fmt.Sprintf("mock-pane-%d", i),
			address: address,
			script: []stage{
				{content: "$ claude\nStarting session...", holdFor: 1},
				{content: workingLines[i%len(workingLines)], holdFor: 3},
				{content: "Do you want to run this command?\n(y/n)", holdFor: 2},
				{content: workingLines[(i+1)%len(workingLines)], holdFor: 2},
				{content: "Ready for your next instruction\n> ", holdFor: 4},
			},
		})
	}
	// One scripted pane demonstrates the error path, for a frontend
	// developer who needs to see that state without inducing a real crash.
	if n > 0 {
		panes[0].script = append(panes[0].script, stage{
			content: "Fatal error: connection reset\nTraceback (most recent call last):",
			holdFor: 3,
		})
	}
	return panes
}

// Generator seeds synthetic panes into the PaneSet and feeds their scripted
// content through the real fleet.Engine, so every downstream consumer
// (Reconciler, Broadcaster, gamification) runs unmodified in mock mode.
type Generator struct {
	panes  *session.PaneSet
	engine *fleet.Engine
	mocks  []*mockPane
}

// NewGenerator constructs a Generator over n synthetic panes.
func NewGenerator(panes *session.PaneSet, engine *fleet.Engine, n int) *Generator {
	if n <= 0 {
		n = 3
	}
	return &Generator{panes: panes, engine: engine, mocks: scriptedSessions(n)}
}

// Start seeds the synthetic panes and advances their scripts on a ticker
// until ctx is cancelled.
func (g *Generator) Start(ctx context.Context) {
	for _, m := range g.mocks {
		g.panes.UpsertPane(&session.Pane{
			ID:         m.paneID,
			Address:    m.address,
			Kind:       session.KindInteractiveAI,
			WorkingDir: "/home/user/mock-project",
			PID:        10000 + rand.Intn(1000),
		})
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	g.tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.tick()
		}
	}
}

func (g *Generator) tick() {
	for _, m := range g.mocks {
		st := m.script[m.idx]
		m.seq++
		g.engine.OnContent(m.paneID, st.content, m.seq)

		m.held++
		if m.held >= st.holdFor {
			m.held = 0
			m.idx = (m.idx + 1) % len(m.script)
		}
	}
}
