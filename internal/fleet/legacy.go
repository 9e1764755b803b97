package fleet

import (
	"time"

	"github.com/fleetwatch/backend/internal/session"
)

// ToLegacySessionState adapts a Pane+Session pair into the
// session.SessionState shape the gamification subsystem (an external
// collaborator, §1) was built against. Gamification isn't part of this
// spec's redesign; it keeps reading the same fields it always has, just
// populated from the Reconciler's new authoritative state instead of the
// teacher's monitor-derived one.
func ToLegacySessionState(pane *session.Pane, sess *session.Session) *session.SessionState {
	st := &session.SessionState{
		ID:                 sess.ID,
		Name:               pane.Address,
		Source:             "tmux",
		Activity:           activityFromStatus(sess.Status),
		WorkingDir:         pane.WorkingDir,
		PID:                pane.PID,
		TmuxTarget:         pane.Address,
		LastActivityAt:     sess.LastStatusChangeAt,
		LastDataReceivedAt: sess.LastTerminalChangeAt,
		StartedAt:          sess.LastStatusChangeAt,
		Subagents:          make([]session.SubagentState, sess.ActiveSubagents),
	}
	if st.IsTerminal() {
		completedAt := time.Now()
		st.CompletedAt = &completedAt
	}
	return st
}

// activityFromStatus maps a Reconciler-owned Status onto the gamification
// subsystem's finer-grained Activity enum. The two don't line up 1:1 (the
// original monitor distinguished "thinking" from "tool_use" within
// "working", a distinction the Reconciler doesn't make); working collapses
// to ToolUse, the more common case while an agent is busy.
func activityFromStatus(s session.Status) session.Activity {
	switch s {
	case session.StatusWorking:
		return session.ToolUse
	case session.StatusWaiting:
		return session.Waiting
	case session.StatusIdle:
		return session.Complete
	case session.StatusError:
		return session.Errored
	default:
		return session.Starting
	}
}
