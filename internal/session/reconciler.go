package session

import "time"

// HookStatus is the status a hook event implies, before reconciliation.
type HookStatus string

const (
	HookWorking HookStatus = "working"
	HookWaiting HookStatus = "waiting"
	HookError   HookStatus = "error"
	HookIdle    HookStatus = "idle"
)

// hookPrecedenceWindow is the period after a hook event during which the
// Reconciler defers to the hook's reported status over a terminal timeout
// (R4/R5's "time-since-hook-event > 5s" guard).
const hookPrecedenceWindow = 5 * time.Second

// terminalStaleWindow is how long a pane's terminal content must be
// unchanged before a timeout rule (R4/R5) may fire.
const terminalStaleWindow = 10 * time.Second

// hookStaleWindowR5 is R5's longer staleness bound for unknown terminal state.
const hookStaleWindowR5 = 15 * time.Second

// Reconciliation carries everything the decision rules need, gathered by
// the caller (Reconciler.Apply) from the current Session and the latest
// inputs.
type Reconciliation struct {
	HookStatus          HookStatus
	HookEventAt         time.Time
	HookStatusChangedAt time.Time // when the hook last reported a status different from Session.Status
	Terminal            *TerminalDetection
	TerminalChangedAt   time.Time
	Now                 time.Time
	ActiveSubagents     int
}

// Decision is the result of applying rules R1-R8: the chosen status, the
// source that won, and the rule tag (for observability/tests).
type Decision struct {
	Status Status
	Source Source
	Rule   string
}

// Reconcile evaluates decision rules R1-R8 in strict order against the
// current session status and the gathered reconciliation inputs, returning
// the first rule whose guard holds.
func Reconcile(current Status, in Reconciliation) Decision {
	td := in.Terminal

	// R1: hook says working, terminal shows waiting with confidence > 0.7.
	if in.HookStatus == HookWorking && td != nil && td.Status == StatusWaiting && td.Confidence > 0.7 {
		return Decision{Status: StatusWaiting, Source: SourceTerminal, Rule: "R1"}
	}

	// R2: hook says waiting, terminal shows non-waiting with confidence > 0.6.
	if in.HookStatus == HookWaiting && td != nil && td.Status != StatusWaiting && td.Confidence > 0.6 {
		status := td.Status
		if status == StatusUnknown {
			status = StatusWorking
		}
		return Decision{Status: status, Source: SourceTerminal, Rule: "R2"}
	}

	// R3: terminal shows error with confidence > 0.75.
	if td != nil && td.Status == StatusError && td.Confidence > 0.75 {
		return Decision{Status: StatusError, Source: SourceTerminal, Rule: "R3"}
	}

	// R3.5: hook says error but terminal has settled into working/idle for
	// >= 10s with confidence > 0.6.
	if in.HookStatus == HookError && td != nil && (td.Status == StatusWorking || td.Status == StatusIdle) &&
		td.Confidence > 0.6 && !in.TerminalChangedAt.IsZero() && in.Now.Sub(in.TerminalChangedAt) >= terminalStaleWindow {
		return Decision{Status: td.Status, Source: SourceReconcilerTimeout, Rule: "R3.5"}
	}

	// R4: hook says working, terminal idle with confidence > 0.6, both the
	// terminal and the hook have been stale long enough, no active
	// subagents. Claude's Stop hook may have been missed.
	if in.HookStatus == HookWorking && td != nil && td.Status == StatusIdle && td.Confidence > 0.6 &&
		!in.TerminalChangedAt.IsZero() && in.Now.Sub(in.TerminalChangedAt) > terminalStaleWindow &&
		!in.HookEventAt.IsZero() && in.Now.Sub(in.HookEventAt) > hookPrecedenceWindow &&
		in.ActiveSubagents == 0 {
		return Decision{Status: StatusIdle, Source: SourceReconcilerTimeout, Rule: "R4"}
	}

	// R5: hook says working, terminal unknown, hook's reported status has
	// been stale for more than 15s, the hook event itself is more than 5s old, no active
	// subagents.
	if in.HookStatus == HookWorking && td != nil && td.Status == StatusUnknown &&
		!in.HookStatusChangedAt.IsZero() && in.Now.Sub(in.HookStatusChangedAt) > hookStaleWindowR5 &&
		!in.HookEventAt.IsZero() && in.Now.Sub(in.HookEventAt) > hookPrecedenceWindow &&
		in.ActiveSubagents == 0 {
		return Decision{Status: StatusIdle, Source: SourceReconcilerTimeout, Rule: "R5"}
	}

	hookStatus := hookStatusAsStatus(in.HookStatus)

	// R6: terminal confidence < 0.5, keep the hook's status.
	if td == nil || td.Confidence < 0.5 {
		return Decision{Status: hookStatus, Source: SourceHook, Rule: "R6"}
	}

	// R7: terminal confidence > 0.8 and class != unknown, adopt terminal's class.
	if td.Confidence > 0.8 && td.Status != StatusUnknown {
		return Decision{Status: td.Status, Source: SourceTerminal, Rule: "R7"}
	}

	// R8: otherwise keep the hook's status.
	return Decision{Status: hookStatus, Source: SourceHook, Rule: "R8"}
}

func hookStatusAsStatus(h HookStatus) Status {
	switch h {
	case HookWorking:
		return StatusWorking
	case HookWaiting:
		return StatusWaiting
	case HookError:
		return StatusError
	case HookIdle:
		return StatusIdle
	default:
		return StatusUnknown
	}
}

// IntendedHookStatus maps a hook event kind to the status it implies, per
// the Reconciler's documented inputs table. Events with no direct status
// implication (session-start, notification) return ok=false.
func IntendedHookStatus(hookType string, toolSucceeded bool, pendingPromptCleared bool) (HookStatus, bool) {
	switch hookType {
	case "pre-tool":
		return HookWorking, true
	case "post-tool":
		if !toolSucceeded {
			return HookError, true
		}
		if pendingPromptCleared {
			return HookWorking, true
		}
		return HookWorking, true
	case "stop":
		return HookIdle, true
	case "user-prompt":
		return HookWorking, true
	default:
		return "", false
	}
}

// TransitionEvent carries a status change for downstream observers (the
// Broadcaster, the gamification bridge).
type TransitionEvent struct {
	PaneID    string
	SessionID string
	Old       Status
	New       Status
	Reason    string
	At        time.Time
}

// ApplyDecision updates sess in place per d, returning the TransitionEvent
// for a genuine status change, or ok=false if the decision is a no-op
// (identical-state transitions, e.g. error -> error, are collapsed).
func ApplyDecision(sess *Session, d Decision, now time.Time) (TransitionEvent, bool) {
	if sess.Status == d.Status {
		sess.Source = d.Source
		return TransitionEvent{}, false
	}
	old := sess.Status
	sess.Status = d.Status
	sess.Source = d.Source
	sess.LastStatusChangeAt = now
	return TransitionEvent{
		PaneID:    sess.PaneID,
		SessionID: sess.ID,
		Old:       old,
		New:       d.Status,
		Reason:    d.Rule,
		At:        now,
	}, true
}
