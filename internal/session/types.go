// Package session owns the Pane/Session data model and the Reconciler that
// fuses hook-reported and terminal-pattern-detected state into it.
package session

import "time"

// ProcessKind classifies the foreground process occupying a pane.
type ProcessKind string

const (
	KindInteractiveAI ProcessKind = "interactive-ai"
	KindShell         ProcessKind = "shell"
	KindOtherProcess  ProcessKind = "other-process"
	KindIdle          ProcessKind = "idle"
)

// Pane is a window pane as reported by the multiplexer, owned by the Poller.
// It is created on first appearance in a snapshot and destroyed on absence
// from two consecutive snapshots.
type Pane struct {
	ID          string
	Address     string
	Kind        ProcessKind
	WorkingDir  string
	PID         int
	ScrollBack  string // bounded to the last N lines, default 30
	SessionID   string // empty if no Session is bound yet
	MissedScans int    // consecutive snapshots this pane was absent from
}

// Status is a Session's logical state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusWorking Status = "working"
	StatusWaiting Status = "waiting"
	StatusError   Status = "error"
	StatusUnknown Status = "unknown"
)

// IsCriticalStatus reports whether a status is session-critical for
// broadcast prioritization (§4.8): waiting on human input, or errored.
func IsCriticalStatus(s Status) bool {
	return s == StatusWaiting || s == StatusError
}

// Source names what last set a Session's status.
type Source string

const (
	SourceHook             Source = "hook"
	SourceTerminal         Source = "terminal"
	SourceReconcilerTimeout Source = "reconciler-timeout"
)

// PromptKind discriminates a DetectedPrompt.
type PromptKind string

const (
	PromptPermission PromptKind = "permission"
	PromptQuestion   PromptKind = "question"
	PromptPlan       PromptKind = "plan"
	PromptFeedback   PromptKind = "feedback"
)

// Option is a single labeled choice within a DetectedPrompt.
type Option struct {
	Label string
	Key   string
}

// DetectedPrompt is a discriminated record describing an in-progress
// question the interactive session is waiting on.
type DetectedPrompt struct {
	Kind        PromptKind
	Question    string
	Options     []Option
	MultiSelect bool
	ContentHash uint64
}

// DetectedError is the extracted text of an error condition observed in
// scroll-back.
type DetectedError struct {
	Message string
}

// TerminalDetection is the Parser's output: a status candidate, its
// confidence, the representative matched pattern tag, and optional prompt
// or error detail.
type TerminalDetection struct {
	Status     Status
	Confidence float64
	Tag        string
	Prompt     *DetectedPrompt
	Error      *DetectedError
}

// Session is bound 1:1 to a live Pane. Created when a hook or pattern first
// identifies a pane as an interactive-AI session; destroyed when the pane is
// destroyed or an explicit session-end event arrives.
type Session struct {
	ID                   string
	PaneID               string
	Status               Status
	Source               Source
	LastStatusChangeAt   time.Time
	LastHookEventAt      time.Time
	LastTerminalChangeAt time.Time
	TerminalConfidence   float64
	Prompt               *DetectedPrompt
	LastError            *DetectedError
	ActiveSubagents      int
}

// Clone returns a deep copy, duplicating pointer fields so the copy can be
// mutated independently of the original.
func (s *Session) Clone() *Session {
	c := *s
	if s.Prompt != nil {
		p := *s.Prompt
		if len(s.Prompt.Options) > 0 {
			p.Options = append([]Option(nil), s.Prompt.Options...)
		}
		c.Prompt = &p
	}
	if s.LastError != nil {
		e := *s.LastError
		c.LastError = &e
	}
	return &c
}
