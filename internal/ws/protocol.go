package ws

import (
	"github.com/fleetwatch/backend/internal/diff"
	"github.com/fleetwatch/backend/internal/gamification"
	"github.com/fleetwatch/backend/internal/session"
)

// MessageType discriminates a WSMessage (§6).
type MessageType string

const (
	MsgConnected           MessageType = "connected"
	MsgWindows             MessageType = "windows"
	MsgPaneUpdate          MessageType = "pane_update"
	MsgPaneRemoved         MessageType = "pane_removed"
	MsgTerminalOutput      MessageType = "terminal_output"
	MsgTerminalDiff        MessageType = "terminal_diff"
	MsgEvent               MessageType = "event"
	MsgCompanionUpdate     MessageType = "companion_update"
	MsgXPGain              MessageType = "xp_gain"
	MsgAchievementUnlocked MessageType = "achievement_unlocked"
)

// Priority is a message's delivery class under backpressure (§4.8).
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// WSMessage is the envelope for every frame sent to a client. Critical
// marks a pane_update carrying a transition into waiting or error, bumping
// it to high priority; every other message type's priority is implied by
// its Type alone.
type WSMessage struct {
	Type     MessageType `json:"type"`
	Payload  interface{} `json:"payload"`
	Critical bool        `json:"-"`
}

// priority classifies a message into one of the three delivery classes per
// §4.8: high = connected, pong-request, critical status changes; normal =
// windows, pane update, terminal diff/full, companion/stats updates; low =
// debug/informational events.
func (m WSMessage) priority() Priority {
	switch m.Type {
	case MsgConnected:
		return PriorityHigh
	case MsgPaneUpdate:
		if m.Critical {
			return PriorityHigh
		}
		return PriorityNormal
	case MsgWindows, MsgPaneRemoved, MsgTerminalDiff, MsgTerminalOutput,
		MsgCompanionUpdate, MsgXPGain, MsgAchievementUnlocked:
		return PriorityNormal
	case MsgEvent:
		return PriorityLow
	default:
		return PriorityLow
	}
}

// ConnectedPayload is sent once, immediately after a client connects.
type ConnectedPayload struct {
	SessionID string `json:"sessionId"`
}

// WindowsPayload carries a full multiplexer snapshot (§4.5 step 6).
type WindowsPayload struct {
	Windows []WindowView `json:"windows"`
}

// WindowView is the wire shape of a tmux window and its panes.
type WindowView struct {
	SessionName string     `json:"sessionName"`
	Index       int        `json:"index"`
	Name        string     `json:"name"`
	Panes       []PaneView `json:"panes"`
}

// PaneView is the wire shape of a single pane within a windows snapshot.
type PaneView struct {
	ID         string `json:"id"`
	Target     string `json:"target"`
	Kind       string `json:"kind"`
	WorkingDir string `json:"workingDir"`
	PID        int    `json:"pid"`
}

// PaneUpdatePayload carries a pane's current state plus its bound session,
// if any. Sessions ride along with their owning pane rather than as a
// separate wire entity (§3: a Session is always 1:1 with a live Pane).
type PaneUpdatePayload struct {
	Pane    PaneView     `json:"pane"`
	Session *SessionView `json:"session,omitempty"`
}

// SessionView is the wire shape of a session.Session.
type SessionView struct {
	ID                 string                 `json:"id"`
	Status             session.Status         `json:"status"`
	Source             session.Source         `json:"source"`
	LastStatusChangeAt int64                  `json:"lastStatusChangeAt"`
	TerminalConfidence float64                `json:"terminalConfidence"`
	Prompt             *DetectedPromptView    `json:"prompt,omitempty"`
	LastError          *session.DetectedError `json:"lastError,omitempty"`
	ActiveSubagents    int                    `json:"activeSubagents"`
}

// DetectedPromptView is the wire shape of a session.DetectedPrompt.
type DetectedPromptView struct {
	Kind        session.PromptKind `json:"kind"`
	Question    string             `json:"question"`
	Options     []session.Option   `json:"options,omitempty"`
	MultiSelect bool               `json:"multiSelect"`
	ContentHash uint64             `json:"contentHash"`
}

// PaneRemovedPayload reports a pane's eviction (B1).
type PaneRemovedPayload struct {
	PaneID string `json:"paneId"`
}

// TerminalDiffPayload carries a line diff for a pane's scroll-back.
type TerminalDiffPayload struct {
	PaneID string        `json:"paneId"`
	Target string        `json:"target"`
	Ops    []diff.DiffOp `json:"ops"`
	Seq    uint64        `json:"seq"`
}

// TerminalOutputPayload carries a pane's full scroll-back, used when a
// diff would not be smaller (§4.7).
type TerminalOutputPayload struct {
	PaneID  string `json:"paneId"`
	Target  string `json:"target"`
	Content string `json:"content"`
	Seq     uint64 `json:"seq"`
}

// EventPayload is a low-priority record of a status transition, for an
// activity feed.
type EventPayload struct {
	PaneID    string         `json:"paneId"`
	SessionID string         `json:"sessionId"`
	From      session.Status `json:"from"`
	To        session.Status `json:"to"`
	Reason    string         `json:"reason"`
	At        int64          `json:"at"`
}

// CompanionUpdatePayload, XPGainPayload, AchievementUnlockedPayload carry
// gamification events (an external collaborator per §1) onto the wire; the
// core never interprets their content.
type CompanionUpdatePayload struct {
	Loadout gamification.Equipped `json:"loadout"`
}

type XPGainPayload struct {
	Amount int    `json:"amount"`
	Reason string `json:"reason"`
	Total  int    `json:"total"`
	Tier   int    `json:"tier"`
}

type AchievementRewardPayload struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

type AchievementUnlockedPayload struct {
	ID          string                    `json:"id"`
	Name        string                    `json:"name"`
	Description string                    `json:"description"`
	Tier        string                    `json:"tier"`
	Reward      *AchievementRewardPayload `json:"reward,omitempty"`
}
