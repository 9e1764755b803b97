package ws

import (
	"github.com/fleetwatch/backend/internal/diff"
	"github.com/fleetwatch/backend/internal/session"
	"github.com/fleetwatch/backend/internal/tmux"
)

// PublishWindows broadcasts a full multiplexer snapshot (§4.5 step 6).
func (b *Broadcaster) PublishWindows(windows []tmux.Window) {
	privacy := b.Privacy()
	views := make([]WindowView, 0, len(windows))
	for _, w := range windows {
		panes := make([]PaneView, 0, len(w.Panes))
		for _, p := range w.Panes {
			if !privacy.IsAllowed(p.WorkingDir) {
				continue
			}
			panes = append(panes, paneView(privacy, session.Pane{
				ID: p.ID, Address: p.Target, Kind: p.Kind, WorkingDir: p.WorkingDir, PID: p.PID,
			}))
		}
		views = append(views, WindowView{
			SessionName: w.SessionName,
			Index:       w.Index,
			Name:        w.Name,
			Panes:       panes,
		})
	}
	b.Broadcast(WSMessage{Type: MsgWindows, Payload: WindowsPayload{Windows: views}})
}

func paneView(privacy *session.PrivacyFilter, pane session.Pane) PaneView {
	masked := privacy.ApplyPane(&pane)
	return PaneView{
		ID:         masked.ID,
		Target:     masked.Address,
		Kind:       string(masked.Kind),
		WorkingDir: masked.WorkingDir,
		PID:        masked.PID,
	}
}

// PublishPaneUpdate broadcasts a pane's current state plus its bound
// session, if any. critical marks a transition into waiting/error so the
// backpressure state machine treats it as high priority.
func (b *Broadcaster) PublishPaneUpdate(pane *session.Pane, sess *session.Session, critical bool) {
	privacy := b.Privacy()
	if !privacy.IsAllowed(pane.WorkingDir) {
		return
	}
	payload := PaneUpdatePayload{Pane: paneView(privacy, *pane)}
	if sess != nil {
		payload.Session = sessionView(privacy, sess)
	}
	b.Broadcast(WSMessage{Type: MsgPaneUpdate, Payload: payload, Critical: critical})
}

func sessionView(privacy *session.PrivacyFilter, sess *session.Session) *SessionView {
	v := &SessionView{
		ID:                 privacy.ApplySessionID(sess.ID),
		Status:             sess.Status,
		Source:             sess.Source,
		LastStatusChangeAt: sess.LastStatusChangeAt.Unix(),
		TerminalConfidence: sess.TerminalConfidence,
		LastError:          sess.LastError,
		ActiveSubagents:    sess.ActiveSubagents,
	}
	if sess.Prompt != nil {
		v.Prompt = &DetectedPromptView{
			Kind:        sess.Prompt.Kind,
			Question:    sess.Prompt.Question,
			Options:     sess.Prompt.Options,
			MultiSelect: sess.Prompt.MultiSelect,
			ContentHash: sess.Prompt.ContentHash,
		}
	}
	return v
}

// PublishPaneRemoved broadcasts a pane's eviction (B1).
func (b *Broadcaster) PublishPaneRemoved(paneID string) {
	b.Broadcast(WSMessage{Type: MsgPaneRemoved, Payload: PaneRemovedPayload{PaneID: paneID}})
}

// PublishTerminalDiff broadcasts a line diff for a pane's scroll-back.
func (b *Broadcaster) PublishTerminalDiff(paneID, target string, ops []diff.DiffOp, seq uint64) {
	b.Broadcast(WSMessage{Type: MsgTerminalDiff, Payload: TerminalDiffPayload{
		PaneID: paneID, Target: target, Ops: ops, Seq: seq,
	}})
}

// PublishTerminalOutput broadcasts a pane's full scroll-back.
func (b *Broadcaster) PublishTerminalOutput(paneID, target, content string, seq uint64) {
	b.Broadcast(WSMessage{Type: MsgTerminalOutput, Payload: TerminalOutputPayload{
		PaneID: paneID, Target: target, Content: content, Seq: seq,
	}})
}

// PublishEvent broadcasts a low-priority status-transition record.
func (b *Broadcaster) PublishEvent(t session.TransitionEvent) {
	b.Broadcast(WSMessage{Type: MsgEvent, Payload: EventPayload{
		PaneID:    t.PaneID,
		SessionID: t.SessionID,
		From:      t.Old,
		To:        t.New,
		Reason:    t.Reason,
		At:        t.At.Unix(),
	}})
}

// BroadcastAchievement relays a gamification achievement unlock (§1: the
// core never interprets this payload's content, only transports it).
func (b *Broadcaster) BroadcastAchievement(payload AchievementUnlockedPayload) {
	b.Broadcast(WSMessage{Type: MsgAchievementUnlocked, Payload: payload})
}

// BroadcastXPGain relays a gamification XP award.
func (b *Broadcaster) BroadcastXPGain(payload XPGainPayload) {
	b.Broadcast(WSMessage{Type: MsgXPGain, Payload: payload})
}

// BroadcastCompanionUpdate relays a gamification cosmetic loadout change.
func (b *Broadcaster) BroadcastCompanionUpdate(payload CompanionUpdatePayload) {
	b.Broadcast(WSMessage{Type: MsgCompanionUpdate, Payload: payload})
}
