// Package hooks implements the Hook Ingest: it accepts structured reports
// from an out-of-band pathway (a shell wrapper invoked by the AI tool),
// normalizes and deduplicates them, and emits typed domain events to the
// Reconciler.
package hooks

import (
	"encoding/json"
	"time"
)

// Type names a hook event kind.
type Type string

const (
	TypePreTool     Type = "pre-tool"
	TypePostTool    Type = "post-tool"
	TypeStop        Type = "stop"
	TypeUserPrompt  Type = "user-prompt"
	TypeNotification Type = "notification"
	TypeSessionStart Type = "session-start"
	TypeSessionEnd  Type = "session-end"
	TypeSubagentStart Type = "subagent_start"
	TypeSubagentStop  Type = "subagent_stop"
)

// Event is the normalized, typed domain event handed to the Reconciler.
type Event struct {
	SessionID string
	PaneID    string
	Type      Type
	Timestamp time.Time
	Success   bool // meaningful for post-tool
	Payload   map[string]any
}

// rawReport mirrors the loosely-typed JSON a hook wrapper posts. Both
// snake_case and camelCase spellings are accepted per field, matching
// whatever convention a given hook script's author reached for.
type rawReport struct {
	SessionID   string          `json:"session_id"`
	SessionID2  string          `json:"sessionId"`
	PaneID      string          `json:"pane_id"`
	PaneID2     string          `json:"paneId"`
	HookType    string          `json:"hook_type"`
	HookType2   string          `json:"hookType"`
	Timestamp   string          `json:"timestamp"`
	Success     *bool           `json:"success"`
	Payload     json.RawMessage `json:"payload"`
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// Normalize parses a raw hook report and normalizes its field casing.
// Returns an error only if data is not valid JSON. A missing session id or
// hook type yields an Event with that field empty, and a missing or
// unparsable timestamp is replaced with the current time.
func Normalize(data []byte) (Event, error) {
	var raw rawReport
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, err
	}

	sessionID := firstNonEmpty(raw.SessionID, raw.SessionID2)
	paneID := firstNonEmpty(raw.PaneID, raw.PaneID2)
	hookType := firstNonEmpty(raw.HookType, raw.HookType2)

	ts := time.Now()
	if raw.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, raw.Timestamp); err == nil {
			ts = parsed
		}
	}

	success := true
	if raw.Success != nil {
		success = *raw.Success
	}

	var payload map[string]any
	if len(raw.Payload) > 0 {
		_ = json.Unmarshal(raw.Payload, &payload)
	}

	return Event{
		SessionID: sessionID,
		PaneID:    paneID,
		Type:      Type(hookType),
		Timestamp: ts,
		Success:   success,
		Payload:   payload,
	}, nil
}

// dedupKey identifies a report for dedup purposes: (session, timestamp, type).
type dedupKey struct {
	SessionID string
	Timestamp int64
	Type      Type
}

func keyFor(e Event) dedupKey {
	return dedupKey{SessionID: e.SessionID, Timestamp: e.Timestamp.Unix(), Type: e.Type}
}
