// Package parser turns raw terminal scroll-back into a classified
// TerminalDetection using a patterns.Registry. It is a pure function: the
// same input and registry version always produce the same output.
package parser

import (
	"strings"

	"github.com/fleetwatch/backend/internal/patterns"
	"github.com/fleetwatch/backend/internal/session"
)

// TrailingLines is the number of trailing scroll-back lines considered.
const TrailingLines = 50

// classMatch accumulates the matches found for one pattern class while
// scanning trailing lines.
type classMatch struct {
	confidenceSum float64
	count         int
	topTag        string
	topBase       float64
}

func (m *classMatch) add(tag string, base float64) {
	m.confidenceSum += base
	m.count++
	if base > m.topBase {
		m.topBase = base
		m.topTag = tag
	}
}

func (m *classMatch) aggregated() float64 {
	if m.count == 0 {
		return 0
	}
	avg := m.confidenceSum / float64(m.count)
	boost := 0.1 * float64(m.count)
	if boost > 0.3 {
		boost = 0.3
	}
	c := avg + boost
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	return c
}

// Detect implements the 7-step algorithm: trailing-window extraction,
// per-class aggregation, priority-with-threshold selection, and prompt/error
// extraction.
func Detect(registry *patterns.Registry, scrollback string) session.TerminalDetection {
	if strings.TrimSpace(scrollback) == "" {
		return session.TerminalDetection{Status: session.StatusUnknown, Confidence: 0.0}
	}

	lines := trailingLines(scrollback, TrailingLines)

	matches := make(map[patterns.Class]*classMatch, len(patterns.PriorityOrder))
	for _, class := range patterns.PriorityOrder {
		cm := &classMatch{}
		for _, p := range registry.PatternsForClass(class) {
			n := 0
			for _, line := range lines {
				if p.Regex.MatchString(line) {
					n++
				}
			}
			if n > 0 {
				cm.add(p.Tag, p.Confidence)
			}
		}
		matches[class] = cm
	}

	for _, class := range patterns.PriorityOrder {
		cm := matches[class]
		agg := cm.aggregated()
		if agg <= patterns.Threshold[class] {
			continue
		}

		status := session.Status(class)
		det := session.TerminalDetection{
			Status:     status,
			Confidence: agg,
			Tag:        cm.topTag,
		}

		switch class {
		case patterns.ClassWaiting:
			det.Prompt = extractPrompt(registry, lines, cm.topTag)
		case patterns.ClassError:
			det.Error = extractError(registry, lines)
		}

		return det
	}

	return session.TerminalDetection{Status: session.StatusUnknown, Confidence: 0.3}
}

// trailingLines returns at most n trailing, non-empty-split lines of s.
func trailingLines(s string, n int) []string {
	all := strings.Split(s, "\n")
	if len(all) <= n {
		return all
	}
	return all[len(all)-n:]
}

// extractPrompt implements step 5: the question line, option extraction,
// and prompt-kind classification from the matched tag name.
func extractPrompt(registry *patterns.Registry, lines []string, tag string) *session.DetectedPrompt {
	waitingPatterns := registry.PatternsForClass(patterns.ClassWaiting)

	var question string
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if strings.Contains(line, "?") {
			question = line
			break
		}
		matched := false
		for _, p := range waitingPatterns {
			if p.Regex.MatchString(line) {
				matched = true
				break
			}
		}
		if matched {
			question = line
			break
		}
	}

	options := extractOptions(registry, lines)

	return &session.DetectedPrompt{
		Kind:        promptKindFromTag(tag),
		Question:    question,
		Options:     options,
		MultiSelect: false,
		ContentHash: contentHash(question, options),
	}
}

// extractOptions tries numbered, then bulleted, then arrowed forms in that
// order, returning the first form that yields any matches.
func extractOptions(registry *patterns.Registry, lines []string) []session.Option {
	byForm := map[patterns.OptionForm][]session.Option{}
	order := []patterns.OptionForm{patterns.FormNumbered, patterns.FormBulleted, patterns.FormArrowed}

	for _, op := range registry.OptionPatterns() {
		for _, line := range lines {
			m := op.Regex.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			var label, key string
			if len(m) >= 3 {
				key, label = m[1], strings.TrimSpace(m[2])
			} else if len(m) == 2 {
				label = strings.TrimSpace(m[1])
			} else {
				label = strings.TrimSpace(line)
			}
			byForm[op.Form] = append(byForm[op.Form], session.Option{Label: label, Key: key})
		}
	}

	for _, form := range order {
		if opts, ok := byForm[form]; ok && len(opts) > 0 {
			return opts
		}
	}
	return nil
}

// promptKindFromTag classifies a prompt kind from the matched pattern's tag
// name: a "permission"/"plan"/"question" substring maps directly, anything
// else falls back to "feedback".
func promptKindFromTag(tag string) session.PromptKind {
	switch {
	case strings.Contains(tag, "permission"):
		return session.PromptPermission
	case strings.Contains(tag, "plan"):
		return session.PromptPlan
	case strings.Contains(tag, "question"):
		return session.PromptQuestion
	default:
		return session.PromptFeedback
	}
}

// extractError implements step 6: scan bottom-up for the first line
// matching any error pattern.
func extractError(registry *patterns.Registry, lines []string) *session.DetectedError {
	errorPatterns := registry.PatternsForClass(patterns.ClassError)
	for i := len(lines) - 1; i >= 0; i-- {
		for _, p := range errorPatterns {
			if p.Regex.MatchString(lines[i]) {
				return &session.DetectedError{Message: strings.TrimSpace(lines[i])}
			}
		}
	}
	return nil
}

// contentHash is a small FNV-1a hash over the prompt question and options,
// used for DetectedPrompt idempotency comparisons.
func contentHash(question string, options []session.Option) uint64 {
	var h uint64 = 14695981039346656037
	const prime = 1099511628211
	write := func(s string) {
		for i := 0; i < len(s); i++ {
			h ^= uint64(s[i])
			h *= prime
		}
	}
	write(question)
	for _, o := range options {
		write(o.Label)
		write(o.Key)
	}
	return h
}
