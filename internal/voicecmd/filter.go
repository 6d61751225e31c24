// Package voicecmd recognises short voice-control phrases ("yes", "cancel",
// "stop talking") in final transcripts while a command awaits confirmation.
//
// Matching phrases are handled locally and never reach the remote command
// executor.
package voicecmd

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Controls is the set of orchestrator operations a phrase can trigger.
type Controls interface {
	Confirm(ctx context.Context) error
	Cancel() error
	Edit(text string) error
	StopSpeaking()
	RepeatLast()
}

// Pattern pairs a compiled regex with the action to run when it matches.
type Pattern struct {
	// Name is a short label for logging.
	Name string

	// Regex is matched against the trimmed transcript. Submatches are passed
	// to Action.
	Regex *regexp.Regexp

	// Action runs the control. matches is the full submatch slice.
	Action func(ctx context.Context, c Controls, matches []string) error
}

// Filter checks transcripts against the control patterns. It is stateless
// and safe for concurrent use.
type Filter struct {
	patterns []Pattern
}

// New creates a Filter with the built-in phrases.
func New() *Filter {
	return &Filter{patterns: defaultPatterns()}
}

// Match returns the name of the pattern text matches, or "" if none does.
func (f *Filter) Match(text string) string {
	if p, _ := f.find(text); p != nil {
		return p.Name
	}
	return ""
}

// Check runs the action of the first pattern matching text. It reports
// whether a pattern matched; errors from the action are returned wrapped
// together with matched=true.
func (f *Filter) Check(ctx context.Context, text string, c Controls) (bool, error) {
	p, matches := f.find(text)
	if p == nil {
		return false, nil
	}
	if err := p.Action(ctx, c, matches); err != nil {
		slog.Warn("voicecmd: control failed", "pattern", p.Name, "text", text, "err", err)
		return true, fmt.Errorf("voicecmd: %s: %w", p.Name, err)
	}
	slog.Info("voicecmd: control handled", "pattern", p.Name, "text", text)
	return true, nil
}

func (f *Filter) find(text string) (*Pattern, []string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, nil
	}
	for i := range f.patterns {
		if m := f.patterns[i].Regex.FindStringSubmatch(trimmed); m != nil {
			return &f.patterns[i], m
		}
	}
	return nil, nil
}

func defaultPatterns() []Pattern {
	return []Pattern{
		{
			Name:  "edit",
			Regex: regexp.MustCompile(`(?i)^(?:change (?:it|that) to|i (?:said|meant)|no,? i meant)\s+(.+?)[.!]?$`),
			Action: func(_ context.Context, c Controls, m []string) error {
				return c.Edit(m[1])
			},
		},
		{
			Name:  "confirm",
			Regex: regexp.MustCompile(`(?i)^(?:yes|yeah|yep|confirm(?:ed)?|do it|go ahead|correct|that's right|execute(?: it)?)(?:,? please)?[.!]?$`),
			Action: func(ctx context.Context, c Controls, _ []string) error {
				return c.Confirm(ctx)
			},
		},
		{
			Name:  "cancel",
			Regex: regexp.MustCompile(`(?i)^(?:no|nope|cancel(?: that| it)?|never ?mind|forget it|abort)[.!]?$`),
			Action: func(_ context.Context, c Controls, _ []string) error {
				return c.Cancel()
			},
		},
		{
			Name:  "stop-talking",
			Regex: regexp.MustCompile(`(?i)^(?:stop talking|be quiet|quiet|silence)[.!]?$`),
			Action: func(_ context.Context, c Controls, _ []string) error {
				c.StopSpeaking()
				return nil
			},
		},
		{
			Name:  "repeat",
			Regex: regexp.MustCompile(`(?i)^(?:repeat(?: that| it)?|say (?:that|it) again|come again)[.!?]?$`),
			Action: func(_ context.Context, c Controls, _ []string) error {
				c.RepeatLast()
				return nil
			},
		},
	}
}
