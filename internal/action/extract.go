package action

import (
	"errors"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrNoEnvelope means no candidate region of the text validated as an
// action envelope.
var ErrNoEnvelope = errors.New("no action envelope found in model output")

var (
	// fencedRe pulls the body out of a markdown code fence, with or
	// without a language tag.
	fencedRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

	// balancedRe matches a brace-balanced object with at most one level of
	// object nesting, enough for an evidence array of flat objects.
	// Deeper nesting falls through to the loose scan.
	balancedRe = regexp.MustCompile(`\{(?:[^{}]|\{[^{}]*\})*\}`)

	// looseRe is the last resort: the shortest span that still contains
	// the action tag.
	looseRe = regexp.MustCompile(`(?s)\{.*?"action".*?\}`)
)

// Extract recovers one validated Envelope from raw model text that may wrap
// the JSON in prose or code fences. Candidate regions are tried in order of
// decreasing strictness; the first one that validates wins.
func Extract(raw string) (*Envelope, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrNoEnvelope
	}

	var firstErr error
	for _, candidate := range candidates(raw) {
		env, err := Decode([]byte(candidate))
		if err == nil {
			return env, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return nil, ErrNoEnvelope
}

// candidates lists plausible JSON object regions, strictest first, keeping
// only ones that parse as JSON and carry an action tag.
func candidates(raw string) []string {
	var out []string
	seen := map[string]struct{}{}
	add := func(c string) {
		c = strings.TrimSpace(c)
		if c == "" {
			return
		}
		if _, dup := seen[c]; dup {
			return
		}
		if !gjson.Valid(c) || !gjson.Get(c, "action").Exists() {
			return
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}

	add(stripFences(raw))
	for _, m := range balancedRe.FindAllString(raw, -1) {
		add(m)
	}
	for _, m := range looseRe.FindAllString(raw, -1) {
		add(m)
	}
	return out
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(raw string) string {
	if m := fencedRe.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return raw
}
