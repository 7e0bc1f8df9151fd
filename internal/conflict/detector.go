// Package conflict compares newly synthesized research content against
// values recorded in earlier steps and flags disagreements that need an
// explicit user decision.
package conflict

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/planscout/research-agent/internal/llm"
	"github.com/planscout/research-agent/internal/textutil"
)

// DefaultThreshold is the relative difference above which two numeric
// values for the same field are treated as conflicting.
const DefaultThreshold = 0.03

const summaryMaxLen = 160

// PriorStep is one already-recorded step result, oldest first.
type PriorStep struct {
	Step    string
	Content string
}

// Conflict describes one field whose current value disagrees with a value
// recorded by an earlier step. Labels are short human-readable renderings of
// the two candidates; summaries are truncated context for display.
type Conflict struct {
	Field           string `json:"field"`
	Question        string `json:"question"`
	CurrentLabel    string `json:"current_label"`
	PreviousLabel   string `json:"previous_label"`
	PreviousStep    string `json:"previous_step"`
	CurrentSummary  string `json:"current_summary"`
	PreviousSummary string `json:"previous_summary"`
}

// Detector holds the comparison tolerance. The zero value is unusable; use
// NewDetector.
type Detector struct {
	threshold float64
}

func NewDetector(threshold float64) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{threshold: threshold}
}

// Detect extracts known fields from the current content and compares each
// against the most recent prior step that recorded the same field. Degraded
// content on either side is excluded so a transient provider failure never
// manufactures a conflict. The detector is pure; the caller owns presentation
// and resolution.
func (d *Detector) Detect(current string, prior []PriorStep) []Conflict {
	if d == nil || llm.IsDegradedContent(current) {
		return nil
	}

	var conflicts []Conflict

	if cur, ok := extractEmployeeCount(current); ok {
		if prev, step, found := latestEmployeeCount(prior); found && d.numericConflict(cur, prev) {
			conflicts = append(conflicts, Conflict{
				Field:           "employees",
				Question:        "I'm seeing two employee counts for this company:",
				CurrentLabel:    fmt.Sprintf("%s employees", groupDigits(cur)),
				PreviousLabel:   fmt.Sprintf("%s employees", groupDigits(prev)),
				PreviousStep:    step,
				CurrentSummary:  textutil.CleanSnippet(current, summaryMaxLen),
				PreviousSummary: textutil.CleanSnippet(contentOf(prior, step), summaryMaxLen),
			})
		}
	}

	if cur, ok := extractHeadquarters(current); ok {
		if prev, step, found := latestHeadquarters(prior); found && !strings.EqualFold(cur, prev) {
			conflicts = append(conflicts, Conflict{
				Field:           "headquarters",
				Question:        "Two different headquarters are listed:",
				CurrentLabel:    cur,
				PreviousLabel:   prev,
				PreviousStep:    step,
				CurrentSummary:  textutil.CleanSnippet(current, summaryMaxLen),
				PreviousSummary: textutil.CleanSnippet(contentOf(prior, step), summaryMaxLen),
			})
		}
	}

	if cur, curLabel, ok := extractRevenue(current); ok {
		if prev, prevLabel, step, found := latestRevenue(prior); found && d.numericConflict(cur, prev) {
			conflicts = append(conflicts, Conflict{
				Field:           "revenue",
				Question:        "I found two different revenue figures:",
				CurrentLabel:    curLabel,
				PreviousLabel:   prevLabel,
				PreviousStep:    step,
				CurrentSummary:  textutil.CleanSnippet(current, summaryMaxLen),
				PreviousSummary: textutil.CleanSnippet(contentOf(prior, step), summaryMaxLen),
			})
		}
	}

	return conflicts
}

// numericConflict applies the strict >threshold rule relative to the earlier
// value; a zero previous value never conflicts.
func (d *Detector) numericConflict(current, previous float64) bool {
	if previous == 0 {
		return false
	}
	diff := current - previous
	if diff < 0 {
		diff = -diff
	}
	return diff/previous > d.threshold
}

func contentOf(prior []PriorStep, step string) string {
	for i := len(prior) - 1; i >= 0; i-- {
		if prior[i].Step == step {
			return prior[i].Content
		}
	}
	return ""
}

func latestEmployeeCount(prior []PriorStep) (float64, string, bool) {
	for i := len(prior) - 1; i >= 0; i-- {
		if llm.IsDegradedContent(prior[i].Content) {
			continue
		}
		if v, ok := extractEmployeeCount(prior[i].Content); ok {
			return v, prior[i].Step, true
		}
	}
	return 0, "", false
}

func latestHeadquarters(prior []PriorStep) (string, string, bool) {
	for i := len(prior) - 1; i >= 0; i-- {
		if llm.IsDegradedContent(prior[i].Content) {
			continue
		}
		if v, ok := extractHeadquarters(prior[i].Content); ok {
			return v, prior[i].Step, true
		}
	}
	return "", "", false
}

func latestRevenue(prior []PriorStep) (float64, string, string, bool) {
	for i := len(prior) - 1; i >= 0; i-- {
		if llm.IsDegradedContent(prior[i].Content) {
			continue
		}
		if v, label, ok := extractRevenue(prior[i].Content); ok {
			return v, label, prior[i].Step, true
		}
	}
	return 0, "", "", false
}

var employeePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\d{1,3}(?:,\d{3})+|\d+)\s*(?:employees|staff|people|workforce)`),
	regexp.MustCompile(`(?i)employee[^\d]*?(\d{1,3}(?:,\d{3})+|\d+)`),
}

func extractEmployeeCount(text string) (float64, bool) {
	for _, re := range employeePatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		n, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil {
			continue
		}
		return n, true
	}
	return 0, false
}

var headquartersPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)headquarters?[:\s]+(?:in\s+|is\s+(?:in\s+)?)?([^.\n;]+)`),
	regexp.MustCompile(`(?i)headquartered in ([^.\n;]+)`),
	regexp.MustCompile(`(?i)\bHQ[:\s]+([^.\n;]+)`),
}

func extractHeadquarters(text string) (string, bool) {
	for _, re := range headquartersPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			if hq := strings.TrimSpace(m[1]); hq != "" {
				return hq, true
			}
		}
	}
	return "", false
}

var revenuePattern = regexp.MustCompile(`(?i)([$₹€£]?\s*\d{1,3}(?:,\d{3})*(?:\.\d+)?)\s*(billion|million|crore|k|cr|b|m)\b`)

// extractRevenue returns the canonical magnitude and the matched label so
// the choice prompt can show the figure exactly as it appeared.
func extractRevenue(text string) (float64, string, bool) {
	m := revenuePattern.FindStringSubmatch(text)
	if m == nil {
		return 0, "", false
	}
	amount, err := strconv.ParseFloat(stripNonNumeric(m[1]), 64)
	if err != nil {
		return 0, "", false
	}
	switch strings.ToLower(m[2]) {
	case "billion", "b":
		amount *= 1e9
	case "million", "m":
		amount *= 1e6
	case "crore", "cr":
		amount *= 1e7
	case "k":
		amount *= 1e3
	}
	return amount, strings.TrimSpace(m[0]), true
}

func stripNonNumeric(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func groupDigits(v float64) string {
	s := strconv.FormatFloat(v, 'f', 0, 64)
	if len(s) <= 3 {
		return s
	}
	var sb strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		sb.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(s[i : i+3])
	}
	return sb.String()
}

// FormatQuestion renders the first pending conflict as a two-option prompt.
func FormatQuestion(c Conflict) string {
	var sb strings.Builder
	sb.WriteString(c.Question)
	sb.WriteString("\n• ")
	sb.WriteString(c.CurrentLabel)
	sb.WriteString("\n• ")
	sb.WriteString(c.PreviousLabel)
	sb.WriteString("\n\nWhich value should I use?")
	return sb.String()
}
