// Package research drives the multi-step company research conversation: a
// session-scoped state machine that sequences the fixed research pipeline,
// gathers and synthesizes web findings, detects conflicts between steps, and
// decides when to pause for user input.
package research

import (
	"context"
	"encoding/json"
	"time"

	"github.com/planscout/research-agent/internal/conflict"
	"github.com/planscout/research-agent/internal/store"
	"github.com/planscout/research-agent/internal/websearch"
)

// Step is one stage of the fixed research pipeline.
type Step string

const (
	StepCompanyBasics Step = "company_basics"
	StepFinancial     Step = "financial"
	StepProductsTech  Step = "products_tech"
	StepCompetitors   Step = "competitors"
	StepPainPoints    Step = "pain_points"
	StepRecommend     Step = "recommendations"
	StepFinalPlan     Step = "final_plan"
)

// Pipeline is the full step order. The last three steps synthesize from
// earlier findings instead of searching.
var Pipeline = []Step{
	StepCompanyBasics,
	StepFinancial,
	StepProductsTech,
	StepCompetitors,
	StepPainPoints,
	StepRecommend,
	StepFinalPlan,
}

// Next returns the step after s, or false on the terminal step.
func (s Step) Next() (Step, bool) {
	for i, step := range Pipeline {
		if step == s && i+1 < len(Pipeline) {
			return Pipeline[i+1], true
		}
	}
	return "", false
}

// SearchDriven reports whether the step gathers fresh web results; the
// remaining steps synthesize from prior step content only.
func (s Step) SearchDriven() bool {
	switch s {
	case StepCompanyBasics, StepFinancial, StepProductsTech, StepCompetitors:
		return true
	}
	return false
}

// SectionName maps a pipeline step to the plan field it writes.
func (s Step) SectionName() string {
	switch s {
	case StepCompanyBasics:
		return "company_overview"
	case StepFinancial:
		return "financial_overview"
	case StepProductsTech:
		return "products_services"
	case StepCompetitors:
		return "competitive_landscape"
	case StepPainPoints:
		return "pain_points"
	case StepRecommend:
		return "recommendations"
	case StepFinalPlan:
		return "executive_summary"
	}
	return string(s)
}

// Title is the human-readable step name used in prompts to the user.
func (s Step) Title() string {
	switch s {
	case StepCompanyBasics:
		return "Company Overview"
	case StepFinancial:
		return "Financials"
	case StepProductsTech:
		return "Products & Technology"
	case StepCompetitors:
		return "Competitors"
	case StepPainPoints:
		return "Pain Points"
	case StepRecommend:
		return "Recommendations"
	case StepFinalPlan:
		return "Executive Summary"
	}
	return string(s)
}

// Phase is the per-step sub-state.
type Phase string

const (
	PhaseIdle               Phase = ""
	PhaseSearching          Phase = "searching"
	PhaseSynthesizing       Phase = "synthesizing"
	PhaseAwaitingConfirm    Phase = "awaiting_confirmation"
	PhaseConflictResolution Phase = "conflict_resolution"
)

// StepResult is the synthesized outcome of one step. RawSnippets keeps the
// cleaned search snippets so the content can be regenerated with a different
// instruction without a fresh search. Degraded marks fallback content that
// must not participate in conflict detection.
type StepResult struct {
	Content     string           `json:"content"`
	Evidence    []store.Evidence `json:"evidence,omitempty"`
	RawSnippets []string         `json:"raw_snippets,omitempty"`
	Degraded    bool             `json:"degraded,omitempty"`
}

// CustomTopic is one ad-hoc research request outside the step pipeline.
type CustomTopic struct {
	Topic   string `json:"topic"`
	Content string `json:"content"`
}

// Session is the orchestration state for one conversation. It is checked out
// of the session store at turn start and checked back in at turn end; nothing
// else mutates it concurrently.
type Session struct {
	ID             string `json:"id"`
	Company        string `json:"company"`
	StepMode       bool   `json:"step_mode"`
	CurrentStep    Step   `json:"current_step,omitempty"`
	Phase          Phase  `json:"phase,omitempty"`
	CompletedSteps []Step `json:"completed_steps,omitempty"`

	Results map[Step]StepResult `json:"results,omitempty"`

	// Conflict resolution: the produced result is parked until the user
	// has resolved every pending conflict, then committed.
	PendingConflicts []conflict.Conflict `json:"pending_conflicts,omitempty"`
	PendingResult    *StepResult         `json:"pending_result,omitempty"`
	Resolutions      map[string]string   `json:"resolutions,omitempty"`

	// PendingChoices are the options last offered to the user, so a reply
	// can be matched against what was actually asked.
	PendingChoices []string `json:"pending_choices,omitempty"`

	CustomResearch []CustomTopic `json:"custom_research,omitempty"`
}

func NewSession(id string) *Session {
	return &Session{
		ID:      id,
		Results: map[Step]StepResult{},
	}
}

// MarshalState encodes the session for the session store.
func (s *Session) MarshalState() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func UnmarshalState(raw string) (*Session, error) {
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, err
	}
	if s.Results == nil {
		s.Results = map[Step]StepResult{}
	}
	return &s, nil
}

// PriorSteps lists completed step results in pipeline order for conflict
// detection and synthesis context.
func (s *Session) PriorSteps() []conflict.PriorStep {
	return s.priorSteps("")
}

// PriorStepsExcluding skips one step, so a deep-research rewrite is never
// diffed against the result it replaces.
func (s *Session) PriorStepsExcluding(skip Step) []conflict.PriorStep {
	return s.priorSteps(skip)
}

func (s *Session) priorSteps(skip Step) []conflict.PriorStep {
	var out []conflict.PriorStep
	for _, step := range Pipeline {
		if skip != "" && step == skip {
			continue
		}
		if r, ok := s.Results[step]; ok && !r.Degraded {
			out = append(out, conflict.PriorStep{Step: string(step), Content: r.Content})
		}
	}
	return out
}

// Searcher is the web search dependency of the sequencer.
type Searcher interface {
	Search(ctx context.Context, req websearch.SearchRequest) (websearch.SearchResult, error)
}

// PlanStore is the external plan document the core writes named fields into.
type PlanStore interface {
	UpsertSection(ctx context.Context, sessionID, company, section, content string, evidence []store.Evidence) error
	ClearPlan(ctx context.Context, sessionID string) error
}

// SessionStore checks session state out and in around each turn.
type SessionStore interface {
	LoadSession(ctx context.Context, sessionID string, ttl time.Duration) (string, bool, error)
	SaveSession(ctx context.Context, sessionID, stateJSON string) error
	ClearSession(ctx context.Context, sessionID string) error
}
