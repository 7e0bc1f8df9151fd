package research

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/planscout/research-agent/internal/conflict"
	"github.com/planscout/research-agent/internal/llm"
	"github.com/planscout/research-agent/internal/store"
	"github.com/planscout/research-agent/internal/textutil"
	"github.com/planscout/research-agent/internal/websearch"
)

// Sequencer owns the ordered research pipeline for one session: it runs
// searches, synthesizes step content, routes conflicts to the user, and
// commits confirmed results onto the plan.
type Sequencer struct {
	provider llm.Provider
	search   Searcher
	plans    PlanStore
	detector *conflict.Detector
	backoff  llm.BackoffConfig
	log      *slog.Logger
}

func NewSequencer(provider llm.Provider, search Searcher, plans PlanStore, detector *conflict.Detector, backoff llm.BackoffConfig, log *slog.Logger) *Sequencer {
	if detector == nil {
		detector = conflict.NewDetector(0)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sequencer{
		provider: provider,
		search:   search,
		plans:    plans,
		detector: detector,
		backoff:  backoff,
		log:      log,
	}
}

// StartResearch begins the pipeline for a new company. Any earlier step
// results for the session are discarded.
func (q *Sequencer) StartResearch(ctx context.Context, sess *Session, company string) ([]Event, error) {
	company = strings.TrimSpace(company)
	if company == "" {
		return []Event{askUserEvent("Which company would you like me to research?")}, nil
	}

	sess.Company = company
	sess.StepMode = true
	sess.CurrentStep = Pipeline[0]
	sess.Phase = PhaseIdle
	sess.CompletedSteps = nil
	sess.Results = map[Step]StepResult{}
	sess.PendingConflicts = nil
	sess.PendingResult = nil
	sess.PendingChoices = nil
	sess.Resolutions = nil

	events := []Event{progressEvent(fmt.Sprintf("Great! I'll research %s for you. Starting with an overview...", company))}
	more, err := q.RunStep(ctx, sess, false)
	if err != nil {
		return events, err
	}
	return append(events, more...), nil
}

// RunStep executes the session's current step. With deep set, the search
// query is intensified and the step's stored result is replaced wholesale.
func (q *Sequencer) RunStep(ctx context.Context, sess *Session, deep bool) ([]Event, error) {
	step := sess.CurrentStep
	if step == "" || !sess.StepMode {
		return nil, fmt.Errorf("no active research step")
	}

	var events []Event
	var result StepResult

	if step.SearchDriven() {
		sess.Phase = PhaseSearching
		events = append(events, progressEvent(fmt.Sprintf("Researching %s for %s...", step.Title(), sess.Company)))

		query := stepQuery(sess.Company, step)
		if deep {
			query += deepResearchSuffix
		}
		res, err := q.search.Search(ctx, websearch.SearchRequest{Query: query})
		if err != nil {
			q.log.Warn("step search failed", "step", step, "err", err)
		}

		snippets, evidence := usableResults(res.Results)
		if len(snippets) < minUsableResults {
			sess.Phase = PhaseAwaitingConfirm
			sess.PendingChoices = []string{ChoiceDeepResearch, ChoiceSkip, ChoiceStop}
			events = append(events, askUserEvent(
				fmt.Sprintf("I couldn't find enough information about %s for %s. Should I dig deeper, skip this step, or stop?", step.Title(), sess.Company),
				ChoiceDeepResearch, ChoiceSkip, ChoiceStop,
			))
			return events, nil
		}

		sess.Phase = PhaseSynthesizing
		result = q.synthesizeStep(ctx, sess.Company, step, snippets, evidence)
	} else {
		sess.Phase = PhaseSynthesizing
		events = append(events, progressEvent(fmt.Sprintf("Analyzing %s for %s...", step.Title(), sess.Company)))
		result = q.synthesizeFromPrior(ctx, sess, step)
	}

	var conflicts []conflict.Conflict
	if !result.Degraded {
		conflicts = q.detector.Detect(result.Content, sess.PriorStepsExcluding(step))
	}
	if len(conflicts) > 0 {
		sess.Phase = PhaseConflictResolution
		sess.PendingConflicts = conflicts
		sess.PendingResult = &result
		sess.Resolutions = nil
		events = append(events, conflictPrompt(conflicts[0]))
		return events, nil
	}

	more, err := q.commit(ctx, sess, result)
	if err != nil {
		return events, err
	}
	return append(events, more...), nil
}

// commit persists the step result onto the plan and either offers the next
// confirmation or, on the terminal step, finishes the pipeline.
func (q *Sequencer) commit(ctx context.Context, sess *Session, result StepResult) ([]Event, error) {
	step := sess.CurrentStep
	sess.Results[step] = result
	sess.PendingConflicts = nil
	sess.PendingResult = nil

	if err := q.plans.UpsertSection(ctx, sess.ID, sess.Company, step.SectionName(), result.Content, result.Evidence); err != nil {
		return nil, fmt.Errorf("persist %s: %w", step.SectionName(), err)
	}

	events := []Event{updatePlanEvent(step.SectionName(), result.Content)}

	if step == StepFinalPlan {
		sess.markStepCompleted(step)
		sess.StepMode = false
		sess.CurrentStep = ""
		sess.Phase = PhaseIdle
		sess.PendingChoices = nil
		events = append(events, finishEvent(fmt.Sprintf("Research on %s is complete. The full account plan is ready.", sess.Company)))
		return events, nil
	}

	next, _ := sess.CurrentStep.Next()
	sess.Phase = PhaseAwaitingConfirm
	sess.PendingChoices = []string{ChoiceContinue, ChoiceDeepResearch, ChoiceNextStep}
	events = append(events, askUserEvent(nextStepQuestion(sess.Company, next), ChoiceContinue, ChoiceDeepResearch, ChoiceNextStep))
	return events, nil
}

// HandleDecision applies a confirmation choice while the session is in
// awaiting_confirmation.
func (q *Sequencer) HandleDecision(ctx context.Context, sess *Session, choice string) ([]Event, error) {
	if sess.Phase != PhaseAwaitingConfirm {
		return nil, fmt.Errorf("no pending confirmation")
	}

	switch choice {
	case ChoiceContinue, ChoiceNextStep, ChoiceSkip:
		return q.advance(ctx, sess)

	case ChoiceDeepResearch:
		sess.PendingChoices = nil
		return q.RunStep(ctx, sess, true)

	case ChoiceStop:
		sess.StepMode = false
		sess.CurrentStep = ""
		sess.Phase = PhaseIdle
		sess.PendingChoices = nil
		return []Event{finishEvent(fmt.Sprintf("Stopping here. Everything gathered on %s so far is saved in the plan.", sess.Company))}, nil

	default:
		return []Event{askUserEvent(
			fmt.Sprintf("I didn't catch that. Should I continue, dig deeper, or move to the next step for %s?", sess.Company),
			sess.PendingChoices...,
		)}, nil
	}
}

// ResolveConflict applies one binary pick ("current" or "previous") to the
// head of the pending conflict queue. The parked result commits once the
// queue empties.
func (q *Sequencer) ResolveConflict(ctx context.Context, sess *Session, pick string) ([]Event, error) {
	if sess.Phase != PhaseConflictResolution || len(sess.PendingConflicts) == 0 || sess.PendingResult == nil {
		return nil, fmt.Errorf("no pending conflict")
	}

	head := sess.PendingConflicts[0]
	if sess.Resolutions == nil {
		sess.Resolutions = map[string]string{}
	}
	switch pick {
	case ChoiceCurrent:
		sess.Resolutions[head.Field] = head.CurrentLabel
	case ChoicePrevious:
		sess.Resolutions[head.Field] = head.PreviousLabel
	default:
		return []Event{conflictPrompt(head)}, nil
	}

	sess.PendingConflicts = sess.PendingConflicts[1:]
	if len(sess.PendingConflicts) > 0 {
		return []Event{conflictPrompt(sess.PendingConflicts[0])}, nil
	}

	result := *sess.PendingResult
	result.Content = annotateResolutions(result.Content, sess.Resolutions)
	if pickNote := resolutionNote(sess.Resolutions); pickNote != "" {
		q.log.Info("conflicts resolved", "session", sess.ID, "resolutions", pickNote)
	}
	return q.commit(ctx, sess, result)
}

// advance marks the current step completed and runs the next one, or
// finishes when none remain.
func (q *Sequencer) advance(ctx context.Context, sess *Session) ([]Event, error) {
	sess.markStepCompleted(sess.CurrentStep)
	sess.PendingChoices = nil

	next, ok := sess.CurrentStep.Next()
	if !ok {
		sess.StepMode = false
		sess.CurrentStep = ""
		sess.Phase = PhaseIdle
		return []Event{finishEvent("Research complete! Would you like to research another company?")}, nil
	}

	sess.CurrentStep = next
	sess.Phase = PhaseIdle
	return q.RunStep(ctx, sess, false)
}

// Regenerate rewrites the current step's content from its stored snippets
// with a user-supplied instruction, without a fresh search.
func (q *Sequencer) Regenerate(ctx context.Context, sess *Session, instruction string) ([]Event, error) {
	step := sess.CurrentStep
	if step == "" {
		return []Event{askUserEvent("Please start a company research first.")}, nil
	}
	result, ok := sess.Results[step]
	if !ok || len(result.RawSnippets) == 0 {
		return []Event{askUserEvent("There's nothing to regenerate for this step yet. Say deep-research and I'll gather the data first.")}, nil
	}

	prompt := synthesisPrompt(sess.Company, step, styledInstruction(instruction), strings.Join(result.RawSnippets, "\n\n"))
	content := llm.GenerateWithBackoff(ctx, q.provider, []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	}, synthesisOptions(), q.backoff, q.log)

	if !llm.IsDegradedContent(content) {
		result.Content = strings.TrimSpace(content)
		result.Degraded = false
		sess.Results[step] = result
		if err := q.plans.UpsertSection(ctx, sess.ID, sess.Company, step.SectionName(), result.Content, result.Evidence); err != nil {
			return nil, fmt.Errorf("persist %s: %w", step.SectionName(), err)
		}
	}

	sess.Phase = PhaseAwaitingConfirm
	sess.PendingChoices = []string{ChoiceContinue, ChoiceDeepResearch, ChoiceNextStep}
	return []Event{
		updatePlanEvent(step.SectionName(), sess.Results[step].Content),
		askUserEvent(fmt.Sprintf("Is this better? Should I continue researching %s?", sess.Company), ChoiceContinue, ChoiceDeepResearch, ChoiceNextStep),
	}, nil
}

// CustomResearch answers an ad-hoc topic request for the current company
// without leaving the pipeline position.
func (q *Sequencer) CustomResearch(ctx context.Context, sess *Session, topic string) ([]Event, error) {
	if strings.TrimSpace(sess.Company) == "" {
		return []Event{askUserEvent("Please start a company research first.")}, nil
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		topic = "latest news and updates"
	}

	events := []Event{progressEvent(fmt.Sprintf("Looking into %s for %s...", topic, sess.Company))}

	res, err := q.search.Search(ctx, websearch.SearchRequest{Query: sess.Company + " " + topic})
	if err != nil {
		q.log.Warn("custom research search failed", "topic", topic, "err", err)
	}
	snippets, evidence := usableResults(res.Results)
	if len(snippets) == 0 {
		events = append(events, askUserEvent(fmt.Sprintf("I couldn't find anything recent on %s for %s. Want to try another topic?", topic, sess.Company)))
		return events, nil
	}

	instruction := fmt.Sprintf("Provide comprehensive information about %s for %s. Focus on recent developments and current information.", topic, sess.Company)
	prompt := synthesisPrompt(sess.Company, Step(topic), instruction, strings.Join(snippets, "\n\n"))
	content := llm.GenerateWithBackoff(ctx, q.provider, []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	}, synthesisOptions(), q.backoff, q.log)

	sess.CustomResearch = append(sess.CustomResearch, CustomTopic{Topic: topic, Content: content})
	if err := q.plans.UpsertSection(ctx, sess.ID, sess.Company, "custom_research", content, evidence); err != nil {
		return nil, fmt.Errorf("persist custom research: %w", err)
	}

	events = append(events,
		updatePlanEvent("custom_research", content),
		askUserEvent(fmt.Sprintf("Would you like to continue the structured research, or explore another topic for %s?", sess.Company)),
	)
	return events, nil
}

// synthesizeStep turns cleaned search snippets into step content. When the
// provider stays unavailable after retries, the top snippets become a
// bulleted fallback marked degraded.
func (q *Sequencer) synthesizeStep(ctx context.Context, company string, step Step, snippets []string, evidence []store.Evidence) StepResult {
	prompt := synthesisPrompt(company, step, stepInstruction(step), strings.Join(snippets, "\n\n"))
	content := llm.GenerateWithBackoff(ctx, q.provider, []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	}, synthesisOptions(), q.backoff, q.log)

	if llm.IsDegradedContent(content) {
		q.log.Warn("synthesis degraded, falling back to raw snippets", "step", step)
		return StepResult{
			Content:     bulleted(snippets, 3),
			Evidence:    evidence,
			RawSnippets: snippets,
			Degraded:    true,
		}
	}
	return StepResult{
		Content:     strings.TrimSpace(content),
		Evidence:    evidence,
		RawSnippets: snippets,
	}
}

// synthesizeFromPrior builds the analysis-only steps from the concatenation
// of everything gathered so far.
func (q *Sequencer) synthesizeFromPrior(ctx context.Context, sess *Session, step Step) StepResult {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Company: %s\n\n", sess.Company)
	for _, prior := range sess.PriorStepsExcluding(step) {
		fmt.Fprintf(&sb, "%s:\n%s\n\n", Step(prior.Step).Title(), prior.Content)
	}

	instruction := stepInstruction(step)
	if step == StepFinalPlan {
		instruction = finalPlanInstruction(sess.Company)
	}

	prompt := fmt.Sprintf("%s\n\nRESEARCH DATA:\n%s", instruction, sb.String())
	content := llm.GenerateWithBackoff(ctx, q.provider, []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	}, synthesisOptions(), q.backoff, q.log)

	if llm.IsDegradedContent(content) {
		return StepResult{Content: llm.DegradedContent, Degraded: true}
	}
	return StepResult{Content: strings.TrimSpace(content)}
}

func synthesisPrompt(company string, step Step, instruction, rawData string) string {
	return fmt.Sprintf("Synthesize the following information about %s for the '%s' section into a professional report format:\n\n%s\n\nIMPORTANT INSTRUCTIONS:\n- %s\n- Write ONLY the factual content - NO introductory phrases like 'Here is...', 'The following...', 'Based on...'\n- Start directly with the substantive information\n- Do not truncate or use ellipsis (...)\n- Use clear paragraphs and structure\n- Write in a professional, report-ready style",
		company, step, rawData, instruction)
}

func synthesisOptions() llm.Options {
	return llm.Options{Temperature: 0.7, MaxOutputTokens: 4096}
}

// styledInstruction maps a regenerate request onto a synthesis style.
func styledInstruction(userRequest string) string {
	lower := strings.ToLower(userRequest)
	switch {
	case strings.Contains(lower, "short") || strings.Contains(lower, "brief") || strings.Contains(lower, "concise"):
		return "Create a BRIEF, CONCISE summary (maximum 150 words)"
	case strings.Contains(lower, "long") || strings.Contains(lower, "detail") || strings.Contains(lower, "elaborate") || strings.Contains(lower, "expand"):
		return "Create a COMPREHENSIVE, DETAILED analysis with extensive information"
	default:
		return "Create a professional, well-structured analysis"
	}
}

// usableResults cleans search results into deduplicated snippets plus the
// matching evidence list, capped per step.
func usableResults(items []websearch.ResultItem) ([]string, []store.Evidence) {
	var snippets []string
	var evidence []store.Evidence
	for _, item := range items {
		snippet := textutil.CleanSnippet(item.Snippet, maxSnippetLength)
		if snippet == "" {
			continue
		}
		snippets = append(snippets, snippet)
		evidence = append(evidence, store.Evidence{
			Title:   strings.TrimSpace(item.Title),
			URL:     strings.TrimSpace(item.URL),
			Snippet: snippet,
		})
		if len(snippets) >= maxSnippetsPerStep {
			break
		}
	}
	return textutil.RemoveDuplicates(snippets), evidence
}

func bulleted(snippets []string, max int) string {
	if max > len(snippets) {
		max = len(snippets)
	}
	var sb strings.Builder
	for _, s := range snippets[:max] {
		sb.WriteString("• ")
		sb.WriteString(s)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

func conflictPrompt(c conflict.Conflict) Event {
	return askUserEvent(conflict.FormatQuestion(c), ChoiceCurrent, ChoicePrevious)
}

// annotateResolutions appends the user's conflict picks onto the section
// content, so the committed plan states the figures the user confirmed even
// when the synthesized prose carried the other value.
func annotateResolutions(content string, resolutions map[string]string) string {
	if len(resolutions) == 0 {
		return content
	}
	fields := make([]string, 0, len(resolutions))
	for field := range resolutions {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(content))
	sb.WriteString("\n\nConfirmed details:\n")
	for _, field := range fields {
		sb.WriteString("• ")
		sb.WriteString(field)
		sb.WriteString(": ")
		sb.WriteString(resolutions[field])
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

func resolutionNote(resolutions map[string]string) string {
	if len(resolutions) == 0 {
		return ""
	}
	parts := make([]string, 0, len(resolutions))
	for field, label := range resolutions {
		parts = append(parts, field+"="+label)
	}
	return strings.Join(parts, ", ")
}

func (s *Session) markStepCompleted(step Step) {
	for _, done := range s.CompletedSteps {
		if done == step {
			return
		}
	}
	s.CompletedSteps = append(s.CompletedSteps, step)
}
