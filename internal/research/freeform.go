package research

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/planscout/research-agent/internal/action"
	"github.com/planscout/research-agent/internal/llm"
	"github.com/planscout/research-agent/internal/store"
	"github.com/planscout/research-agent/internal/websearch"
)

// maxFreeformIterations bounds the agent loop per user turn. Reaching the
// cap without a finish or ask_user simply ends the turn with whatever was
// accumulated.
const maxFreeformIterations = 6

// rateLimitedReply is surfaced immediately in the interactive path instead
// of blocking the turn on a backoff sleep.
const rateLimitedReply = "The AI service is currently experiencing high demand. Please wait about 60 seconds before trying again."

const malformedReply = "I apologize, I'm having a bit of trouble processing that right now. Could you rephrase what you'd like me to do?"

// RunFreeform handles a user turn outside the step pipeline: an agent loop
// where each iteration asks the model for one action envelope and dispatches
// on its kind.
func (q *Sequencer) RunFreeform(ctx context.Context, sess *Session, userMessage string) ([]Event, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: freeformSystemPrompt},
	}
	if sess.Company != "" {
		messages = append(messages, llm.Message{
			Role:    llm.RoleSystem,
			Content: fmt.Sprintf("Current context: researching %s.", sess.Company),
		})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userMessage})

	var events []Event
	for i := 0; i < maxFreeformIterations; i++ {
		env, err := q.decideAction(ctx, messages)
		if err != nil {
			if errors.Is(err, llm.ErrRateLimited) {
				return append(events, askUserEvent(rateLimitedReply)), nil
			}
			q.log.Warn("freeform action failed", "iteration", i, "err", err)
			return append(events, askUserEvent(malformedReply)), nil
		}

		switch env.Kind {
		case action.KindSearch:
			events = append(events, progressEvent(fmt.Sprintf("Searching: %s", env.Query)))
			res, err := q.search.Search(ctx, websearch.SearchRequest{Query: env.Query})
			if err != nil {
				q.log.Warn("freeform search failed", "query", env.Query, "err", err)
			}
			messages = append(messages,
				llm.Message{Role: llm.RoleAssistant, Content: fmt.Sprintf(`{"action":"search","query":%q}`, env.Query)},
				llm.Message{Role: llm.RoleTool, Content: formatSearchResults(res)},
			)

		case action.KindUpdatePlan:
			if err := q.plans.UpsertSection(ctx, sess.ID, sess.Company, env.Section, env.Content, toStoreEvidence(env.Evidence)); err != nil {
				return events, fmt.Errorf("persist %s: %w", env.Section, err)
			}
			events = append(events, updatePlanEvent(env.Section, env.Content))
			messages = append(messages,
				llm.Message{Role: llm.RoleAssistant, Content: fmt.Sprintf(`{"action":"update_plan","parameter":%q}`, env.Section)},
				llm.Message{Role: llm.RoleTool, Content: "Plan updated. Continue or finish."},
			)

		case action.KindProgressUpdate:
			if env.Status != "" {
				events = append(events, progressEvent(env.Status))
			}
			messages = append(messages,
				llm.Message{Role: llm.RoleAssistant, Content: fmt.Sprintf(`{"action":"progress_update","status":%q}`, env.Status)},
				llm.Message{Role: llm.RoleTool, Content: "Status noted. Continue."},
			)

		case action.KindAskUser:
			return append(events, askUserEvent(env.Question)), nil

		case action.KindGenerateFinalPlan:
			result := q.synthesizeFromPrior(ctx, sess, StepFinalPlan)
			if err := q.plans.UpsertSection(ctx, sess.ID, sess.Company, StepFinalPlan.SectionName(), result.Content, nil); err != nil {
				return events, fmt.Errorf("persist %s: %w", StepFinalPlan.SectionName(), err)
			}
			events = append(events, updatePlanEvent(StepFinalPlan.SectionName(), result.Content))
			return append(events, finishEvent("The executive summary is ready.")), nil

		case action.KindFinish:
			return append(events, finishEvent(env.Content)), nil
		}
	}

	return events, nil
}

// decideAction performs the interactive per-turn call: one generation plus
// extraction, and on a malformed envelope a single retry with fresh
// extraction. No backoff sleeps here; turn latency stays bounded.
func (q *Sequencer) decideAction(ctx context.Context, messages []llm.Message) (*action.Envelope, error) {
	opts := llm.Options{Temperature: 0.7, MaxOutputTokens: 2048, JSONMode: true}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		raw, err := q.provider.Generate(ctx, messages, opts)
		if err != nil {
			if errors.Is(err, llm.ErrRateLimited) {
				return nil, err
			}
			lastErr = err
			continue
		}
		env, err := action.Extract(raw)
		if err == nil {
			return env, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func formatSearchResults(res websearch.SearchResult) string {
	if len(res.Results) == 0 {
		return "No search results found."
	}
	var sb strings.Builder
	sb.WriteString("SEARCH RESULTS:\n")
	for i, item := range res.Results {
		fmt.Fprintf(&sb, "%d. %s\n%s\n%s\n\n", i+1, item.Title, item.URL, item.Snippet)
		if i >= 9 {
			break
		}
	}
	return strings.TrimSpace(sb.String())
}

func toStoreEvidence(in []action.Evidence) []store.Evidence {
	if len(in) == 0 {
		return nil
	}
	out := make([]store.Evidence, 0, len(in))
	for _, ev := range in {
		out = append(out, store.Evidence{Title: ev.Title, URL: ev.URL, Snippet: ev.Snippet})
	}
	return out
}
