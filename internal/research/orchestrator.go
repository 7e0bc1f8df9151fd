package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTTL is the inactivity window after which a session expires.
const DefaultSessionTTL = 24 * time.Hour

// Orchestrator ties the pipeline together per incoming user message: check
// the session out of storage, route the message to the sequencer or the
// free-form loop, and check the mutated session back in.
type Orchestrator struct {
	seq      *Sequencer
	sessions SessionStore
	plans    PlanStore
	ttl      time.Duration
	log      *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewOrchestrator(seq *Sequencer, sessions SessionStore, plans PlanStore, ttl time.Duration, log *slog.Logger) *Orchestrator {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		seq:      seq,
		sessions: sessions,
		plans:    plans,
		ttl:      ttl,
		log:      log,
		locks:    map[string]*sync.Mutex{},
	}
}

// HandleMessage processes one user turn and returns the session id (created
// when absent) with the ordered response events. The session is exclusively
// owned for the duration of the turn.
func (o *Orchestrator) HandleMessage(ctx context.Context, sessionID, message string) (string, []Event, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return sessionID, []Event{askUserEvent("Which company would you like me to research?")}, nil
	}

	lock := o.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := o.checkout(ctx, sessionID)
	if err != nil {
		return sessionID, nil, err
	}

	events, err := o.route(ctx, sess, message)
	if saveErr := o.checkin(ctx, sess); saveErr != nil {
		o.log.Error("session save failed", "session", sessionID, "err", saveErr)
		if err == nil {
			err = saveErr
		}
	}
	return sessionID, events, err
}

// Clear drops the session state and its plan so a new company can start
// fresh under the same id.
func (o *Orchestrator) Clear(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("missing session id")
	}

	lock := o.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := o.sessions.ClearSession(ctx, sessionID); err != nil {
		return err
	}
	return o.plans.ClearPlan(ctx, sessionID)
}

func (o *Orchestrator) checkout(ctx context.Context, sessionID string) (*Session, error) {
	stateJSON, ok, err := o.sessions.LoadSession(ctx, sessionID, o.ttl)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return NewSession(sessionID), nil
	}
	sess, err := UnmarshalState(stateJSON)
	if err != nil {
		o.log.Warn("corrupt session state, starting fresh", "session", sessionID, "err", err)
		return NewSession(sessionID), nil
	}
	sess.ID = sessionID
	return sess, nil
}

func (o *Orchestrator) checkin(ctx context.Context, sess *Session) error {
	state, err := sess.MarshalState()
	if err != nil {
		return err
	}
	return o.sessions.SaveSession(ctx, sess.ID, state)
}

// route dispatches one message based on session phase and a lightweight
// keyword intent pass. Destructive interpretations lose ties: a message only
// counts as a company name when nothing conversational matches.
func (o *Orchestrator) route(ctx context.Context, sess *Session, message string) ([]Event, error) {
	lower := strings.ToLower(message)

	switch {
	case sess.Phase == PhaseConflictResolution && len(sess.PendingConflicts) > 0:
		return o.seq.ResolveConflict(ctx, sess, matchConflictPick(lower, sess))

	case sess.Phase == PhaseAwaitingConfirm:
		if containsAny(lower, changeWords) {
			return o.resetForNewCompany(sess), nil
		}
		if containsAny(lower, regenerateWords) {
			return o.seq.Regenerate(ctx, sess, message)
		}
		if containsAny(lower, newsWords) {
			return o.seq.CustomResearch(ctx, sess, newsTopic(lower))
		}
		return o.seq.HandleDecision(ctx, sess, classifyDecision(lower))

	case sess.StepMode:
		// A step is mid-flight without a pending prompt; resume it.
		return o.seq.RunStep(ctx, sess, false)
	}

	// Outside the pipeline.
	if sess.Company != "" && containsAny(lower, newsWords) {
		return o.seq.CustomResearch(ctx, sess, newsTopic(lower))
	}
	if containsAny(lower, changeWords) {
		return o.resetForNewCompany(sess), nil
	}
	if containsAny(lower, greetingWords) && len(strings.Fields(message)) <= 3 {
		return []Event{askUserEvent("Hello! Which company would you like me to research?")}, nil
	}
	if containsAny(lower, emotionalWords) {
		return []Event{askUserEvent("I'm sorry to hear that, hope you feel better soon. Whenever you're ready, just tell me which company to research.")}, nil
	}
	if company := extractCompany(message); company != "" {
		return o.seq.StartResearch(ctx, sess, company)
	}
	return o.seq.RunFreeform(ctx, sess, message)
}

func (o *Orchestrator) resetForNewCompany(sess *Session) []Event {
	sess.Company = ""
	sess.StepMode = false
	sess.CurrentStep = ""
	sess.Phase = PhaseIdle
	sess.CompletedSteps = nil
	sess.Results = map[Step]StepResult{}
	sess.PendingConflicts = nil
	sess.PendingResult = nil
	sess.PendingChoices = nil
	sess.Resolutions = nil
	return []Event{askUserEvent("Sure, which company should we research instead?")}
}

// classifyDecision maps free text onto one confirmation choice. Deepening
// and skipping are checked before the affirmative words so "yes, go deeper"
// deepens rather than advances.
func classifyDecision(lower string) string {
	switch {
	case containsAny(lower, deepWords):
		return ChoiceDeepResearch
	case containsAny(lower, skipWords):
		return ChoiceSkip
	case containsAny(lower, stopWords):
		return ChoiceStop
	case containsAny(lower, affirmativeWords) || wordIn(lower, "next"):
		return ChoiceContinue
	}
	return ""
}

// matchConflictPick resolves a reply against the two options actually
// offered for the conflict at the head of the queue.
func matchConflictPick(lower string, sess *Session) string {
	head := sess.PendingConflicts[0]
	switch {
	case wordIn(lower, "current") || wordIn(lower, "first") || lower == "1" ||
		strings.Contains(lower, strings.ToLower(head.CurrentLabel)):
		return ChoiceCurrent
	case wordIn(lower, "previous") || wordIn(lower, "second") || lower == "2" ||
		strings.Contains(lower, strings.ToLower(head.PreviousLabel)):
		return ChoicePrevious
	}
	return ""
}

// extractCompany treats a short, non-conversational phrase as a literal
// company name, after stripping common research verbs.
func extractCompany(message string) string {
	msg := strings.TrimSpace(message)
	lower := strings.ToLower(msg)

	for _, prefix := range []string{"research ", "analyze ", "analyse ", "tell me about ", "look up ", "look into ", "account plan for ", "build an account plan for "} {
		if strings.HasPrefix(lower, prefix) {
			msg = strings.TrimSpace(msg[len(prefix):])
			lower = strings.ToLower(msg)
			break
		}
	}

	if msg == "" || strings.ContainsAny(msg, "?!") {
		return ""
	}
	words := strings.Fields(lower)
	if len(words) == 0 || len(words) > 5 {
		return ""
	}
	if containsAny(lower, emotionalWords) || containsAny(lower, greetingWords) {
		return ""
	}
	for _, qw := range questionWords {
		if words[0] == qw {
			return ""
		}
	}
	for _, w := range affirmativeWords {
		if lower == w {
			return ""
		}
	}
	for _, w := range stopWords {
		if lower == w {
			return ""
		}
	}
	return msg
}

// newsTopic pulls the topic out of a news-style request, defaulting to
// latest news when only the trigger phrase was given.
func newsTopic(lower string) string {
	for _, trigger := range []string{"news about ", "updates on ", "what's new with "} {
		if idx := strings.Index(lower, trigger); idx >= 0 {
			if topic := strings.TrimSpace(lower[idx+len(trigger):]); topic != "" {
				return topic
			}
		}
	}
	return "latest news and updates"
}

// containsAny reports whether any keyword matches: multi-word keywords by
// substring, single words by whole-word match.
func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(kw, " ") {
			if strings.Contains(lower, kw) {
				return true
			}
		} else if wordIn(lower, kw) {
			return true
		}
	}
	return false
}

func wordIn(lower, word string) bool {
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '!' || r == '?' || r == ';'
	}) {
		if w == word {
			return true
		}
	}
	return false
}

func (o *Orchestrator) sessionLock(id string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.locks == nil {
		o.locks = map[string]*sync.Mutex{}
	}
	l, ok := o.locks[id]
	if !ok {
		l = &sync.Mutex{}
		o.locks[id] = l
	}
	return l
}
