package research

// EventKind labels one ordered response event returned to the caller.
type EventKind string

const (
	EventProgress   EventKind = "progress"
	EventAskUser    EventKind = "ask_user"
	EventUpdatePlan EventKind = "update_plan"
	EventFinish     EventKind = "finish"
)

// Event is one renderable response item. A turn returns an ordered list of
// these; the caller owns presentation.
type Event struct {
	Kind    EventKind `json:"kind"`
	Message string    `json:"message,omitempty"` // progress
	Section string    `json:"section,omitempty"` // update_plan
	Content string    `json:"content,omitempty"` // update_plan, ask_user, finish
	Choices []string  `json:"choices,omitempty"` // ask_user
}

func progressEvent(message string) Event {
	return Event{Kind: EventProgress, Message: message}
}

func askUserEvent(content string, choices ...string) Event {
	return Event{Kind: EventAskUser, Content: content, Choices: choices}
}

func updatePlanEvent(section, content string) Event {
	return Event{Kind: EventUpdatePlan, Section: section, Content: content}
}

func finishEvent(content string) Event {
	return Event{Kind: EventFinish, Content: content}
}
