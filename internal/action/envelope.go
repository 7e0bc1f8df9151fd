// Package action parses and validates the structured decision object the
// model returns each turn. The envelope is a closed tagged union: every kind
// carries exactly its required fields, and anything else is rejected rather
// than coerced.
package action

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind identifies one of the known action variants.
type Kind string

const (
	KindSearch            Kind = "search"
	KindUpdatePlan        Kind = "update_plan"
	KindAskUser           Kind = "ask_user"
	KindProgressUpdate    Kind = "progress_update"
	KindGenerateFinalPlan Kind = "generate_final_plan"
	KindFinish            Kind = "finish"
)

// DefaultFinishContent fills a finish envelope whose content is absent.
const DefaultFinishContent = "Research complete."

// ErrUnknownAction is returned for an action tag outside the closed set.
var ErrUnknownAction = errors.New("no matching action variant")

// Evidence is a citation attached to a plan update.
type Evidence struct {
	Title   string `json:"title,omitempty"`
	URL     string `json:"url,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// Envelope is one validated action decision. Only the fields belonging to
// Kind are populated.
type Envelope struct {
	Kind     Kind
	Query    string     // search
	Section  string     // update_plan
	Content  string     // update_plan, finish
	Evidence []Evidence // update_plan
	Question string     // ask_user
	Status   string     // progress_update
}

// rawEnvelope tolerates the loose field spellings the model produces.
// "parameter" and "section" are aliases; content may be a plain string or a
// compound value; evidence entries may be objects or bare strings.
type rawEnvelope struct {
	Action    string          `json:"action"`
	Query     string          `json:"query"`
	Parameter string          `json:"parameter"`
	Section   string          `json:"section"`
	Content   json.RawMessage `json:"content"`
	Evidence  json.RawMessage `json:"evidence"`
	Question  string          `json:"question"`
	Status    string          `json:"status"`
}

// Decode parses data as a JSON object and validates it into an Envelope.
// It never returns a partially populated envelope: a missing required field
// for the tagged kind fails the whole decode.
func Decode(data []byte) (*Envelope, error) {
	var raw rawEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode action envelope: %w", err)
	}

	kind := Kind(strings.TrimSpace(raw.Action))
	switch kind {
	case KindSearch:
		query := strings.TrimSpace(raw.Query)
		if query == "" {
			return nil, errors.New("search action requires a query")
		}
		return &Envelope{Kind: KindSearch, Query: query}, nil

	case KindUpdatePlan:
		section := strings.TrimSpace(raw.Parameter)
		if section == "" {
			section = strings.TrimSpace(raw.Section)
		}
		if section == "" {
			return nil, errors.New("update_plan action requires a parameter name")
		}
		content, err := decodeContent(raw.Content)
		if err != nil {
			return nil, fmt.Errorf("update_plan content: %w", err)
		}
		if content == "" {
			return nil, errors.New("update_plan action requires content")
		}
		evidence, err := decodeEvidence(raw.Evidence)
		if err != nil {
			return nil, fmt.Errorf("update_plan evidence: %w", err)
		}
		return &Envelope{Kind: KindUpdatePlan, Section: section, Content: content, Evidence: evidence}, nil

	case KindAskUser:
		question := strings.TrimSpace(raw.Question)
		if question == "" {
			return nil, errors.New("ask_user action requires a question")
		}
		return &Envelope{Kind: KindAskUser, Question: question}, nil

	case KindProgressUpdate:
		return &Envelope{Kind: KindProgressUpdate, Status: strings.TrimSpace(raw.Status)}, nil

	case KindGenerateFinalPlan:
		return &Envelope{Kind: KindGenerateFinalPlan}, nil

	case KindFinish:
		content, err := decodeContent(raw.Content)
		if err != nil {
			return nil, fmt.Errorf("finish content: %w", err)
		}
		if content == "" {
			content = DefaultFinishContent
		}
		return &Envelope{Kind: KindFinish, Content: content}, nil

	case "":
		return nil, errors.New("action envelope missing action field")

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, raw.Action)
	}
}

// decodeContent accepts either a JSON string or a compound value; compound
// content is kept as its compact JSON encoding so nothing is lost.
func decodeContent(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	compact, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(compact), nil
}

func decodeEvidence(raw json.RawMessage) ([]Evidence, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var items []Evidence
	if err := json.Unmarshal(raw, &items); err == nil {
		return items, nil
	}
	// Some model outputs list evidence as bare strings.
	var texts []string
	if err := json.Unmarshal(raw, &texts); err != nil {
		return nil, err
	}
	items = make([]Evidence, 0, len(texts))
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			items = append(items, Evidence{Snippet: t})
		}
	}
	return items, nil
}
