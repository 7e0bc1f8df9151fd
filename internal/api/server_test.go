package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/planscout/research-agent/internal/research"
	"github.com/planscout/research-agent/internal/store"
)

type fakeAgent struct {
	sessionID string
	events    []research.Event
	err       error

	gotSession string
	gotMessage string
	cleared    []string
}

func (f *fakeAgent) HandleMessage(_ context.Context, sessionID, message string) (string, []research.Event, error) {
	f.gotSession = sessionID
	f.gotMessage = message
	if f.err != nil {
		return sessionID, nil, f.err
	}
	id := f.sessionID
	if id == "" {
		id = sessionID
	}
	return id, f.events, nil
}

func (f *fakeAgent) Clear(_ context.Context, sessionID string) error {
	f.cleared = append(f.cleared, sessionID)
	return f.err
}

type fakePlans struct {
	plan *store.Plan
	err  error
}

func (f *fakePlans) ReadPlan(_ context.Context, sessionID string) (*store.Plan, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.plan != nil {
		return f.plan, nil
	}
	return &store.Plan{SessionID: sessionID}, nil
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleMessage(t *testing.T) {
	t.Parallel()

	agent := &fakeAgent{
		sessionID: "s-1",
		events: []research.Event{
			{Kind: research.EventProgress, Message: "Searching for Acme..."},
			{Kind: research.EventAskUser, Content: "Continue?", Choices: []string{"continue"}},
		},
	}
	srv := NewServer(agent, &fakePlans{}, nil)

	rec := postJSON(t, srv.Router(), "/api/research/message", map[string]string{
		"session_id": "",
		"message":    "research Acme",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if agent.gotMessage != "research Acme" {
		t.Fatalf("agent saw message %q", agent.gotMessage)
	}

	var resp messageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.SessionID != "s-1" {
		t.Fatalf("session_id = %q", resp.SessionID)
	}
	if len(resp.Events) != 2 || resp.Events[0].Kind != research.EventProgress {
		t.Fatalf("events = %+v", resp.Events)
	}
}

func TestHandleMessageEmptyBodyStillRoutes(t *testing.T) {
	t.Parallel()

	agent := &fakeAgent{sessionID: "s-2", events: []research.Event{}}
	srv := NewServer(agent, &fakePlans{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/research/message", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp messageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Events == nil {
		t.Fatal("events must be an empty array, not null")
	}
}

func TestHandleMessageBadJSON(t *testing.T) {
	t.Parallel()

	srv := NewServer(&fakeAgent{}, &fakePlans{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/research/message", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHandleMessageAgentError(t *testing.T) {
	t.Parallel()

	srv := NewServer(&fakeAgent{err: errors.New("boom")}, &fakePlans{}, nil)
	rec := postJSON(t, srv.Router(), "/api/research/message", map[string]string{"message": "hi"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetPlan(t *testing.T) {
	t.Parallel()

	plans := &fakePlans{plan: &store.Plan{
		SessionID: "s-3",
		Company:   "Acme",
		Sections: []store.Section{
			{Name: "company_overview", Content: "Acme makes anvils."},
		},
	}}
	srv := NewServer(&fakeAgent{}, plans, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/plan/s-3", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var plan store.Plan
	if err := json.Unmarshal(rec.Body.Bytes(), &plan); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if plan.Company != "Acme" || len(plan.Sections) != 1 {
		t.Fatalf("plan = %+v", plan)
	}
}

func TestClearSession(t *testing.T) {
	t.Parallel()

	agent := &fakeAgent{}
	srv := NewServer(agent, &fakePlans{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/s-4/clear", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(agent.cleared) != 1 || agent.cleared[0] != "s-4" {
		t.Fatalf("cleared = %v", agent.cleared)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	srv := NewServer(&fakeAgent{}, &fakePlans{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "ok" || resp.Goroutines <= 0 {
		t.Fatalf("health = %+v", resp)
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	srv := NewServer(&fakeAgent{}, &fakePlans{}, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/research/message", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS header")
	}
}
