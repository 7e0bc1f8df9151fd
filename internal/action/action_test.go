package action

import (
	"errors"
	"testing"
)

func TestDecodeSearch(t *testing.T) {
	t.Parallel()

	env, err := Decode([]byte(`{"action":"search","query":" Tesla revenue 2024 "}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if env.Kind != KindSearch || env.Query != "Tesla revenue 2024" {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	if _, err := Decode([]byte(`{"action":"search","query":"  "}`)); err == nil {
		t.Fatalf("expected failure for empty query")
	}
}

func TestDecodeUpdatePlan(t *testing.T) {
	t.Parallel()

	env, err := Decode([]byte(`{"action":"update_plan","parameter":"financial","content":"Revenue grew 20%.","evidence":[{"title":"10-K","url":"https://example.com","snippet":"FY24 revenue"}]}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if env.Section != "financial" || env.Content != "Revenue grew 20%." {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if len(env.Evidence) != 1 || env.Evidence[0].Title != "10-K" {
		t.Fatalf("unexpected evidence: %+v", env.Evidence)
	}
}

func TestDecodeUpdatePlanSectionAlias(t *testing.T) {
	t.Parallel()

	env, err := Decode([]byte(`{"action":"update_plan","section":"competitors","content":"Rivian, Lucid."}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if env.Section != "competitors" {
		t.Fatalf("section alias not honored: %+v", env)
	}
	if env.Evidence != nil {
		t.Fatalf("expected empty evidence default, got %+v", env.Evidence)
	}
}

func TestDecodeUpdatePlanCompoundContent(t *testing.T) {
	t.Parallel()

	env, err := Decode([]byte(`{"action":"update_plan","parameter":"products","content":{"flagship":"Model Y","count":4}}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if env.Content == "" || env.Content[0] != '{' {
		t.Fatalf("compound content not preserved: %q", env.Content)
	}
}

func TestDecodeUpdatePlanMissingFields(t *testing.T) {
	t.Parallel()

	cases := []string{
		`{"action":"update_plan","content":"orphan"}`,
		`{"action":"update_plan","parameter":"financial"}`,
		`{"action":"update_plan","parameter":"financial","content":null}`,
	}
	for _, c := range cases {
		if _, err := Decode([]byte(c)); err == nil {
			t.Fatalf("expected failure for %s", c)
		}
	}
}

func TestDecodeEvidenceStrings(t *testing.T) {
	t.Parallel()

	env, err := Decode([]byte(`{"action":"update_plan","parameter":"basics","content":"HQ in Austin.","evidence":["annual report","press release"]}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(env.Evidence) != 2 || env.Evidence[0].Snippet != "annual report" {
		t.Fatalf("string evidence not mapped: %+v", env.Evidence)
	}
}

func TestDecodeFinishDefault(t *testing.T) {
	t.Parallel()

	env, err := Decode([]byte(`{"action":"finish"}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if env.Content != DefaultFinishContent {
		t.Fatalf("finish default not applied: %q", env.Content)
	}
}

func TestDecodeUnknownAction(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte(`{"action":"launch_rocket"}`))
	if !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}

	if _, err := Decode([]byte(`{"query":"no tag"}`)); err == nil {
		t.Fatalf("expected failure for missing action field")
	}
}

func TestExtractDirect(t *testing.T) {
	t.Parallel()

	env, err := Extract(`{"action":"ask_user","question":"Which company?"}`)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if env.Kind != KindAskUser || env.Question != "Which company?" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestExtractFenced(t *testing.T) {
	t.Parallel()

	raw := "Here is my decision:\n```json\n{\"action\": \"search\", \"query\": \"Acme employee count\"}\n```\nLet me know."
	env, err := Extract(raw)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if env.Kind != KindSearch || env.Query != "Acme employee count" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestExtractEmbeddedWithNestedEvidence(t *testing.T) {
	t.Parallel()

	raw := `Based on the findings I will update the plan. {"action":"update_plan","parameter":"financial","content":"Revenue of $96.8B.","evidence":[{"title":"Reuters","url":"https://reuters.com/a"}]} Done.`
	env, err := Extract(raw)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if env.Kind != KindUpdatePlan || len(env.Evidence) != 1 {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestExtractSkipsDecoys(t *testing.T) {
	t.Parallel()

	// The first balanced object has no action tag; the second is the
	// real envelope.
	raw := `{"note":"thinking"} then {"action":"progress_update","status":"searching filings"}`
	env, err := Extract(raw)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if env.Kind != KindProgressUpdate || env.Status != "searching filings" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestExtractFailure(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "no json here at all", `{"action":"search"}`} {
		if _, err := Extract(raw); err == nil {
			t.Fatalf("expected failure for %q", raw)
		}
	}
}

func TestExtractNeverPartial(t *testing.T) {
	t.Parallel()

	// A kind-tagged object missing its required field must fail outright,
	// not come back half-filled.
	raws := []string{
		"```json\n{\"action\":\"ask_user\"}\n```",
		`prose {"action":"update_plan","parameter":"financial"} prose`,
	}
	for _, raw := range raws {
		env, err := Extract(raw)
		if err == nil {
			t.Fatalf("expected failure, got %+v for %q", env, raw)
		}
	}
}
