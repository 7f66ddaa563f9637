package refine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dealscribe/dealscribe/internal/pipeline/stage1"
	"github.com/dealscribe/dealscribe/pkg/provider/llm"
	"github.com/dealscribe/dealscribe/pkg/provider/llm/mock"
)

var testMetadata = map[string]any{
	"companies": []string{"Salesforce"},
	"people":    []string{"Priya Sharma"},
}

func okResponse(text string) *llm.CompletionResponse {
	return &llm.CompletionResponse{
		Content: `{"text":"` + text + `","edits":[{"type":"grammar","from":"seen","to":"saw"}]}`,
	}
}

func TestRefine_WellFormedResponse(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Responses: []*llm.CompletionResponse{okResponse("We saw the demo.")}}
	c := NewClient(p)

	res, err := c.Refine(context.Background(), testMetadata, "we seen the demo", "we seen the demo.", nil)
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if res.Text != "We saw the demo." {
		t.Errorf("Text = %q, want %q", res.Text, "We saw the demo.")
	}
	if len(res.Edits) != 1 || res.Edits[0].Type != EditGrammar {
		t.Errorf("Edits = %+v, want one grammar edit", res.Edits)
	}

	if n := len(p.CompleteCalls); n != 1 {
		t.Fatalf("Complete calls = %d, want 1", n)
	}
	req := p.CompleteCalls[0].Req
	if req.Temperature == nil || *req.Temperature != 0.2 {
		t.Errorf("Temperature = %v, want explicit 0.2", req.Temperature)
	}
	if req.SystemPrompt == "" {
		t.Error("SystemPrompt is empty")
	}
	if len(req.Messages) != 1 {
		t.Fatalf("Messages = %d, want 1", len(req.Messages))
	}
	if !strings.Contains(req.Messages[0].Content, "we seen the demo.") {
		t.Error("prompt does not carry the stage-1 text")
	}
	if !strings.Contains(req.Messages[0].Content, "Salesforce") {
		t.Error("prompt does not carry the metadata")
	}
}

func TestRefine_StripsMarkdownFences(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Responses: []*llm.CompletionResponse{
		{Content: "```json\n{\"text\":\"Fine.\",\"edits\":[]}\n```"},
	}}
	c := NewClient(p)

	res, err := c.Refine(context.Background(), nil, "fine", "fine.", nil)
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if res.Text != "Fine." {
		t.Errorf("Text = %q, want %q", res.Text, "Fine.")
	}
	if len(p.CompleteCalls) != 1 {
		t.Errorf("Complete calls = %d, fenced JSON must not trigger the retry", len(p.CompleteCalls))
	}
}

func TestRefine_RecoversObjectEmbeddedInProse(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Responses: []*llm.CompletionResponse{
		{Content: `Sure, here is the corrected segment: {"text":"Hi.","edits":[]} Hope that helps!`},
	}}
	c := NewClient(p)

	res, err := c.Refine(context.Background(), nil, "hi", "hi.", nil)
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if res.Text != "Hi." {
		t.Errorf("Text = %q, want %q", res.Text, "Hi.")
	}
}

func TestRefine_RetriesOnceWithStricterPrompt(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Responses: []*llm.CompletionResponse{
		{Content: "I could not process that."},
		okResponse("Recovered."),
	}}
	c := NewClient(p)

	res, err := c.Refine(context.Background(), nil, "x", "x.", []stage1.Change{{From: "a", To: "b", Reason: "fuzzy:90"}})
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if res.Text != "Recovered." {
		t.Errorf("Text = %q, want %q", res.Text, "Recovered.")
	}

	if n := len(p.CompleteCalls); n != 2 {
		t.Fatalf("Complete calls = %d, want 2", n)
	}
	// The retry must carry an explicit temperature, set lower than the
	// primary call's. A nil value would let the backend default apply, which
	// is typically higher than either.
	primary := p.CompleteCalls[0].Req
	retry := p.CompleteCalls[1].Req
	if retry.Temperature == nil || *retry.Temperature != 0 {
		t.Errorf("retry Temperature = %v, want explicit 0", retry.Temperature)
	}
	if primary.Temperature == nil || *retry.Temperature >= *primary.Temperature {
		t.Errorf("retry Temperature = %v, want below the primary call's %v",
			retry.Temperature, primary.Temperature)
	}
	if len(retry.Messages) != 2 {
		t.Fatalf("retry Messages = %d, want original prompt plus reminder", len(retry.Messages))
	}
	if retry.Messages[0] != p.CompleteCalls[0].Req.Messages[0] {
		t.Error("retry must resend the original prompt unchanged")
	}
	if !strings.Contains(retry.Messages[1].Content, "JSON") {
		t.Errorf("reminder = %q, want a JSON format reminder", retry.Messages[1].Content)
	}
}

func TestRefine_ContractFailureAfterRetry(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Responses: []*llm.CompletionResponse{
		{Content: `{"text":"missing edits field"}`},
		{Content: "still not json"},
	}}
	c := NewClient(p)

	_, err := c.Refine(context.Background(), nil, "x", "x.", nil)
	if !errors.Is(err, ErrContractFailure) {
		t.Fatalf("err = %v, want ErrContractFailure", err)
	}
	if len(p.CompleteCalls) != 2 {
		t.Errorf("Complete calls = %d, want exactly 2 (one retry)", len(p.CompleteCalls))
	}
}

func TestRefine_TransportErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	p := &mock.Provider{Errs: []error{boom}}
	c := NewClient(p)

	_, err := c.Refine(context.Background(), nil, "x", "x.", nil)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped transport error", err)
	}
	if errors.Is(err, ErrContractFailure) {
		t.Error("transport errors must not be reported as contract failures")
	}
	if len(p.CompleteCalls) != 1 {
		t.Errorf("Complete calls = %d, transport errors must not be retried", len(p.CompleteCalls))
	}
}

func TestRefine_NullEditsBecomesEmptySlice(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Responses: []*llm.CompletionResponse{
		{Content: `{"text":"Ok.","edits":null}`},
	}}
	c := NewClient(p)

	res, err := c.Refine(context.Background(), nil, "ok", "ok.", nil)
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if res.Edits == nil || len(res.Edits) != 0 {
		t.Errorf("Edits = %#v, want empty non-nil slice", res.Edits)
	}
}

func TestValidateEdits(t *testing.T) {
	t.Parallel()

	valid := []Edit{
		{Type: EditEntity, From: "chenai", To: "Chennai"},
		{Type: EditFiller, From: "um,"},
		{Type: EditPunct},
		{Type: EditCapitalization},
		{Type: EditGrammar},
	}
	if err := ValidateEdits(valid); err != nil {
		t.Errorf("ValidateEdits(valid) = %v, want nil", err)
	}
	if err := ValidateEdits(nil); err != nil {
		t.Errorf("ValidateEdits(nil) = %v, want nil", err)
	}

	bad := []Edit{{Type: EditGrammar}, {Type: "spelling"}}
	err := ValidateEdits(bad)
	if !errors.Is(err, ErrInvalidEdit) {
		t.Fatalf("err = %v, want ErrInvalidEdit", err)
	}
	if !strings.Contains(err.Error(), "edits[1]") {
		t.Errorf("err = %v, want the failing index named", err)
	}
}

func TestParseOrRepair_NoObjectPresent(t *testing.T) {
	t.Parallel()

	if _, err := parseOrRepair("no braces anywhere"); err == nil {
		t.Error("want error when the response has no JSON object")
	}
	if _, err := parseOrRepair("} backwards {"); err == nil {
		t.Error("want error when braces do not delimit a span")
	}
}
