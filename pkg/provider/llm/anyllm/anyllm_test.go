package anyllm

import (
	"testing"

	"github.com/dealscribe/dealscribe/pkg/provider/llm"
)

func TestBuildParams_TemperatureForwardedWhenSet(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "test-model"}

	// Zero is a meaningful value (greedy decoding) and must survive the
	// conversion rather than being treated as unset.
	zero := 0.0
	params := p.buildParams(llm.CompletionRequest{
		Messages:    []llm.Message{{Role: "user", Content: "hi"}},
		Temperature: &zero,
	})
	if params.Temperature == nil || *params.Temperature != 0 {
		t.Errorf("Temperature = %v, want explicit 0", params.Temperature)
	}

	params = p.buildParams(llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if params.Temperature != nil {
		t.Errorf("Temperature = %v, want nil for an unset request", params.Temperature)
	}
}

func TestBuildParams_SystemPromptBecomesLeadingMessage(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "test-model"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "be terse",
		Messages:     []llm.Message{{Role: "user", Content: "hi"}},
	})

	if len(params.Messages) != 2 {
		t.Fatalf("Messages = %d, want system prompt plus user message", len(params.Messages))
	}
	if params.Messages[0].Content != "be terse" {
		t.Errorf("Messages[0].Content = %q, want the system prompt", params.Messages[0].Content)
	}
	if params.Model != "test-model" {
		t.Errorf("Model = %q, want %q", params.Model, "test-model")
	}
}
