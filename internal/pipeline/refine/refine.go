// Package refine implements the client contract for the external refinement
// collaborator: given request metadata, the original segment text, the
// Stage-1 text, and the Stage-1 change log, return the final text plus a
// structured edit list.
//
// The [Client] enforces shape, not semantic correctness. The model's reply
// is parsed as JSON (with a recovery pass that extracts the outermost
// {...} span from chatty output), then validated for the presence of the
// "text" and "edits" fields. A reply that fails validation earns exactly one
// retry carrying a stricter format reminder at a lower sampling temperature;
// a second failure surfaces as a contract failure. Transport errors are
// returned as-is and are never retried here.
package refine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dealscribe/dealscribe/internal/observe"
	"github.com/dealscribe/dealscribe/internal/pipeline/stage1"
	"github.com/dealscribe/dealscribe/pkg/provider/llm"
)

// Sampling temperatures for the primary call and the post-violation retry.
const (
	defaultTemperature = 0.2
	retryTemperature   = 0.0
)

// defaultMaxTokens caps the refinement reply length.
const defaultMaxTokens = 1024

// ErrContractFailure indicates the collaborator's output could not be
// validated even after the retry.
var ErrContractFailure = errors.New("refine: collaborator output failed contract validation")

// ErrInvalidEdit indicates an edit object in an otherwise well-formed
// response failed enum or shape validation.
var ErrInvalidEdit = errors.New("refine: invalid edit")

// EditType enumerates the kinds of edits the collaborator may report.
type EditType string

const (
	EditEntity         EditType = "entity"
	EditGrammar        EditType = "grammar"
	EditPunct          EditType = "punct"
	EditCapitalization EditType = "capitalization"
	EditFiller         EditType = "filler"
)

// IsValid reports whether t is one of the five enumerated edit kinds.
func (t EditType) IsValid() bool {
	switch t {
	case EditEntity, EditGrammar, EditPunct, EditCapitalization, EditFiller:
		return true
	}
	return false
}

// Edit is a single edit reported by the refinement collaborator. From, To,
// and Why are optional; JSON null decodes to the empty string.
type Edit struct {
	Type EditType `json:"type"`
	From string   `json:"from,omitempty"`
	To   string   `json:"to,omitempty"`
	Why  string   `json:"why,omitempty"`
}

// Result is the refinement output for one segment.
type Result struct {
	// Text is the final corrected text.
	Text string `json:"text"`

	// Edits lists the collaborator's reported edits. Edit types are decoded
	// but not yet enum-validated; callers run [ValidateEdits] so that a bad
	// edit degrades only its own segment.
	Edits []Edit `json:"edits"`
}

// ValidateEdits checks every edit's type against the enumerated kinds.
// The first invalid edit is reported with its index.
func ValidateEdits(edits []Edit) error {
	for i, e := range edits {
		if !e.Type.IsValid() {
			return fmt.Errorf("%w: edits[%d] has unknown type %q", ErrInvalidEdit, i, e.Type)
		}
	}
	return nil
}

// Refiner is the interface the Stage-2 orchestrator depends on. It is
// injected explicitly so tests can substitute a fake collaborator.
//
// Implementations must be safe for concurrent use.
type Refiner interface {
	// Refine submits one segment for refinement and returns the final text
	// plus the reported edits. Errors wrap [ErrContractFailure] for
	// validation failures that survived the retry; any other error is a
	// transport failure.
	Refine(ctx context.Context, metadata map[string]any, original, stage1Text string, changes []stage1.Change) (*Result, error)
}

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithTemperature sets the primary-call sampling temperature. Default: 0.2.
func WithTemperature(temp float64) Option {
	return func(c *Client) {
		c.temperature = temp
	}
}

// WithMaxTokens caps the completion length. Default: 1024.
func WithMaxTokens(n int) Option {
	return func(c *Client) {
		c.maxTokens = n
	}
}

// WithMetrics enables the retry counter.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// Client implements [Refiner] on top of an [llm.Provider]. It is safe for
// concurrent use.
type Client struct {
	provider    llm.Provider
	temperature float64
	maxTokens   int
	metrics     *observe.Metrics
}

// Ensure Client satisfies Refiner at compile time.
var _ Refiner = (*Client)(nil)

// NewClient returns a [Client] backed by the given provider.
func NewClient(provider llm.Provider, opts ...Option) *Client {
	c := &Client{
		provider:    provider,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Refine implements [Refiner].
func (c *Client) Refine(ctx context.Context, metadata map[string]any, original, stage1Text string, changes []stage1.Change) (*Result, error) {
	userMsg, err := buildPrompt(metadata, original, stage1Text, changes)
	if err != nil {
		return nil, err
	}

	temp := c.temperature
	resp, err := c.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemInstruction,
		Temperature:  &temp,
		MaxTokens:    c.maxTokens,
		Messages: []llm.Message{
			{Role: "user", Content: userMsg},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("refine: complete: %w", err)
	}

	result, firstErr := parseResult(resp.Content)
	if firstErr == nil {
		return result, nil
	}

	// One retry under a stricter format reminder and greedier sampling.
	if c.metrics != nil {
		c.metrics.RefineRetries.Add(ctx, 1)
	}
	// Greedy decoding on the retry. Explicit so the adapters send it rather
	// than falling back to the backend default.
	retryTemp := retryTemperature
	resp, err = c.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemInstruction,
		Temperature:  &retryTemp,
		MaxTokens:    c.maxTokens,
		Messages: []llm.Message{
			{Role: "user", Content: userMsg},
			{Role: "user", Content: strictFormatReminder},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("refine: retry complete: %w", err)
	}

	result, retryErr := parseResult(resp.Content)
	if retryErr != nil {
		return nil, fmt.Errorf("%w: %v (first attempt: %v)", ErrContractFailure, retryErr, firstErr)
	}
	return result, nil
}

// parseResult decodes the collaborator's reply and validates that it is a
// JSON object carrying both "text" and "edits".
func parseResult(content string) (*Result, error) {
	raw, err := parseOrRepair(stripMarkdown(content))
	if err != nil {
		return nil, err
	}

	textRaw, ok := raw["text"]
	if !ok {
		return nil, errors.New(`missing required field "text"`)
	}
	editsRaw, ok := raw["edits"]
	if !ok {
		return nil, errors.New(`missing required field "edits"`)
	}

	var result Result
	if err := json.Unmarshal(textRaw, &result.Text); err != nil {
		return nil, fmt.Errorf(`field "text" is not a string: %w`, err)
	}
	if err := json.Unmarshal(editsRaw, &result.Edits); err != nil {
		return nil, fmt.Errorf(`field "edits" is not an edit array: %w`, err)
	}
	if result.Edits == nil {
		result.Edits = []Edit{}
	}
	return &result, nil
}

// parseOrRepair unmarshals content as a JSON object; when that fails it
// retries on the outermost {...} span, recovering objects embedded in
// prose.
func parseOrRepair(content string) (map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &raw); err == nil {
		return raw, nil
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return nil, errors.New("response is not a JSON object")
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("recovered span is not a JSON object: %w", err)
	}
	return raw, nil
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models wrap around JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
