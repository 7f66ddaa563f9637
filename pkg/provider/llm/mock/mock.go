// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that the refinement client sends
// correct CompletionRequests and to feed controlled responses without a live
// LLM backend. All fields are safe to set before calling any method;
// mutating them during a concurrent call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    Responses: []*llm.CompletionResponse{{Content: `{"text":"Hi.","edits":[]}`}},
//	}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/dealscribe/dealscribe/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
// Responses are consumed in order, one per Complete call; when the sequence
// is exhausted the last entry is repeated. Paired Errs entries inject errors
// for the corresponding call.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Responses is the sequence of responses returned by successive Complete
	// calls. A call with neither a response nor a matching Errs entry
	// returns a descriptive error.
	Responses []*llm.CompletionResponse

	// Errs is an optional per-call error sequence. When the entry for a call
	// is non-nil it is returned instead of the response.
	Errs []error

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities llm.ModelCapabilities

	// --- Call records (read after test) ---

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)

// Complete records the call and returns the next configured response or error.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.CompleteCalls)
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})

	if n < len(p.Errs) && p.Errs[n] != nil {
		return nil, p.Errs[n]
	}
	if len(p.Responses) == 0 {
		// Fail loudly so a misconfigured test does not nil-deref downstream.
		return nil, fmt.Errorf("mock: call %d has no configured response or error", n)
	}
	if n >= len(p.Responses) {
		n = len(p.Responses) - 1
	}
	return p.Responses[n], nil
}

// Capabilities records nothing and returns ModelCapabilities.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
}
