package testutils

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ahrav/go-promptlab/internal/domain"
	"github.com/ahrav/go-promptlab/internal/ports"
)

// DefaultMockResponse is returned when no rule matches a request.
const DefaultMockResponse = "This is a standard response for testing purposes."

// MockRule is a canned reply for requests whose model and prompt match.
type MockRule struct {
	// Model restricts the rule to one "provider:model" id. Empty matches any.
	Model string

	// Pattern is a case-insensitive substring of the prompt. Empty matches any.
	Pattern string

	Text      string
	ToolCalls []domain.ToolCall
	Usage     domain.Usage

	// Err is returned instead of a response when set.
	Err error
}

func (r MockRule) matches(req ports.InvokeRequest) bool {
	if r.Model != "" && r.Model != req.Model {
		return false
	}
	return r.Pattern == "" || strings.Contains(strings.ToLower(req.Prompt), strings.ToLower(r.Pattern))
}

// MockInvoker implements ports.ModelInvoker with deterministic responses
// chosen by model and prompt substring. Rules are checked in the order they
// were added and the first match wins. It records every request and is
// safe for concurrent use.
type MockInvoker struct {
	mu       sync.Mutex
	rules    []MockRule
	requests []ports.InvokeRequest
	perModel map[string]int

	inFlight    int
	maxInFlight int

	// Delay is slept before each response. Cancellation interrupts it.
	Delay time.Duration

	// Latency is reported on every response.
	Latency time.Duration

	// Handler, when set, is consulted before the rules. Returning
	// handled=false falls through to rule matching.
	Handler func(req ports.InvokeRequest) (resp ports.InvokeResponse, handled bool, err error)
}

var _ ports.ModelInvoker = (*MockInvoker)(nil)

// NewMockInvoker creates a mock with the given rules.
func NewMockInvoker(rules ...MockRule) *MockInvoker {
	return &MockInvoker{
		rules:    rules,
		perModel: make(map[string]int),
		Latency:  25 * time.Millisecond,
	}
}

// AddRule appends a rule. Earlier rules take precedence.
func (m *MockInvoker) AddRule(r MockRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, r)
}

// Invoke implements ports.ModelInvoker.
func (m *MockInvoker) Invoke(ctx context.Context, req ports.InvokeRequest) (ports.InvokeResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.perModel[req.Model]++
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	rules := m.rules
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if m.Delay > 0 {
		t := time.NewTimer(m.Delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ports.InvokeResponse{}, ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return ports.InvokeResponse{}, err
	}

	if m.Handler != nil {
		if resp, handled, err := m.Handler(req); handled {
			return resp, err
		}
	}

	for _, r := range rules {
		if !r.matches(req) {
			continue
		}
		if r.Err != nil {
			return ports.InvokeResponse{}, r.Err
		}
		return m.response(r.Text, r.ToolCalls, r.Usage), nil
	}
	return m.response(DefaultMockResponse, nil, domain.Usage{}), nil
}

func (m *MockInvoker) response(text string, calls []domain.ToolCall, usage domain.Usage) ports.InvokeResponse {
	if usage == (domain.Usage{}) {
		usage = domain.Usage{InputTokens: 10, OutputTokens: len(text)/4 + 1}
	}
	return ports.InvokeResponse{Text: text, ToolCalls: calls, Latency: m.Latency, Usage: usage}
}

// Calls returns the total number of Invoke calls.
func (m *MockInvoker) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// CallsFor returns the number of Invoke calls for one model.
func (m *MockInvoker) CallsFor(model string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.perModel[model]
}

// Requests returns a copy of every request received.
func (m *MockInvoker) Requests() []ports.InvokeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ports.InvokeRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// MaxInFlight returns the highest number of concurrent Invoke calls seen.
func (m *MockInvoker) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

// Reset clears recorded calls but keeps the rules.
func (m *MockInvoker) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.perModel = make(map[string]int)
	m.maxInFlight = 0
}
