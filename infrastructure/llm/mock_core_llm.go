package llm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MockCoreLLM provides a configurable mock implementation of CoreLLM for testing.
// It allows precise control over response behavior, timing, and error conditions
// to facilitate middleware and registry testing.
type MockCoreLLM struct {
	mu sync.Mutex

	// Response configuration
	Response      Response
	Error         error
	Model         string
	ResponseDelay time.Duration

	// FailUntilAttempt fails the first N calls, then succeeds.
	FailUntilAttempt int

	// Tracking
	CallCount      int
	LastRequest    Request
	CallTimestamps []time.Time
}

// NewMockCoreLLM creates a new mock CoreLLM with default successful behavior.
func NewMockCoreLLM() *MockCoreLLM {
	return &MockCoreLLM{
		Response: Response{
			Text: "test response",
		},
		Model: "test-model",
	}
}

// DoRequest implements the CoreLLM interface with configurable behavior.
func (m *MockCoreLLM) DoRequest(ctx context.Context, req Request) (Response, error) {
	m.mu.Lock()
	m.CallCount++
	m.LastRequest = req
	m.CallTimestamps = append(m.CallTimestamps, time.Now())
	call := m.CallCount
	delay := m.ResponseDelay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailUntilAttempt > 0 && call <= m.FailUntilAttempt {
		if m.Error != nil {
			return Response{}, m.Error
		}
		return Response{}, errSimulated
	}
	if m.FailUntilAttempt == 0 && m.Error != nil {
		return Response{}, m.Error
	}

	resp := m.Response
	if resp.Usage.InputTokens == 0 && resp.Usage.OutputTokens == 0 {
		resp.Usage.InputTokens, resp.Usage.OutputTokens = 10, 20
	}
	return resp, nil
}

var errSimulated = errors.New("simulated failure")

// GetModel returns the configured model name.
func (m *MockCoreLLM) GetModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Model
}

// GetCallCount returns the number of times DoRequest was called.
func (m *MockCoreLLM) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// GetLastRequest returns the most recent request.
func (m *MockCoreLLM) GetLastRequest() Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LastRequest
}

// GetTimeBetweenCalls calculates the duration between two calls.
// Returns nil if either index is out of range.
func (m *MockCoreLLM) GetTimeBetweenCalls(call1, call2 int) *time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if call1 < 0 || call2 < 0 || call1 >= len(m.CallTimestamps) || call2 >= len(m.CallTimestamps) {
		return nil
	}

	duration := m.CallTimestamps[call2].Sub(m.CallTimestamps[call1])
	return &duration
}
