package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockClient provides a controllable implementation of Client for testing.
// Responses and errors are consumed in order; an error slot of nil falls
// through to the next response.
type MockClient struct {
	responses     []Response
	responseIndex int
	errors        []error
	errorIndex    int
	calls         int
	mu            sync.Mutex
}

// NewMockClient creates a new mock client with predefined responses.
func NewMockClient(responses []Response, errors []error) *MockClient {
	return &MockClient{
		responses: responses,
		errors:    errors,
	}
}

// Complete returns the next predefined response or error.
func (m *MockClient) Complete(_ context.Context, _ Request) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.errorIndex < len(m.errors) {
		err := m.errors[m.errorIndex]
		m.errorIndex++
		if err != nil {
			return Response{}, err
		}
	}

	if m.responseIndex >= len(m.responses) {
		return Response{}, fmt.Errorf("mock client: no more responses")
	}
	resp := m.responses[m.responseIndex]
	m.responseIndex++
	return resp, nil
}

// ModelName returns a fixed identifier for the mock.
func (m *MockClient) ModelName() string {
	return "mock"
}

// Calls returns how many times Complete was invoked.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
