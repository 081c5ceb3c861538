package gateway

import (
	"context"
	"sync"

	"github.com/rupeeflow/walletengine/internal/idgen"
)

// MockGateway is a scriptable in-process rail for development mode and tests.
//
// By default every submission succeeds synchronously. Tests script other
// behavior per transaction with Script, or globally with SubmitFunc.
type MockGateway struct {
	mu          sync.Mutex
	scripts     map[string]*Result // transaction ID -> scripted result
	statuses    map[string]*Result // external ref -> current status
	submissions []Request

	// SubmitFunc, when set, overrides all submission behavior.
	SubmitFunc func(ctx context.Context, req Request) (*Result, error)
}

// NewMockGateway creates a mock rail.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		scripts:  make(map[string]*Result),
		statuses: make(map[string]*Result),
	}
}

// Script sets the result returned when the given transaction is submitted.
func (m *MockGateway) Script(transactionID string, result *Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[transactionID] = result
}

// Resolve changes the status reported by QueryStatus for an external ref.
func (m *MockGateway) Resolve(externalRef, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[externalRef] = &Result{Status: status, ExternalRef: externalRef}
}

// Submissions returns a copy of everything submitted so far.
func (m *MockGateway) Submissions() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.submissions))
	copy(out, m.submissions)
	return out
}

func (m *MockGateway) Submit(ctx context.Context, req Request) (*Result, error) {
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions = append(m.submissions, req)

	if scripted, ok := m.scripts[req.TransactionID]; ok {
		cp := *scripted
		if cp.ExternalRef == "" {
			cp.ExternalRef = idgen.WithPrefix("mockref")
		}
		m.statuses[cp.ExternalRef] = &cp
		return &cp, nil
	}

	result := &Result{
		Status:      StatusSuccess,
		ExternalRef: idgen.WithPrefix("mockref"),
	}
	m.statuses[result.ExternalRef] = result
	return result, nil
}

func (m *MockGateway) QueryStatus(ctx context.Context, externalRef string) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if result, ok := m.statuses[externalRef]; ok {
		cp := *result
		return &cp, nil
	}
	return nil, ErrUnknownRef
}
