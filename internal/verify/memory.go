package verify

import (
	"context"
	"sort"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps verification state in process memory for dev mode and
// tests. The single mutex makes UpdateCAS a true compare-and-swap.
type MemoryStore struct {
	mu        sync.RWMutex
	requests  map[string]*VerificationRequest
	sessions  map[string]*VerificationSession
	byRequest map[string]string
	byExtID   map[string]string
	results   map[string]*VerificationResult
}

// NewMemoryStore creates an empty in-memory verification store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:  make(map[string]*VerificationRequest),
		sessions:  make(map[string]*VerificationSession),
		byRequest: make(map[string]string),
		byExtID:   make(map[string]string),
		results:   make(map[string]*VerificationResult),
	}
}

func (m *MemoryStore) Requests() RequestStore { return (*memRequests)(m) }

func (m *MemoryStore) Sessions() SessionStore { return (*memSessions)(m) }

func (m *MemoryStore) Results() ResultStore { return (*memResults)(m) }

type memRequests MemoryStore

func (m *memRequests) Create(ctx context.Context, r *VerificationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[r.ID]; ok {
		return ErrInvalidInput
	}
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *memRequests) Find(ctx context.Context, id string) (*VerificationRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRequests) Update(ctx context.Context, r *VerificationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[r.ID]; !ok {
		return ErrNotFound
	}
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *memRequests) ListByPrincipal(ctx context.Context, principalID string, limit int) ([]*VerificationRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*VerificationRequest
	for _, r := range m.requests {
		if r.PrincipalID != principalID {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memSessions MemoryStore

func (m *memSessions) Create(ctx context.Context, s *VerificationSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return ErrInvalidInput
	}
	if _, ok := m.byRequest[s.VerificationID]; ok {
		return ErrInvalidInput
	}
	s.Version = 1
	cp := copySession(s)
	m.sessions[s.ID] = cp
	m.byRequest[s.VerificationID] = s.ID
	if s.ProviderSessionID != "" {
		m.byExtID[s.ProviderSessionID] = s.ID
	}
	return nil
}

func (m *memSessions) Find(ctx context.Context, id string) (*VerificationSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySession(s), nil
}

func (m *memSessions) FindByRequest(ctx context.Context, verificationID string) (*VerificationSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byRequest[verificationID]
	if !ok {
		return nil, ErrNotFound
	}
	return copySession(m.sessions[id]), nil
}

func (m *memSessions) FindByProviderSession(ctx context.Context, providerSessionID string) (*VerificationSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byExtID[providerSessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return copySession(m.sessions[id]), nil
}

func (m *memSessions) UpdateCAS(ctx context.Context, s *VerificationSession, expectedVersion int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[s.ID]
	if !ok {
		return false, ErrNotFound
	}
	if cur.Version != expectedVersion {
		return false, nil
	}
	s.Version = expectedVersion + 1
	cp := copySession(s)
	m.sessions[s.ID] = cp
	if s.ProviderSessionID != "" {
		m.byExtID[s.ProviderSessionID] = s.ID
	}
	return true, nil
}

func (m *memSessions) ListStale(ctx context.Context, now time.Time, limit int) ([]*VerificationSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*VerificationSession
	for _, s := range m.sessions {
		if s.Status.Terminal() || s.ExpiresAt.After(now) {
			continue
		}
		out = append(out, copySession(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memResults MemoryStore

func (m *memResults) Create(ctx context.Context, r *VerificationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.results[r.VerificationID]; ok {
		return ErrAlreadyFinalized
	}
	cp := *r
	m.results[r.VerificationID] = &cp
	return nil
}

func (m *memResults) FindByRequest(ctx context.Context, verificationID string) (*VerificationResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[verificationID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func copySession(s *VerificationSession) *VerificationSession {
	cp := *s
	cp.ProcessingSteps = append([]ProcessingStep(nil), s.ProcessingSteps...)
	return &cp
}
