package auth

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore implements Store in process memory. It backs dev mode and tests;
// production deployments use the PostgreSQL store.
type MemoryStore struct {
	mu         sync.RWMutex
	principals map[string]*Principal
	keys       map[string]*APIKey
	keysByHash map[string]string
	refresh    map[string]*RefreshToken
}

// NewMemoryStore creates an empty in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		principals: make(map[string]*Principal),
		keys:       make(map[string]*APIKey),
		keysByHash: make(map[string]string),
		refresh:    make(map[string]*RefreshToken),
	}
}

func (m *MemoryStore) Principals() PrincipalStore { return (*memPrincipals)(m) }

func (m *MemoryStore) APIKeys() APIKeyStore { return (*memKeys)(m) }

func (m *MemoryStore) RefreshTokens() RefreshTokenStore { return (*memRefresh)(m) }

type memPrincipals MemoryStore

func (m *memPrincipals) Create(ctx context.Context, p *Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.principals[p.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *p
	m.principals[p.ID] = &cp
	return nil
}

func (m *memPrincipals) Find(ctx context.Context, id string) (*Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.principals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPrincipals) List(ctx context.Context) ([]*Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Principal, 0, len(m.principals))
	for _, p := range m.principals {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memPrincipals) UpdateStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memPrincipals) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.PasswordHash = passwordHash
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memPrincipals) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.LastUsedAt = &at
	return nil
}

type memKeys MemoryStore

func (m *memKeys) Create(ctx context.Context, k *APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[k.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *k
	m.keys[k.ID] = &cp
	m.keysByHash[k.KeyHash] = k.ID
	return nil
}

func (m *memKeys) Find(ctx context.Context, id string) (*APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.keys[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (m *memKeys) FindByHash(ctx context.Context, keyHash string) (*APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.keysByHash[keyHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.keys[id]
	return &cp, nil
}

func (m *memKeys) ListByPrincipal(ctx context.Context, principalID string) ([]*APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*APIKey
	for _, k := range m.keys {
		if k.PrincipalID == principalID {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memKeys) Revoke(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok {
		return ErrNotFound
	}
	k.Status = KeyStatusRevoked
	return nil
}

func (m *memKeys) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok {
		return ErrNotFound
	}
	k.LastUsedAt = &at
	return nil
}

type memRefresh MemoryStore

func (m *memRefresh) Create(ctx context.Context, tok *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.refresh[tok.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *tok
	m.refresh[tok.ID] = &cp
	return nil
}

func (m *memRefresh) Find(ctx context.Context, id string) (*RefreshToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tok, ok := m.refresh[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (m *memRefresh) MarkRevoked(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.refresh[id]
	if !ok {
		return ErrNotFound
	}
	tok.Revoked = true
	return nil
}

func (m *memRefresh) MarkRevokedByPrincipal(ctx context.Context, principalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tok := range m.refresh {
		if tok.PrincipalID == principalID {
			tok.Revoked = true
		}
	}
	return nil
}
