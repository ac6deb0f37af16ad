package auth

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps all state in process. One mutex serialises every
// operation, which gives the same per-row guarantees as the SQL store.
type MemoryStore struct {
	mu       sync.Mutex
	seq      int64
	orgs     map[int64]*Organization
	accounts map[int64]*Account
	byEmail  map[string]int64
	tokens   map[string]*RefreshToken
	audit    []*AuditEntry
	now      func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orgs:     make(map[int64]*Organization),
		accounts: make(map[int64]*Account),
		byEmail:  make(map[string]int64),
		tokens:   make(map[string]*RefreshToken),
		now:      time.Now,
	}
}

func (m *MemoryStore) Organizations(context.Context) OrganizationStore { return memOrgs{m} }
func (m *MemoryStore) Accounts(context.Context) AccountStore           { return memAccounts{m} }
func (m *MemoryStore) RefreshTokens(context.Context) RefreshTokenStore { return memTokens{m} }
func (m *MemoryStore) Audit(context.Context) AuditStore                { return memAudit{m} }

func (m *MemoryStore) nextID() int64 {
	m.seq++
	return m.seq
}

type memOrgs struct{ m *MemoryStore }

func (s memOrgs) Create(_ context.Context, org *Organization) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, existing := range s.m.orgs {
		if existing.Name == org.Name {
			return ErrOrganizationExists
		}
	}
	org.ID = s.m.nextID()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = s.m.now().UTC()
	}
	cp := *org
	s.m.orgs[org.ID] = &cp
	return nil
}

func (s memOrgs) Find(_ context.Context, id int64) (*Organization, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	org, ok := s.m.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *org
	return &cp, nil
}

func (s memOrgs) List(context.Context) ([]*Organization, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	out := make([]*Organization, 0, len(s.m.orgs))
	for _, org := range s.m.orgs {
		cp := *org
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memAccounts struct{ m *MemoryStore }

func (s memAccounts) Create(_ context.Context, a *Account) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.byEmail[a.Email]; ok {
		return ErrDuplicateEmail
	}
	if a.OrgID != nil {
		if _, ok := s.m.orgs[*a.OrgID]; !ok {
			return ErrUnknownOrganization
		}
	}
	a.ID = s.m.nextID()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.m.now().UTC()
	}
	s.m.accounts[a.ID] = cloneAccount(a)
	s.m.byEmail[a.Email] = a.ID
	return nil
}

func (s memAccounts) Find(_ context.Context, id int64) (*Account, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	a, ok := s.m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAccount(a), nil
}

func (s memAccounts) FindByEmail(_ context.Context, email string) (*Account, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	id, ok := s.m.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAccount(s.m.accounts[id]), nil
}

func (s memAccounts) UpdateWithLock(_ context.Context, id int64, fn func(*Account) error) (*Account, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	a, ok := s.m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	work := cloneAccount(a)
	if err := fn(work); err != nil {
		return nil, err
	}
	s.m.accounts[id] = cloneAccount(work)
	return work, nil
}

func (s memAccounts) Count(context.Context) (int, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return len(s.m.accounts), nil
}

func cloneAccount(a *Account) *Account {
	cp := *a
	if a.LockExpiry != nil {
		t := *a.LockExpiry
		cp.LockExpiry = &t
	}
	if a.OrgID != nil {
		id := *a.OrgID
		cp.OrgID = &id
	}
	return &cp
}

type memTokens struct{ m *MemoryStore }

func (s memTokens) Create(_ context.Context, tok *RefreshToken) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.insert(tok)
}

func (s memTokens) insert(tok *RefreshToken) error {
	if _, ok := s.m.tokens[tok.TokenHash]; ok {
		return ErrDuplicateToken
	}
	if _, ok := s.m.accounts[tok.AccountID]; !ok {
		return ErrNotFound
	}
	tok.ID = s.m.nextID()
	cp := *tok
	s.m.tokens[tok.TokenHash] = &cp
	return nil
}

func (s memTokens) FindByHash(_ context.Context, hash string) (*RefreshToken, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	tok, ok := s.m.tokens[hash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (s memTokens) Rotate(_ context.Context, hash string, now time.Time, next *RefreshToken) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	tok, ok := s.m.tokens[hash]
	if !ok || !tok.Active(now) {
		return ErrNotFound
	}
	if err := s.insert(next); err != nil {
		return err
	}
	tok.Revoked = true
	return nil
}

func (s memTokens) Revoke(_ context.Context, hash string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	tok, ok := s.m.tokens[hash]
	if !ok {
		return ErrNotFound
	}
	tok.Revoked = true
	return nil
}

func (s memTokens) RevokeAll(_ context.Context, accountID int64) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var n int64
	for _, tok := range s.m.tokens {
		if tok.AccountID == accountID && !tok.Revoked {
			tok.Revoked = true
			n++
		}
	}
	return n, nil
}

type memAudit struct{ m *MemoryStore }

func (s memAudit) Append(_ context.Context, entry *AuditEntry) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	entry.ID = s.m.nextID()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.m.now().UTC()
	}
	cp := *entry
	s.m.audit = append(s.m.audit, &cp)
	return nil
}

func (s memAudit) ListByAccount(_ context.Context, accountID int64, limit int) ([]*AuditEntry, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*AuditEntry
	for i := len(s.m.audit) - 1; i >= 0; i-- {
		e := s.m.audit[i]
		if e.AccountID == nil || *e.AccountID != accountID {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
