package credential

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety, including the
// cascade-delete semantics the SQL schema enforces with foreign keys. It
// backs tests and local development.
type InMemory struct {
	mu           sync.RWMutex
	projects     map[string]*Project
	environments map[string]*Environment
	scopes       map[string]*ProjectScope
	accounts     map[string]*ServiceAccount
	accountKeys  map[string]*ServiceAccountKey
	accesses     map[string]*ProjectAccess
	grants       map[string]map[string]struct{} // access id -> scope ids
	serverKeys   map[string]*ServerKey
	tokens       map[string]*AccessToken
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		projects:     make(map[string]*Project),
		environments: make(map[string]*Environment),
		scopes:       make(map[string]*ProjectScope),
		accounts:     make(map[string]*ServiceAccount),
		accountKeys:  make(map[string]*ServiceAccountKey),
		accesses:     make(map[string]*ProjectAccess),
		grants:       make(map[string]map[string]struct{}),
		serverKeys:   make(map[string]*ServerKey),
		tokens:       make(map[string]*AccessToken),
	}
}

func (m *InMemory) Projects(context.Context) ProjectStore              { return &memProjects{m} }
func (m *InMemory) Environments(context.Context) EnvironmentStore     { return &memEnvironments{m} }
func (m *InMemory) Scopes(context.Context) ScopeStore                 { return &memScopes{m} }
func (m *InMemory) ServiceAccounts(context.Context) ServiceAccountStore { return &memAccounts{m} }
func (m *InMemory) Accesses(context.Context) AccessStore              { return &memAccesses{m} }
func (m *InMemory) ServerKeys(context.Context) ServerKeyStore         { return &memServerKeys{m} }
func (m *InMemory) Tokens(context.Context) TokenStore                 { return &memTokens{m} }

// Projects -----------------------------------------------------------------

type memProjects struct{ m *InMemory }

func (s *memProjects) Create(ctx context.Context, p *Project) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.projects[p.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *p
	s.m.projects[p.ID] = &cp
	return nil
}

func (s *memProjects) Find(ctx context.Context, id string) (*Project, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	p, ok := s.m.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memProjects) List(ctx context.Context) ([]*Project, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	out := make([]*Project, 0, len(s.m.projects))
	for _, p := range s.m.projects {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memProjects) SetEnabled(ctx context.Context, id string, enabled bool) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	p, ok := s.m.projects[id]
	if !ok {
		return ErrNotFound
	}
	p.Enabled = enabled
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memProjects) Delete(ctx context.Context, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.projects[id]; !ok {
		return ErrNotFound
	}
	for envID, env := range s.m.environments {
		if env.ProjectID == id {
			s.m.deleteEnvironmentLocked(envID)
		}
	}
	for scopeID, scope := range s.m.scopes {
		if scope.ProjectID == id {
			s.m.deleteScopeLocked(scopeID)
		}
	}
	delete(s.m.projects, id)
	return nil
}

// Environments ---------------------------------------------------------------

type memEnvironments struct{ m *InMemory }

func (s *memEnvironments) Create(ctx context.Context, e *Environment) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.projects[e.ProjectID]; !ok {
		return ErrNotFound
	}
	if _, ok := s.m.environments[e.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *e
	s.m.environments[e.ID] = &cp
	return nil
}

func (s *memEnvironments) Find(ctx context.Context, id string) (*Environment, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	e, ok := s.m.environments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *memEnvironments) ListByProject(ctx context.Context, projectID string) ([]*Environment, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var out []*Environment
	for _, e := range s.m.environments {
		if e.ProjectID == projectID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memEnvironments) SetEnabled(ctx context.Context, id string, enabled bool) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	e, ok := s.m.environments[id]
	if !ok {
		return ErrNotFound
	}
	e.Enabled = enabled
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memEnvironments) Delete(ctx context.Context, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.environments[id]; !ok {
		return ErrNotFound
	}
	s.m.deleteEnvironmentLocked(id)
	return nil
}

// Scopes ---------------------------------------------------------------------

type memScopes struct{ m *InMemory }

func (s *memScopes) Create(ctx context.Context, sc *ProjectScope) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.projects[sc.ProjectID]; !ok {
		return ErrNotFound
	}
	for _, existing := range s.m.scopes {
		if existing.ProjectID == sc.ProjectID && existing.Name == sc.Name {
			return ErrAlreadyExists
		}
	}
	cp := *sc
	s.m.scopes[sc.ID] = &cp
	return nil
}

func (s *memScopes) Find(ctx context.Context, id string) (*ProjectScope, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	sc, ok := s.m.scopes[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sc
	return &cp, nil
}

func (s *memScopes) ListByProject(ctx context.Context, projectID string) ([]*ProjectScope, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var out []*ProjectScope
	for _, sc := range s.m.scopes {
		if sc.ProjectID == projectID {
			cp := *sc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memScopes) SetEnabled(ctx context.Context, id string, enabled bool) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	sc, ok := s.m.scopes[id]
	if !ok {
		return ErrNotFound
	}
	sc.Enabled = enabled
	sc.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memScopes) Delete(ctx context.Context, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.scopes[id]; !ok {
		return ErrNotFound
	}
	s.m.deleteScopeLocked(id)
	return nil
}

func (s *memScopes) Grant(ctx context.Context, accessID, scopeID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.accesses[accessID]; !ok {
		return ErrNotFound
	}
	if _, ok := s.m.scopes[scopeID]; !ok {
		return ErrNotFound
	}
	set, ok := s.m.grants[accessID]
	if !ok {
		set = make(map[string]struct{})
		s.m.grants[accessID] = set
	}
	set[scopeID] = struct{}{}
	return nil
}

func (s *memScopes) Revoke(ctx context.Context, accessID, scopeID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	set, ok := s.m.grants[accessID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := set[scopeID]; !ok {
		return ErrNotFound
	}
	delete(set, scopeID)
	return nil
}

func (s *memScopes) ForAccess(ctx context.Context, accessID string) ([]*ProjectScope, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var out []*ProjectScope
	for scopeID := range s.m.grants[accessID] {
		if sc, ok := s.m.scopes[scopeID]; ok {
			cp := *sc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Service accounts -----------------------------------------------------------

type memAccounts struct{ m *InMemory }

func (s *memAccounts) Create(ctx context.Context, a *ServiceAccount) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, existing := range s.m.accounts {
		if existing.Email == a.Email || existing.Username == a.Username {
			return ErrAlreadyExists
		}
	}
	cp := *a
	s.m.accounts[a.ID] = &cp
	return nil
}

func (s *memAccounts) Find(ctx context.Context, id string) (*ServiceAccount, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	a, ok := s.m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *memAccounts) FindByEmail(ctx context.Context, email string) (*ServiceAccount, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	for _, a := range s.m.accounts {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memAccounts) SetEnabled(ctx context.Context, id string, enabled bool) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	a, ok := s.m.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.Enabled = enabled
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memAccounts) Delete(ctx context.Context, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.accounts[id]; !ok {
		return ErrNotFound
	}
	for keyID, key := range s.m.accountKeys {
		if key.ServiceAccountID == id {
			delete(s.m.accountKeys, keyID)
		}
	}
	// Accesses bound to the account survive with the binding nulled.
	for _, access := range s.m.accesses {
		if access.ServiceAccountID != nil && *access.ServiceAccountID == id {
			access.ServiceAccountID = nil
		}
	}
	delete(s.m.accounts, id)
	return nil
}

func (s *memAccounts) CreateKey(ctx context.Context, k *ServiceAccountKey) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.accounts[k.ServiceAccountID]; !ok {
		return ErrNotFound
	}
	cp := *k
	s.m.accountKeys[k.ID] = &cp
	return nil
}

func (s *memAccounts) Keys(ctx context.Context, accountID string) ([]*ServiceAccountKey, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var out []*ServiceAccountKey
	for _, k := range s.m.accountKeys {
		if k.ServiceAccountID == accountID {
			cp := *k
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memAccounts) DisableKey(ctx context.Context, keyID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	k, ok := s.m.accountKeys[keyID]
	if !ok {
		return ErrNotFound
	}
	k.Enabled = false
	return nil
}

// Accesses -------------------------------------------------------------------

type memAccesses struct{ m *InMemory }

func (s *memAccesses) Create(ctx context.Context, a *ProjectAccess) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.environments[a.EnvironmentID]; !ok {
		return ErrNotFound
	}
	if _, ok := s.m.accesses[a.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *a
	if a.ServiceAccountID != nil {
		bound := *a.ServiceAccountID
		cp.ServiceAccountID = &bound
	}
	s.m.accesses[a.ID] = &cp
	return nil
}

func (s *memAccesses) Find(ctx context.Context, id string) (*ProjectAccess, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	a, ok := s.m.accesses[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAccess(a), nil
}

func (s *memAccesses) ListByEnvironment(ctx context.Context, environmentID string) ([]*ProjectAccess, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var out []*ProjectAccess
	for _, a := range s.m.accesses {
		if a.EnvironmentID == environmentID {
			out = append(out, cloneAccess(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memAccesses) SetEnabled(ctx context.Context, id string, enabled bool) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	a, ok := s.m.accesses[id]
	if !ok {
		return ErrNotFound
	}
	a.Enabled = enabled
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memAccesses) Delete(ctx context.Context, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.accesses[id]; !ok {
		return ErrNotFound
	}
	s.m.deleteAccessLocked(id)
	return nil
}

// Server keys ----------------------------------------------------------------

type memServerKeys struct{ m *InMemory }

func (s *memServerKeys) Current(ctx context.Context, environmentID string, alg Algorithm) (*ServerKey, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	for _, k := range s.m.serverKeys {
		if k.EnvironmentID == environmentID && k.Algorithm == alg && k.Status == KeyStatusCurrent {
			return cloneServerKey(k), nil
		}
	}
	return nil, ErrNotFound
}

func (s *memServerKeys) Verification(ctx context.Context, environmentID string, alg Algorithm, now time.Time) ([]*ServerKey, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var out []*ServerKey
	for _, k := range s.m.serverKeys {
		if k.EnvironmentID != environmentID || k.Algorithm != alg {
			continue
		}
		switch k.Status {
		case KeyStatusCurrent:
			out = append(out, cloneServerKey(k))
		case KeyStatusRetired:
			if k.RetiresAt != nil && k.RetiresAt.After(now) {
				out = append(out, cloneServerKey(k))
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if (out[i].Status == KeyStatusCurrent) != (out[j].Status == KeyStatusCurrent) {
			return out[i].Status == KeyStatusCurrent
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *memServerKeys) Swap(ctx context.Context, next *ServerKey, retireAt time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, k := range s.m.serverKeys {
		if k.EnvironmentID == next.EnvironmentID && k.Algorithm == next.Algorithm && k.Status == KeyStatusCurrent {
			k.Status = KeyStatusRetired
			ra := retireAt
			k.RetiresAt = &ra
		}
	}
	s.m.serverKeys[next.ID] = cloneServerKey(next)
	return nil
}

// Tokens ---------------------------------------------------------------------

type memTokens struct{ m *InMemory }

func (s *memTokens) Create(ctx context.Context, t *AccessToken) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.accesses[t.ProjectAccessID]; !ok {
		return ErrNotFound
	}
	if _, ok := s.m.tokens[t.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *t
	s.m.tokens[t.ID] = &cp
	return nil
}

func (s *memTokens) Find(ctx context.Context, id string) (*AccessToken, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	t, ok := s.m.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memTokens) ListByAccess(ctx context.Context, accessID string) ([]*AccessToken, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var out []*AccessToken
	for _, t := range s.m.tokens {
		if t.ProjectAccessID == accessID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memTokens) Revoke(ctx context.Context, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	t, ok := s.m.tokens[id]
	if !ok {
		return ErrNotFound
	}
	t.Enabled = false
	return nil
}

// Cascade helpers. Callers hold the write lock.

func (m *InMemory) deleteEnvironmentLocked(id string) {
	for accessID, access := range m.accesses {
		if access.EnvironmentID == id {
			m.deleteAccessLocked(accessID)
		}
	}
	for keyID, key := range m.serverKeys {
		if key.EnvironmentID == id {
			delete(m.serverKeys, keyID)
		}
	}
	delete(m.environments, id)
}

func (m *InMemory) deleteAccessLocked(id string) {
	for tokenID, token := range m.tokens {
		if token.ProjectAccessID == id {
			delete(m.tokens, tokenID)
		}
	}
	delete(m.grants, id)
	delete(m.accesses, id)
}

func (m *InMemory) deleteScopeLocked(id string) {
	for _, set := range m.grants {
		delete(set, id)
	}
	delete(m.scopes, id)
}

func cloneAccess(a *ProjectAccess) *ProjectAccess {
	cp := *a
	if a.ServiceAccountID != nil {
		bound := *a.ServiceAccountID
		cp.ServiceAccountID = &bound
	}
	return &cp
}

func cloneServerKey(k *ServerKey) *ServerKey {
	cp := *k
	if k.Secret != nil {
		cp.Secret = append([]byte(nil), k.Secret...)
	}
	if k.RetiresAt != nil {
		ra := *k.RetiresAt
		cp.RetiresAt = &ra
	}
	return &cp
}
