package credential

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"grantd.org/internal/ids"
)

// Directory administration: creation, listing, enablement, and deletion of
// the entities the engine evaluates. Deletion cascades are enforced by the
// store implementations so removing an ancestor removes everything it owns.

// CreateProject registers a new project, enabled by default.
func (s *Service) CreateProject(ctx context.Context, name, description string) (*Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: project name is required", ErrInvalidInput)
	}
	now := s.now().UTC()
	p := &Project{
		ID:          ids.New(),
		Name:        name,
		Description: strings.TrimSpace(description),
		Enabled:     true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Projects(ctx).Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// CreateEnvironment registers an environment under an existing project.
func (s *Service) CreateEnvironment(ctx context.Context, projectID, name, description string) (*Environment, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: environment name is required", ErrInvalidInput)
	}
	if _, err := s.store.Projects(ctx).Find(ctx, projectID); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	e := &Environment{
		ID:          ids.New(),
		ProjectID:   projectID,
		Name:        name,
		Description: strings.TrimSpace(description),
		Enabled:     true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Environments(ctx).Create(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// CreateScope defines a permission unit within a project.
func (s *Service) CreateScope(ctx context.Context, projectID, name, description string) (*ProjectScope, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: scope name is required", ErrInvalidInput)
	}
	if _, err := s.store.Projects(ctx).Find(ctx, projectID); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	sc := &ProjectScope{
		ID:          ids.New(),
		ProjectID:   projectID,
		Name:        name,
		Description: strings.TrimSpace(description),
		Enabled:     true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Scopes(ctx).Create(ctx, sc); err != nil {
		return nil, err
	}
	return sc, nil
}

// CreateServiceAccount registers a machine identity. The administrative
// secret is stored as a bcrypt hash and never returned.
func (s *Service) CreateServiceAccount(ctx context.Context, email, username, secret string) (*ServiceAccount, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	username = strings.TrimSpace(username)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if secret == "" {
		return nil, fmt.Errorf("%w: secret is required", ErrInvalidInput)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	a := &ServiceAccount{
		ID:         ids.New(),
		Email:      email,
		Username:   username,
		SecretHash: string(hash),
		Enabled:    true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.ServiceAccounts(ctx).Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// VerifyServiceAccountSecret checks the administrative secret for an account.
// Failures collapse to ErrAuthFailed.
func (s *Service) VerifyServiceAccountSecret(ctx context.Context, accountID, secret string) error {
	account, err := s.store.ServiceAccounts(ctx).Find(ctx, accountID)
	if err != nil || !account.Enabled {
		return ErrAuthFailed
	}
	if bcrypt.CompareHashAndPassword([]byte(account.SecretHash), []byte(secret)) != nil {
		return ErrAuthFailed
	}
	return nil
}

// CreateAccess binds an optional service account to an environment.
func (s *Service) CreateAccess(ctx context.Context, environmentID, name string, serviceAccountID *string) (*ProjectAccess, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: access name is required", ErrInvalidInput)
	}
	if _, err := s.store.Environments(ctx).Find(ctx, environmentID); err != nil {
		return nil, err
	}
	if serviceAccountID != nil {
		if _, err := s.store.ServiceAccounts(ctx).Find(ctx, *serviceAccountID); err != nil {
			return nil, err
		}
	}
	now := s.now().UTC()
	a := &ProjectAccess{
		ID:               ids.New(),
		EnvironmentID:    environmentID,
		ServiceAccountID: serviceAccountID,
		Name:             name,
		Enabled:          true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.Accesses(ctx).Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// GrantScope attaches a scope to an access. Both rows must exist.
func (s *Service) GrantScope(ctx context.Context, accessID, scopeID string) error {
	return s.store.Scopes(ctx).Grant(ctx, accessID, scopeID)
}

// RevokeScope detaches a scope from an access. The change takes effect on the
// next verification; outstanding tokens need no re-issuance.
func (s *Service) RevokeScope(ctx context.Context, accessID, scopeID string) error {
	return s.store.Scopes(ctx).Revoke(ctx, accessID, scopeID)
}

func (s *Service) SetProjectEnabled(ctx context.Context, id string, enabled bool) error {
	return s.store.Projects(ctx).SetEnabled(ctx, id, enabled)
}

func (s *Service) SetEnvironmentEnabled(ctx context.Context, id string, enabled bool) error {
	return s.store.Environments(ctx).SetEnabled(ctx, id, enabled)
}

func (s *Service) SetScopeEnabled(ctx context.Context, id string, enabled bool) error {
	return s.store.Scopes(ctx).SetEnabled(ctx, id, enabled)
}

func (s *Service) SetServiceAccountEnabled(ctx context.Context, id string, enabled bool) error {
	return s.store.ServiceAccounts(ctx).SetEnabled(ctx, id, enabled)
}

func (s *Service) SetAccessEnabled(ctx context.Context, id string, enabled bool) error {
	return s.store.Accesses(ctx).SetEnabled(ctx, id, enabled)
}

func (s *Service) DeleteProject(ctx context.Context, id string) error {
	return s.store.Projects(ctx).Delete(ctx, id)
}

func (s *Service) DeleteEnvironment(ctx context.Context, id string) error {
	return s.store.Environments(ctx).Delete(ctx, id)
}

func (s *Service) DeleteScope(ctx context.Context, id string) error {
	return s.store.Scopes(ctx).Delete(ctx, id)
}

func (s *Service) DeleteServiceAccount(ctx context.Context, id string) error {
	return s.store.ServiceAccounts(ctx).Delete(ctx, id)
}

func (s *Service) DeleteAccess(ctx context.Context, id string) error {
	return s.store.Accesses(ctx).Delete(ctx, id)
}

func (s *Service) ListProjects(ctx context.Context) ([]*Project, error) {
	return s.store.Projects(ctx).List(ctx)
}

func (s *Service) ListEnvironments(ctx context.Context, projectID string) ([]*Environment, error) {
	return s.store.Environments(ctx).ListByProject(ctx, projectID)
}

func (s *Service) ListScopes(ctx context.Context, projectID string) ([]*ProjectScope, error) {
	return s.store.Scopes(ctx).ListByProject(ctx, projectID)
}

func (s *Service) ListAccesses(ctx context.Context, environmentID string) ([]*ProjectAccess, error) {
	return s.store.Accesses(ctx).ListByEnvironment(ctx, environmentID)
}

func (s *Service) ListTokens(ctx context.Context, accessID string) ([]*AccessToken, error) {
	return s.store.Tokens(ctx).ListByAccess(ctx, accessID)
}

func (s *Service) ListServiceAccountKeys(ctx context.Context, accountID string) ([]*ServiceAccountKey, error) {
	return s.store.ServiceAccounts(ctx).Keys(ctx, accountID)
}

func (s *Service) DisableServiceAccountKey(ctx context.Context, keyID string) error {
	return s.store.ServiceAccounts(ctx).DisableKey(ctx, keyID)
}

func (s *Service) FindServiceAccountByEmail(ctx context.Context, email string) (*ServiceAccount, error) {
	return s.store.ServiceAccounts(ctx).FindByEmail(ctx, strings.TrimSpace(strings.ToLower(email)))
}
