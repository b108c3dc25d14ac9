package credential

import (
	"context"
	"time"
)

// Store describes persistence operations required by the credential engine.
// Implementations must be safe for concurrent use; issuance and verification
// read current entity state on every call and never cache across calls.
type Store interface {
	Projects(ctx context.Context) ProjectStore
	Environments(ctx context.Context) EnvironmentStore
	Scopes(ctx context.Context) ScopeStore
	ServiceAccounts(ctx context.Context) ServiceAccountStore
	Accesses(ctx context.Context) AccessStore
	ServerKeys(ctx context.Context) ServerKeyStore
	Tokens(ctx context.Context) TokenStore
}

// ProjectStore manages projects. Delete cascades to environments and scopes
// (and transitively to everything they own).
type ProjectStore interface {
	Create(ctx context.Context, p *Project) error
	Find(ctx context.Context, id string) (*Project, error)
	List(ctx context.Context) ([]*Project, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
	Delete(ctx context.Context, id string) error
}

// EnvironmentStore manages environments. Delete cascades to accesses and
// server keys.
type EnvironmentStore interface {
	Create(ctx context.Context, e *Environment) error
	Find(ctx context.Context, id string) (*Environment, error)
	ListByProject(ctx context.Context, projectID string) ([]*Environment, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
	Delete(ctx context.Context, id string) error
}

// ScopeStore manages project scopes and the access↔scope junction.
// Deleting a scope removes its junction rows; grants against missing rows
// fail with ErrNotFound.
type ScopeStore interface {
	Create(ctx context.Context, s *ProjectScope) error
	Find(ctx context.Context, id string) (*ProjectScope, error)
	ListByProject(ctx context.Context, projectID string) ([]*ProjectScope, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
	Delete(ctx context.Context, id string) error

	Grant(ctx context.Context, accessID, scopeID string) error
	Revoke(ctx context.Context, accessID, scopeID string) error
	ForAccess(ctx context.Context, accessID string) ([]*ProjectScope, error)
}

// ServiceAccountStore manages service accounts and their keys. Deleting an
// account removes its keys and nulls the binding on project accesses.
type ServiceAccountStore interface {
	Create(ctx context.Context, a *ServiceAccount) error
	Find(ctx context.Context, id string) (*ServiceAccount, error)
	FindByEmail(ctx context.Context, email string) (*ServiceAccount, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
	Delete(ctx context.Context, id string) error

	CreateKey(ctx context.Context, k *ServiceAccountKey) error
	Keys(ctx context.Context, accountID string) ([]*ServiceAccountKey, error)
	DisableKey(ctx context.Context, keyID string) error
}

// AccessStore manages project accesses. Delete cascades to tokens and
// junction rows.
type AccessStore interface {
	Create(ctx context.Context, a *ProjectAccess) error
	Find(ctx context.Context, id string) (*ProjectAccess, error)
	ListByEnvironment(ctx context.Context, environmentID string) ([]*ProjectAccess, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
	Delete(ctx context.Context, id string) error
}

// ServerKeyStore manages signing key lifecycle per (environment, algorithm).
type ServerKeyStore interface {
	// Current returns the key designated for new issuance.
	Current(ctx context.Context, environmentID string, alg Algorithm) (*ServerKey, error)
	// Verification returns the current key plus retired keys whose grace
	// window is still open at now, current first, then newest first.
	Verification(ctx context.Context, environmentID string, alg Algorithm, now time.Time) ([]*ServerKey, error)
	// Swap atomically retires the current key (grace open until retireAt) and
	// installs next as current. Readers never observe zero current keys.
	Swap(ctx context.Context, next *ServerKey, retireAt time.Time) error
}

// TokenStore manages issued access token records.
type TokenStore interface {
	Create(ctx context.Context, t *AccessToken) error
	Find(ctx context.Context, id string) (*AccessToken, error)
	ListByAccess(ctx context.Context, accessID string) ([]*AccessToken, error)
	Revoke(ctx context.Context, id string) error
}
