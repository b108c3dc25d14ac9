package credential

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// IssuedToken is the result of a successful issuance: the signed credential
// handed to the caller, the persisted record, and the scope snapshot that was
// embedded at signing time.
type IssuedToken struct {
	Token  string
	Record *AccessToken
	Scopes []string
}

// Issue authenticates a service account and mints an access token for the
// named project access. Exactly one token row is persisted, at the very end;
// a failure at any earlier step leaves no partial state.
func (s *Service) Issue(ctx context.Context, accountID, secret, accessID string, ttl time.Duration) (*IssuedToken, error) {
	accountKey, err := s.AuthenticateServiceAccount(ctx, accountID, secret)
	if err != nil {
		return nil, err
	}
	access, err := s.EvaluateChain(ctx, accessID)
	if err != nil {
		return nil, err
	}
	// Self-service issuance requires the access to be bound to the
	// authenticating account. System-level accesses (nil binding) only get
	// tokens through IssueSystem.
	if access.ServiceAccountID == nil || *access.ServiceAccountID != accountID {
		return nil, ErrAccessMismatch
	}
	return s.mint(ctx, access, accountKey.Algorithm, ttl)
}

// IssueSystem mints a token for an access without service-account
// authentication. This is the administrative path used for system-level
// accesses; the surrounding API layer is responsible for gating it.
func (s *Service) IssueSystem(ctx context.Context, accessID string, alg Algorithm, ttl time.Duration) (*IssuedToken, error) {
	access, err := s.EvaluateChain(ctx, accessID)
	if err != nil {
		return nil, err
	}
	return s.mint(ctx, access, alg, ttl)
}

func (s *Service) mint(ctx context.Context, access *ProjectAccess, alg Algorithm, ttl time.Duration) (*IssuedToken, error) {
	scopes, err := s.ResolveScopes(ctx, access.ID)
	if err != nil {
		return nil, err
	}
	serverKey, err := s.CurrentServerKey(ctx, access.EnvironmentID, alg)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	if ttl > s.maxTTL {
		ttl = s.maxTTL
	}
	now := s.now().UTC()
	record := &AccessToken{
		ID:              uuid.NewString(),
		ProjectAccessID: access.ID,
		KeyID:           serverKey.ID,
		Algorithm:       alg,
		CreatedAt:       now,
		ExpiresAt:       now.Add(ttl),
		Enabled:         true,
	}
	signed, err := s.signToken(record, scopes, serverKey)
	if err != nil {
		return nil, err
	}
	record.Token = signed
	if err := s.store.Tokens(ctx).Create(ctx, record); err != nil {
		return nil, err
	}
	return &IssuedToken{Token: signed, Record: record, Scopes: scopes}, nil
}
