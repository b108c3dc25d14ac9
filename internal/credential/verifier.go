package credential

import (
	"context"
	"errors"
)

// VerifiedIdentity is what a successful verification yields: the access the
// token was minted for and the scopes it authorizes right now. Scopes are
// re-resolved on every verification rather than read from the token, so scope
// and enablement changes propagate to the next call with no invalidation
// machinery.
type VerifiedIdentity struct {
	TokenID         string   `json:"token_id"`
	ProjectAccessID string   `json:"project_access_id"`
	Scopes          []string `json:"scopes"`
}

// Verify validates a presented token end to end: shape, record existence,
// expiry, revocation, the full enablement chain, and finally the signature
// against the environment's verification key candidates (current key first,
// then keys retired within the grace window).
func (s *Service) Verify(ctx context.Context, presented string) (*VerifiedIdentity, error) {
	claims, err := decodePresented(presented)
	if err != nil {
		return nil, err
	}
	record, err := s.store.Tokens(ctx).Find(ctx, claims.ID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	if s.now().UTC().After(record.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	if !record.Enabled {
		return nil, ErrTokenRevoked
	}
	access, err := s.EvaluateChain(ctx, record.ProjectAccessID)
	if err != nil {
		// The chain row vanishing under an unexpired token means a cascade
		// delete raced the verification; report it like a missing token.
		if errors.Is(err, ErrNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	candidates, err := s.VerificationKeys(ctx, access.EnvironmentID, record.Algorithm)
	if err != nil {
		return nil, err
	}
	verified := false
	for _, key := range candidates {
		if verifyTokenSignature(presented, key) == nil {
			verified = true
			break
		}
	}
	if !verified {
		return nil, ErrSignatureInvalid
	}
	scopes, err := s.ResolveScopes(ctx, record.ProjectAccessID)
	if err != nil {
		return nil, err
	}
	return &VerifiedIdentity{
		TokenID:         record.ID,
		ProjectAccessID: record.ProjectAccessID,
		Scopes:          scopes,
	}, nil
}

// RevokeToken disables a token record. Verification reports revoked tokens
// with ErrTokenRevoked from the next call onward.
func (s *Service) RevokeToken(ctx context.Context, tokenID string) error {
	return s.store.Tokens(ctx).Revoke(ctx, tokenID)
}
