package credential

import (
	"github.com/golang-jwt/jwt/v5"
)

// tokenFormat versions the persisted token encoding. Verification accepts
// only formats it knows, so claim-shape or algorithm changes ship under a new
// tag while outstanding tokens keep verifying for their remaining lifetime.
const tokenFormat = "grantd/1"

type tokenClaims struct {
	Format string   `json:"fmt"`
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

func signingMethod(alg Algorithm) jwt.SigningMethod {
	switch alg {
	case AlgorithmRSA:
		return jwt.SigningMethodRS256
	default:
		return jwt.SigningMethodHS256
	}
}

// signToken encodes the claims payload for a token record and signs it with
// the given server key. The scope list is an issuance-time snapshot kept for
// audit; verification re-resolves scopes and never trusts it.
func (s *Service) signToken(record *AccessToken, scopes []string, key *ServerKey) (string, error) {
	claims := tokenClaims{
		Format: tokenFormat,
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   record.ProjectAccessID,
			ID:        record.ID,
			IssuedAt:  jwt.NewNumericDate(record.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(record.ExpiresAt),
		},
	}
	token := jwt.NewWithClaims(signingMethod(record.Algorithm), claims)
	token.Header["kid"] = key.ID

	switch record.Algorithm {
	case AlgorithmHMAC:
		return token.SignedString(key.Secret)
	case AlgorithmRSA:
		priv, err := parseRSAPrivateKey(key.PrivatePEM)
		if err != nil {
			return "", err
		}
		return token.SignedString(priv)
	default:
		return "", ErrInvalidInput
	}
}

// decodePresented extracts claims without signature verification so the
// verifier can locate the token record first. Anything that does not parse as
// a known-format token with an identifier is malformed.
func decodePresented(raw string) (*tokenClaims, error) {
	token, _, err := jwt.NewParser().ParseUnverified(raw, &tokenClaims{})
	if err != nil {
		return nil, ErrMalformedToken
	}
	claims, ok := token.Claims.(*tokenClaims)
	if !ok || claims.Format != tokenFormat || claims.ID == "" {
		return nil, ErrMalformedToken
	}
	return claims, nil
}

// verifyTokenSignature checks the presented token against one candidate
// server key. Expiry and enablement are validated against the stored record
// by the caller, so claim validation is disabled here; only the signature and
// the algorithm binding are checked.
func verifyTokenSignature(raw string, key *ServerKey) error {
	method := signingMethod(key.Algorithm)
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	_, err := parser.ParseWithClaims(raw, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		switch key.Algorithm {
		case AlgorithmHMAC:
			return key.Secret, nil
		case AlgorithmRSA:
			return parseRSAPublicKey(key.PublicPEM)
		default:
			return nil, ErrInvalidInput
		}
	})
	if err != nil {
		return ErrSignatureInvalid
	}
	return nil
}
