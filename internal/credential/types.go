package credential

import (
	"fmt"
	"strings"
	"time"
)

// Algorithm identifies the signing scheme used by keys and tokens. The set is
// closed: key material generation, authentication, and token signing all
// dispatch on it explicitly.
type Algorithm string

const (
	AlgorithmRSA  Algorithm = "RSA"
	AlgorithmHMAC Algorithm = "HMAC"
)

// ParseAlgorithm normalizes a wire value into an Algorithm.
func ParseAlgorithm(raw string) (Algorithm, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(AlgorithmRSA):
		return AlgorithmRSA, nil
	case string(AlgorithmHMAC):
		return AlgorithmHMAC, nil
	default:
		return "", fmt.Errorf("%w: unknown algorithm %q", ErrInvalidInput, raw)
	}
}

func (a Algorithm) String() string { return string(a) }

// Project is the root of the ownership hierarchy.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Environment groups accesses and server keys under a project.
type Environment struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProjectScope is a named permission unit defined within a project.
type ProjectScope struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ServiceAccount is a machine identity. Token issuance authenticates against
// its keys; SecretHash holds the bcrypt hash of the administrative secret set
// at registration.
type ServiceAccount struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Username   string    `json:"username"`
	SecretHash string    `json:"-"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ServiceAccountKey is authentication material owned by a service account.
// Material holds a hex SHA-256 digest for HMAC keys and a public key PEM for
// RSA keys; the client-side secret is returned exactly once at mint time.
type ServiceAccountKey struct {
	ID               string    `json:"id"`
	ServiceAccountID string    `json:"service_account_id"`
	Algorithm        Algorithm `json:"algorithm"`
	Material         string    `json:"-"`
	ExpiresAt        time.Time `json:"expires_at"`
	Enabled          bool      `json:"enabled"`
	CreatedAt        time.Time `json:"created_at"`
}

// ProjectAccess binds an optional service account to an environment and
// carries the granted scope set through the junction relation.
// A nil ServiceAccountID means a system-level access: such accesses never
// self-authenticate and receive tokens only through administrative issuance.
type ProjectAccess struct {
	ID               string    `json:"id"`
	EnvironmentID    string    `json:"environment_id"`
	ServiceAccountID *string   `json:"service_account_id,omitempty"`
	Name             string    `json:"name"`
	Enabled          bool      `json:"enabled"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Server key lifecycle states. Retired keys stay valid for verification until
// their grace window elapses.
const (
	KeyStatusCurrent = "current"
	KeyStatusRetired = "retired"
)

// ServerKey is signing material owned by an environment. Exactly one key per
// (environment, algorithm) pair is current for new issuance at any time.
type ServerKey struct {
	ID            string     `json:"id"`
	EnvironmentID string     `json:"environment_id"`
	Algorithm     Algorithm  `json:"algorithm"`
	Secret        []byte     `json:"-"`
	PrivatePEM    string     `json:"-"`
	PublicPEM     string     `json:"public_pem,omitempty"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	RetiresAt     *time.Time `json:"retires_at,omitempty"`
}

// AccessToken is the persisted record of an issued credential. It is immutable
// after issuance except for Enabled flipping to false on revocation.
type AccessToken struct {
	ID              string    `json:"id"`
	ProjectAccessID string    `json:"project_access_id"`
	KeyID           string    `json:"key_id"`
	Algorithm       Algorithm `json:"algorithm"`
	Token           string    `json:"-"`
	ExpiresAt       time.Time `json:"expires_at"`
	CreatedAt       time.Time `json:"created_at"`
	Enabled         bool      `json:"enabled"`
}
