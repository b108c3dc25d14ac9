package credential

import (
	"errors"
	"strings"
	"time"
)

const (
	defaultIssuer        = "grantd"
	defaultMaxTTL        = time.Hour
	defaultRSAKeyBits    = 2048
	defaultAccountKeyTTL = 90 * 24 * time.Hour
)

// Service is the credential engine: key lifecycle, enablement chain
// evaluation, scope resolution, token issuance and verification. It holds no
// mutable state beyond configuration and is safe for concurrent use; the only
// serialized operation is the server key swap, which the store executes
// atomically.
type Service struct {
	store   Store
	now     func() time.Time
	issuer  string
	maxTTL  time.Duration
	grace   time.Duration
	rsaBits int
}

// Option configures Service behavior.
type Option func(*Service) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithIssuer overrides the issuer claim embedded in tokens.
func WithIssuer(issuer string) Option {
	return func(s *Service) error {
		issuer = strings.TrimSpace(issuer)
		if issuer != "" {
			s.issuer = issuer
		}
		return nil
	}
}

// WithMaxTTL sets the ceiling applied to requested token lifetimes.
func WithMaxTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl <= 0 {
			return errors.New("credential: max ttl must be positive")
		}
		s.maxTTL = ttl
		return nil
	}
}

// WithRotationGrace sets how long a retired server key stays valid for
// verification. Zero keeps the default, which tracks the max token TTL so no
// token outlives the key that signed it.
func WithRotationGrace(grace time.Duration) Option {
	return func(s *Service) error {
		if grace < 0 {
			return errors.New("credential: rotation grace must not be negative")
		}
		s.grace = grace
		return nil
	}
}

// WithRSAKeyBits sets the modulus size for generated RSA keys.
func WithRSAKeyBits(bits int) Option {
	return func(s *Service) error {
		if bits < 2048 {
			return errors.New("credential: rsa key size below 2048 bits")
		}
		s.rsaBits = bits
		return nil
	}
}

// NewService constructs the engine over the given store.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("credential: store is required")
	}
	svc := &Service{
		store:   store,
		now:     time.Now,
		issuer:  defaultIssuer,
		maxTTL:  defaultMaxTTL,
		rsaBits: defaultRSAKeyBits,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

func (s *Service) graceWindow() time.Duration {
	if s.grace > 0 {
		return s.grace
	}
	return s.maxTTL
}
