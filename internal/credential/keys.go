package credential

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"grantd.org/internal/ids"
)

const hmacSecretBytes = 32

// CurrentServerKey returns the key designated for new issuance in the
// environment, or ErrNoActiveKey when none is provisioned for the algorithm.
func (s *Service) CurrentServerKey(ctx context.Context, environmentID string, alg Algorithm) (*ServerKey, error) {
	key, err := s.store.ServerKeys(ctx).Current(ctx, environmentID, alg)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoActiveKey
	}
	if err != nil {
		return nil, err
	}
	return key, nil
}

// VerificationKeys returns signature candidates: the current key first, then
// retired keys still inside their grace window, newest first. Verification
// tries them in order so tokens signed just before a rotation stay valid.
func (s *Service) VerificationKeys(ctx context.Context, environmentID string, alg Algorithm) ([]*ServerKey, error) {
	return s.store.ServerKeys(ctx).Verification(ctx, environmentID, alg, s.now().UTC())
}

// RotateServerKey generates fresh material, retires the current key with its
// grace window open, and installs the new key as current. The store performs
// the swap atomically: no reader ever observes zero current keys.
func (s *Service) RotateServerKey(ctx context.Context, environmentID string, alg Algorithm) (*ServerKey, error) {
	if _, err := s.store.Environments(ctx).Find(ctx, environmentID); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	key := &ServerKey{
		ID:            uuid.NewString(),
		EnvironmentID: environmentID,
		Algorithm:     alg,
		Status:        KeyStatusCurrent,
		CreatedAt:     now,
	}
	switch alg {
	case AlgorithmHMAC:
		secret := make([]byte, hmacSecretBytes)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate hmac secret: %w", err)
		}
		key.Secret = secret
	case AlgorithmRSA:
		priv, err := rsa.GenerateKey(rand.Reader, s.rsaBits)
		if err != nil {
			return nil, fmt.Errorf("generate rsa key: %w", err)
		}
		key.PrivatePEM = encodeRSAPrivateKey(priv)
		pub, err := encodeRSAPublicKey(&priv.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("encode rsa public key: %w", err)
		}
		key.PublicPEM = pub
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %q", ErrInvalidInput, alg)
	}
	if err := s.store.ServerKeys(ctx).Swap(ctx, key, now.Add(s.graceWindow())); err != nil {
		return nil, err
	}
	return key, nil
}

// AuthenticateServiceAccount matches the presented secret against the
// account's enabled, unexpired keys. HMAC keys compare digests in constant
// time; RSA keys verify the presented value as a signature over the account's
// challenge. Every failure mode collapses to ErrAuthFailed so callers cannot
// distinguish a wrong secret from a disabled or expired key.
func (s *Service) AuthenticateServiceAccount(ctx context.Context, accountID, secret string) (*ServiceAccountKey, error) {
	account, err := s.store.ServiceAccounts(ctx).Find(ctx, accountID)
	if err != nil || !account.Enabled {
		return nil, ErrAuthFailed
	}
	keys, err := s.store.ServiceAccounts(ctx).Keys(ctx, accountID)
	if err != nil {
		return nil, ErrAuthFailed
	}
	now := s.now().UTC()
	for _, key := range keys {
		if !key.Enabled || now.After(key.ExpiresAt) {
			continue
		}
		if matchAccountKey(key, accountID, secret) {
			return key, nil
		}
	}
	return nil, ErrAuthFailed
}

func matchAccountKey(key *ServiceAccountKey, accountID, secret string) bool {
	switch key.Algorithm {
	case AlgorithmHMAC:
		sum := sha256.Sum256([]byte(secret))
		return subtleCompare(key.Material, hex.EncodeToString(sum[:]))
	case AlgorithmRSA:
		pub, err := parseRSAPublicKey(key.Material)
		if err != nil {
			return false
		}
		sig, err := base64.RawURLEncoding.DecodeString(secret)
		if err != nil {
			return false
		}
		digest := challengeDigest(accountID)
		return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig) == nil
	default:
		return false
	}
}

// MintedKey pairs a stored key record with the client-side material that is
// disclosed exactly once: the plaintext secret for HMAC keys, the private key
// PEM for RSA keys.
type MintedKey struct {
	Key    *ServiceAccountKey
	Secret string
}

// MintServiceAccountKey provisions authentication material for an account.
func (s *Service) MintServiceAccountKey(ctx context.Context, accountID string, alg Algorithm, ttl time.Duration) (*MintedKey, error) {
	if ttl <= 0 {
		ttl = defaultAccountKeyTTL
	}
	if _, err := s.store.ServiceAccounts(ctx).Find(ctx, accountID); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	key := &ServiceAccountKey{
		ID:               ids.New(),
		ServiceAccountID: accountID,
		Algorithm:        alg,
		ExpiresAt:        now.Add(ttl),
		Enabled:          true,
		CreatedAt:        now,
	}
	var clientSecret string
	switch alg {
	case AlgorithmHMAC:
		raw := make([]byte, hmacSecretBytes)
		if _, err := rand.Read(raw); err != nil {
			return nil, fmt.Errorf("generate account secret: %w", err)
		}
		clientSecret = base64.RawURLEncoding.EncodeToString(raw)
		sum := sha256.Sum256([]byte(clientSecret))
		key.Material = hex.EncodeToString(sum[:])
	case AlgorithmRSA:
		priv, err := rsa.GenerateKey(rand.Reader, s.rsaBits)
		if err != nil {
			return nil, fmt.Errorf("generate account keypair: %w", err)
		}
		pub, err := encodeRSAPublicKey(&priv.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("encode account public key: %w", err)
		}
		key.Material = pub
		clientSecret = encodeRSAPrivateKey(priv)
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %q", ErrInvalidInput, alg)
	}
	if err := s.store.ServiceAccounts(ctx).CreateKey(ctx, key); err != nil {
		return nil, err
	}
	return &MintedKey{Key: key, Secret: clientSecret}, nil
}

// SignChallenge produces the credential an RSA-keyed client presents when
// requesting a token: a signature over its own account identifier.
func SignChallenge(privatePEM, accountID string) (string, error) {
	priv, err := parseRSAPrivateKey(privatePEM)
	if err != nil {
		return "", err
	}
	digest := challengeDigest(accountID)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(sig), nil
}

func challengeDigest(accountID string) [sha256.Size]byte {
	return sha256.Sum256([]byte("grantd:account:" + accountID))
}

func subtleCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func encodeRSAPrivateKey(key *rsa.PrivateKey) string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
}

func encodeRSAPublicKey(key *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

func parseRSAPrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("invalid PEM private key")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return rsaKey, nil
		}
		return nil, errors.New("unsupported private key type")
	default:
		return nil, fmt.Errorf("unsupported private key type %s", block.Type)
	}
}

func parseRSAPublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("invalid PEM public key")
	}
	switch block.Type {
	case "PUBLIC KEY":
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("not an RSA public key")
		}
		return rsaKey, nil
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported public key type %s", block.Type)
	}
}
