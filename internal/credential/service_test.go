package credential

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc     *Service
	clock   *fakeClock
	project *Project
	env     *Environment
	read    *ProjectScope
	write   *ProjectScope
	account *ServiceAccount
	minted  *MintedKey
	access  *ProjectAccess
}

// newFixture provisions a full chain: project, environment, two granted
// scopes, a service account with an HMAC key, a bound access, and a current
// HMAC server key.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := newFakeClock()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	svc, err := NewService(NewInMemory(), opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	project, err := svc.CreateProject(ctx, "payments", "payment rails")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	env, err := svc.CreateEnvironment(ctx, project.ID, "production", "")
	if err != nil {
		t.Fatalf("CreateEnvironment: %v", err)
	}
	read, err := svc.CreateScope(ctx, project.ID, "ledger.read", "")
	if err != nil {
		t.Fatalf("CreateScope: %v", err)
	}
	write, err := svc.CreateScope(ctx, project.ID, "ledger.write", "")
	if err != nil {
		t.Fatalf("CreateScope: %v", err)
	}
	account, err := svc.CreateServiceAccount(ctx, "bot@example.com", "payments-bot", "portal-password")
	if err != nil {
		t.Fatalf("CreateServiceAccount: %v", err)
	}
	minted, err := svc.MintServiceAccountKey(ctx, account.ID, AlgorithmHMAC, 0)
	if err != nil {
		t.Fatalf("MintServiceAccountKey: %v", err)
	}
	access, err := svc.CreateAccess(ctx, env.ID, "payments-bot-prod", &account.ID)
	if err != nil {
		t.Fatalf("CreateAccess: %v", err)
	}
	for _, scope := range []*ProjectScope{read, write} {
		if err := svc.GrantScope(ctx, access.ID, scope.ID); err != nil {
			t.Fatalf("GrantScope(%s): %v", scope.Name, err)
		}
	}
	if _, err := svc.RotateServerKey(ctx, env.ID, AlgorithmHMAC); err != nil {
		t.Fatalf("RotateServerKey: %v", err)
	}
	return &fixture{
		svc:     svc,
		clock:   clock,
		project: project,
		env:     env,
		read:    read,
		write:   write,
		account: account,
		minted:  minted,
		access:  access,
	}
}

func (f *fixture) issue(t *testing.T, ttl time.Duration) *IssuedToken {
	t.Helper()
	issued, err := f.svc.Issue(context.Background(), f.account.ID, f.minted.Secret, f.access.ID, ttl)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return issued
}

func TestIssueAndVerify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued := f.issue(t, 30*time.Minute)
	if issued.Token == "" {
		t.Fatal("empty signed token")
	}
	if got, want := issued.Record.ProjectAccessID, f.access.ID; got != want {
		t.Fatalf("record access = %s, want %s", got, want)
	}

	id, err := f.svc.Verify(ctx, issued.Token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.TokenID != issued.Record.ID {
		t.Fatalf("token id = %s, want %s", id.TokenID, issued.Record.ID)
	}
	if id.ProjectAccessID != f.access.ID {
		t.Fatalf("access id = %s, want %s", id.ProjectAccessID, f.access.ID)
	}
	want := []string{"ledger.read", "ledger.write"}
	if len(id.Scopes) != len(want) || id.Scopes[0] != want[0] || id.Scopes[1] != want[1] {
		t.Fatalf("scopes = %v, want %v", id.Scopes, want)
	}
}

func TestIssueTTLClamp(t *testing.T) {
	f := newFixture(t, WithMaxTTL(time.Hour))

	issued := f.issue(t, 6*time.Hour)
	wantExp := f.clock.Now().UTC().Add(time.Hour)
	if !issued.Record.ExpiresAt.Equal(wantExp) {
		t.Fatalf("expires at %v, want clamp to %v", issued.Record.ExpiresAt, wantExp)
	}

	if _, err := f.svc.Issue(context.Background(), f.account.ID, f.minted.Secret, f.access.ID, 0); !errors.Is(err, ErrInvalidTTL) {
		t.Fatalf("zero ttl: got %v, want ErrInvalidTTL", err)
	}
}

func TestChainDisablePropagates(t *testing.T) {
	cases := []struct {
		name    string
		disable func(*fixture) (func() error, error)
		reason  DisableReason
	}{
		{
			name: "access",
			disable: func(f *fixture) (func() error, error) {
				ctx := context.Background()
				return func() error { return f.svc.SetAccessEnabled(ctx, f.access.ID, true) },
					f.svc.SetAccessEnabled(ctx, f.access.ID, false)
			},
			reason: ReasonProjectAccessDisabled,
		},
		{
			name: "environment",
			disable: func(f *fixture) (func() error, error) {
				ctx := context.Background()
				return func() error { return f.svc.SetEnvironmentEnabled(ctx, f.env.ID, true) },
					f.svc.SetEnvironmentEnabled(ctx, f.env.ID, false)
			},
			reason: ReasonEnvironmentDisabled,
		},
		{
			name: "project",
			disable: func(f *fixture) (func() error, error) {
				ctx := context.Background()
				return func() error { return f.svc.SetProjectEnabled(ctx, f.project.ID, true) },
					f.svc.SetProjectEnabled(ctx, f.project.ID, false)
			},
			reason: ReasonProjectDisabled,
		},
		{
			name: "service account",
			disable: func(f *fixture) (func() error, error) {
				ctx := context.Background()
				return func() error { return f.svc.SetServiceAccountEnabled(ctx, f.account.ID, true) },
					f.svc.SetServiceAccountEnabled(ctx, f.account.ID, false)
			},
			reason: ReasonServiceAccountDisabled,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			issued := f.issue(t, 30*time.Minute)

			reenable, err := tc.disable(f)
			if err != nil {
				t.Fatalf("disable: %v", err)
			}

			_, err = f.svc.Verify(ctx, issued.Token)
			if !errors.Is(err, ErrChainDisabled) {
				t.Fatalf("verify after disable: got %v, want ErrChainDisabled", err)
			}
			var chainErr *ChainDisabledError
			if !errors.As(err, &chainErr) || chainErr.Reason != tc.reason {
				t.Fatalf("reason = %v, want %s", err, tc.reason)
			}

			if err := reenable(); err != nil {
				t.Fatalf("re-enable: %v", err)
			}
			if _, err := f.svc.Verify(ctx, issued.Token); err != nil {
				t.Fatalf("verify after re-enable: %v", err)
			}
		})
	}
}

func TestScopeChangesPropagateWithoutReissue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issued := f.issue(t, 30*time.Minute)

	if err := f.svc.RevokeScope(ctx, f.access.ID, f.write.ID); err != nil {
		t.Fatalf("RevokeScope: %v", err)
	}
	id, err := f.svc.Verify(ctx, issued.Token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(id.Scopes) != 1 || id.Scopes[0] != "ledger.read" {
		t.Fatalf("scopes after revoke = %v, want [ledger.read]", id.Scopes)
	}

	// Disabling the scope entity removes it from resolution for every access.
	if err := f.svc.SetScopeEnabled(ctx, f.read.ID, false); err != nil {
		t.Fatalf("SetScopeEnabled: %v", err)
	}
	id, err = f.svc.Verify(ctx, issued.Token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(id.Scopes) != 0 {
		t.Fatalf("scopes after disable = %v, want none", id.Scopes)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	f := newFixture(t)
	issued := f.issue(t, 10*time.Minute)

	f.clock.Advance(11 * time.Minute)
	if _, err := f.svc.Verify(context.Background(), issued.Token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("got %v, want ErrTokenExpired", err)
	}
}

func TestVerifyRevokedToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issued := f.issue(t, 30*time.Minute)

	if err := f.svc.RevokeToken(ctx, issued.Record.ID); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if _, err := f.svc.Verify(ctx, issued.Token); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("got %v, want ErrTokenRevoked", err)
	}
}

func TestVerifyMalformedToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, raw := range []string{"", "garbage", "a.b.c", strings.Repeat("x", 512)} {
		if _, err := f.svc.Verify(ctx, raw); !errors.Is(err, ErrMalformedToken) {
			t.Fatalf("Verify(%q): got %v, want ErrMalformedToken", raw, err)
		}
	}
}

func TestVerifyUnknownToken(t *testing.T) {
	// A structurally valid token whose record was never persisted must be
	// rejected before any signature work happens.
	forge := newFixture(t)
	forged := forge.issue(t, 30*time.Minute)

	f := newFixture(t)
	if _, err := f.svc.Verify(context.Background(), forged.Token); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("got %v, want ErrTokenNotFound", err)
	}
}

func TestRotationGraceWindow(t *testing.T) {
	f := newFixture(t, WithRotationGrace(10*time.Minute))
	ctx := context.Background()

	before := f.issue(t, 50*time.Minute)
	rotated, err := f.svc.RotateServerKey(ctx, f.env.ID, AlgorithmHMAC)
	if err != nil {
		t.Fatalf("RotateServerKey: %v", err)
	}

	// Inside the grace window the pre-rotation token still verifies.
	f.clock.Advance(5 * time.Minute)
	if _, err := f.svc.Verify(ctx, before.Token); err != nil {
		t.Fatalf("verify inside grace: %v", err)
	}

	// New issuance binds to the new key.
	after := f.issue(t, 30*time.Minute)
	if after.Record.KeyID != rotated.ID {
		t.Fatalf("new token key = %s, want %s", after.Record.KeyID, rotated.ID)
	}
	if _, err := f.svc.Verify(ctx, after.Token); err != nil {
		t.Fatalf("verify new token: %v", err)
	}

	// Past the grace window the retired key is no longer a candidate.
	f.clock.Advance(6 * time.Minute)
	if _, err := f.svc.Verify(ctx, before.Token); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("verify outside grace: got %v, want ErrSignatureInvalid", err)
	}
	if _, err := f.svc.Verify(ctx, after.Token); err != nil {
		t.Fatalf("verify new token outside grace: %v", err)
	}
}

func TestIssueAuthFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Issue(ctx, f.account.ID, "wrong-secret", f.access.ID, time.Minute); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("wrong secret: got %v, want ErrAuthFailed", err)
	}
	if _, err := f.svc.Issue(ctx, "no-such-account", f.minted.Secret, f.access.ID, time.Minute); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("unknown account: got %v, want ErrAuthFailed", err)
	}

	if err := f.svc.DisableServiceAccountKey(ctx, f.minted.Key.ID); err != nil {
		t.Fatalf("DisableServiceAccountKey: %v", err)
	}
	if _, err := f.svc.Issue(ctx, f.account.ID, f.minted.Secret, f.access.ID, time.Minute); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("disabled key: got %v, want ErrAuthFailed", err)
	}
}

func TestIssueExpiredAccountKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	minted, err := f.svc.MintServiceAccountKey(ctx, f.account.ID, AlgorithmHMAC, time.Hour)
	if err != nil {
		t.Fatalf("MintServiceAccountKey: %v", err)
	}
	if err := f.svc.DisableServiceAccountKey(ctx, f.minted.Key.ID); err != nil {
		t.Fatalf("DisableServiceAccountKey: %v", err)
	}

	if _, err := f.svc.Issue(ctx, f.account.ID, minted.Secret, f.access.ID, time.Minute); err != nil {
		t.Fatalf("issue before key expiry: %v", err)
	}
	f.clock.Advance(2 * time.Hour)
	if _, err := f.svc.Issue(ctx, f.account.ID, minted.Secret, f.access.ID, time.Minute); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expired key: got %v, want ErrAuthFailed", err)
	}
}

func TestIssueAccessMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other, err := f.svc.CreateServiceAccount(ctx, "other@example.com", "other-bot", "pw")
	if err != nil {
		t.Fatalf("CreateServiceAccount: %v", err)
	}
	otherKey, err := f.svc.MintServiceAccountKey(ctx, other.ID, AlgorithmHMAC, 0)
	if err != nil {
		t.Fatalf("MintServiceAccountKey: %v", err)
	}
	if _, err := f.svc.Issue(ctx, other.ID, otherKey.Secret, f.access.ID, time.Minute); !errors.Is(err, ErrAccessMismatch) {
		t.Fatalf("foreign access: got %v, want ErrAccessMismatch", err)
	}
}

func TestSystemAccessIssuance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	system, err := f.svc.CreateAccess(ctx, f.env.ID, "system-probe", nil)
	if err != nil {
		t.Fatalf("CreateAccess: %v", err)
	}
	if err := f.svc.GrantScope(ctx, system.ID, f.read.ID); err != nil {
		t.Fatalf("GrantScope: %v", err)
	}

	// An unbound access never self-authenticates.
	if _, err := f.svc.Issue(ctx, f.account.ID, f.minted.Secret, system.ID, time.Minute); !errors.Is(err, ErrAccessMismatch) {
		t.Fatalf("self-issue on system access: got %v, want ErrAccessMismatch", err)
	}

	issued, err := f.svc.IssueSystem(ctx, system.ID, AlgorithmHMAC, 30*time.Minute)
	if err != nil {
		t.Fatalf("IssueSystem: %v", err)
	}
	id, err := f.svc.Verify(ctx, issued.Token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(id.Scopes) != 1 || id.Scopes[0] != "ledger.read" {
		t.Fatalf("scopes = %v, want [ledger.read]", id.Scopes)
	}
}

func TestIssueNoActiveKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// RSA was never provisioned in this environment.
	rsaKey, err := f.svc.MintServiceAccountKey(ctx, f.account.ID, AlgorithmRSA, 0)
	if err != nil {
		t.Fatalf("MintServiceAccountKey: %v", err)
	}
	sig, err := SignChallenge(rsaKey.Secret, f.account.ID)
	if err != nil {
		t.Fatalf("SignChallenge: %v", err)
	}
	if _, err := f.svc.Issue(ctx, f.account.ID, sig, f.access.ID, time.Minute); !errors.Is(err, ErrNoActiveKey) {
		t.Fatalf("got %v, want ErrNoActiveKey", err)
	}
}

func TestRSAIssueAndVerify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	minted, err := f.svc.MintServiceAccountKey(ctx, f.account.ID, AlgorithmRSA, 0)
	if err != nil {
		t.Fatalf("MintServiceAccountKey: %v", err)
	}
	if _, err := f.svc.RotateServerKey(ctx, f.env.ID, AlgorithmRSA); err != nil {
		t.Fatalf("RotateServerKey: %v", err)
	}
	sig, err := SignChallenge(minted.Secret, f.account.ID)
	if err != nil {
		t.Fatalf("SignChallenge: %v", err)
	}
	issued, err := f.svc.Issue(ctx, f.account.ID, sig, f.access.ID, 30*time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if issued.Record.Algorithm != AlgorithmRSA {
		t.Fatalf("algorithm = %s, want RSA", issued.Record.Algorithm)
	}
	if _, err := f.svc.Verify(ctx, issued.Token); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestConcurrentIssuance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	tokens := make([]*IssuedToken, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens[i], errs[i] = f.svc.Issue(ctx, f.account.ID, f.minted.Secret, f.access.ID, 30*time.Minute)
		}()
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("issue %d: %v", i, errs[i])
		}
		if seen[tokens[i].Record.ID] {
			t.Fatalf("duplicate token id %s", tokens[i].Record.ID)
		}
		seen[tokens[i].Record.ID] = true
		if _, err := f.svc.Verify(ctx, tokens[i].Token); err != nil {
			t.Fatalf("verify %d: %v", i, err)
		}
	}
}
