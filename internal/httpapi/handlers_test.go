package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"grantd.org/internal/credential"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	svc, err := credential.NewService(credential.NewInMemory())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	api := New(ReadyProbe{}, "test", svc)
	api.rateBurst = 1000
	api.ratePerSec = 1000

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any) *http.Response {
	return c.do(http.MethodPost, path, body)
}

func (c *apiClient) get(path string, params url.Values) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) put(path string, body any) *http.Response {
	return c.do(http.MethodPut, path, body)
}

func (c *apiClient) del(path string) *http.Response {
	return c.do(http.MethodDelete, path, nil)
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func (c *apiClient) expectStatus(resp *http.Response, want int) {
	c.t.Helper()
	if resp.StatusCode != want {
		defer resp.Body.Close()
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		c.t.Fatalf("status = %d, want %d (body: %v)", resp.StatusCode, want, body)
	}
}

// chain provisions a full hierarchy over the API and returns the identifiers
// the token tests need.
type chain struct {
	projectID string
	envID     string
	scopeID   string
	accountID string
	accessID  string
	keySecret string
}

func provisionChain(c *apiClient) chain {
	c.t.Helper()

	resp := c.post("/v1/projects", map[string]any{"name": "payments"})
	c.expectStatus(resp, http.StatusCreated)
	project := decode[credential.Project](c.t, resp)

	resp = c.post("/v1/projects/"+project.ID+"/environments", map[string]any{"name": "production"})
	c.expectStatus(resp, http.StatusCreated)
	env := decode[credential.Environment](c.t, resp)

	resp = c.post("/v1/projects/"+project.ID+"/scopes", map[string]any{"name": "ledger.read"})
	c.expectStatus(resp, http.StatusCreated)
	scope := decode[credential.ProjectScope](c.t, resp)

	resp = c.post("/v1/accounts", map[string]any{
		"email":    "bot@example.com",
		"username": "payments-bot",
		"secret":   "portal-password",
	})
	c.expectStatus(resp, http.StatusCreated)
	account := decode[credential.ServiceAccount](c.t, resp)

	resp = c.post("/v1/accounts/"+account.ID+"/keys", map[string]any{"algorithm": "HMAC"})
	c.expectStatus(resp, http.StatusCreated)
	minted := decode[mintKeyResponse](c.t, resp)
	if minted.Secret == "" {
		c.t.Fatal("minted key without client secret")
	}

	resp = c.post("/v1/environments/"+env.ID+"/accesses", map[string]any{
		"name":               "payments-bot-prod",
		"service_account_id": account.ID,
	})
	c.expectStatus(resp, http.StatusCreated)
	access := decode[credential.ProjectAccess](c.t, resp)

	resp = c.post("/v1/accesses/"+access.ID+"/scopes", map[string]any{"scope_id": scope.ID})
	c.expectStatus(resp, http.StatusNoContent)

	resp = c.post("/v1/environments/"+env.ID+"/keys/rotate", map[string]any{"algorithm": "HMAC"})
	c.expectStatus(resp, http.StatusCreated)
	resp.Body.Close()

	return chain{
		projectID: project.ID,
		envID:     env.ID,
		scopeID:   scope.ID,
		accountID: account.ID,
		accessID:  access.ID,
		keySecret: minted.Secret,
	}
}

func TestHealthEndpoints(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/healthz", nil)
	c.expectStatus(resp, http.StatusOK)
	body := decode[map[string]any](t, resp)
	if body["status"] != "ok" {
		t.Fatalf("healthz body: %v", body)
	}

	resp = c.get("/readyz", nil)
	c.expectStatus(resp, http.StatusOK)
	resp.Body.Close()

	resp = c.get("/v1/info", nil)
	c.expectStatus(resp, http.StatusOK)
	resp.Body.Close()
}

func TestTokenLifecycleFlow(t *testing.T) {
	c := newTestAPI(t)
	ch := provisionChain(c)

	resp := c.post("/v1/tokens", map[string]any{
		"service_account_id": ch.accountID,
		"secret":             ch.keySecret,
		"project_access_id":  ch.accessID,
		"ttl_seconds":        600,
	})
	c.expectStatus(resp, http.StatusCreated)
	issued := decode[tokenResponse](t, resp)
	if issued.Token == "" || issued.TokenID == "" {
		t.Fatalf("incomplete issuance response: %+v", issued)
	}
	if len(issued.Scopes) != 1 || issued.Scopes[0] != "ledger.read" {
		t.Fatalf("scopes = %v, want [ledger.read]", issued.Scopes)
	}

	resp = c.post("/v1/tokens/verify", map[string]any{"token": issued.Token})
	c.expectStatus(resp, http.StatusOK)
	identity := decode[credential.VerifiedIdentity](t, resp)
	if identity.TokenID != issued.TokenID || identity.ProjectAccessID != ch.accessID {
		t.Fatalf("unexpected identity: %+v", identity)
	}

	resp = c.del("/v1/tokens/" + issued.TokenID)
	c.expectStatus(resp, http.StatusNoContent)

	resp = c.post("/v1/tokens/verify", map[string]any{"token": issued.Token})
	c.expectStatus(resp, http.StatusUnauthorized)
	body := decode[map[string]any](t, resp)
	if body["error"] != "token revoked" {
		t.Fatalf("revoked verify body: %v", body)
	}
}

func TestIssueRejectsBadCredentials(t *testing.T) {
	c := newTestAPI(t)
	ch := provisionChain(c)

	resp := c.post("/v1/tokens", map[string]any{
		"service_account_id": ch.accountID,
		"secret":             "wrong",
		"project_access_id":  ch.accessID,
		"ttl_seconds":        600,
	})
	c.expectStatus(resp, http.StatusUnauthorized)
	body := decode[map[string]any](t, resp)
	if body["error"] != "unauthorized" {
		t.Fatalf("auth failure must stay generic, got %v", body)
	}
}

func TestIssueMissingFields(t *testing.T) {
	c := newTestAPI(t)

	resp := c.post("/v1/tokens", map[string]any{"service_account_id": "x"})
	c.expectStatus(resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestDisabledChainReportsReason(t *testing.T) {
	c := newTestAPI(t)
	ch := provisionChain(c)

	resp := c.put("/v1/environments/"+ch.envID+"/enabled", map[string]any{"enabled": false})
	c.expectStatus(resp, http.StatusNoContent)

	resp = c.post("/v1/tokens", map[string]any{
		"service_account_id": ch.accountID,
		"secret":             ch.keySecret,
		"project_access_id":  ch.accessID,
		"ttl_seconds":        600,
	})
	c.expectStatus(resp, http.StatusForbidden)
	body := decode[map[string]any](t, resp)
	if body["error"] != "environment_disabled" {
		t.Fatalf("disable reason = %v", body)
	}

	resp = c.put("/v1/environments/"+ch.envID+"/enabled", map[string]any{"enabled": true})
	c.expectStatus(resp, http.StatusNoContent)
}

func TestSystemTokenIssuance(t *testing.T) {
	c := newTestAPI(t)
	ch := provisionChain(c)

	resp := c.post("/v1/environments/"+ch.envID+"/accesses", map[string]any{"name": "system-probe"})
	c.expectStatus(resp, http.StatusCreated)
	system := decode[credential.ProjectAccess](t, resp)

	resp = c.post("/v1/tokens/system", map[string]any{
		"project_access_id": system.ID,
		"algorithm":         "HMAC",
		"ttl_seconds":       300,
	})
	c.expectStatus(resp, http.StatusCreated)
	issued := decode[tokenResponse](t, resp)

	resp = c.post("/v1/tokens/verify", map[string]any{"token": issued.Token})
	c.expectStatus(resp, http.StatusOK)
	resp.Body.Close()
}

func TestVerifyGarbageToken(t *testing.T) {
	c := newTestAPI(t)

	resp := c.post("/v1/tokens/verify", map[string]any{"token": "not-a-token"})
	c.expectStatus(resp, http.StatusUnauthorized)
	body := decode[map[string]any](t, resp)
	if body["error"] != "invalid token" {
		t.Fatalf("verify body: %v", body)
	}
}

func TestScopeGrantRevokeOverAPI(t *testing.T) {
	c := newTestAPI(t)
	ch := provisionChain(c)

	resp := c.post("/v1/projects/"+ch.projectID+"/scopes", map[string]any{"name": "ledger.write"})
	c.expectStatus(resp, http.StatusCreated)
	write := decode[credential.ProjectScope](t, resp)

	resp = c.post("/v1/accesses/"+ch.accessID+"/scopes", map[string]any{"scope_id": write.ID})
	c.expectStatus(resp, http.StatusNoContent)

	resp = c.get("/v1/accesses/"+ch.accessID+"/scopes", nil)
	c.expectStatus(resp, http.StatusOK)
	body := decode[map[string][]string](t, resp)
	if got := body["scopes"]; len(got) != 2 {
		t.Fatalf("scopes = %v, want 2 entries", got)
	}

	resp = c.del("/v1/accesses/" + ch.accessID + "/scopes/" + write.ID)
	c.expectStatus(resp, http.StatusNoContent)

	resp = c.get("/v1/accesses/"+ch.accessID+"/scopes", nil)
	c.expectStatus(resp, http.StatusOK)
	body = decode[map[string][]string](t, resp)
	if got := body["scopes"]; len(got) != 1 || got[0] != "ledger.read" {
		t.Fatalf("scopes after revoke = %v", got)
	}
}

func TestDuplicateAccountConflict(t *testing.T) {
	c := newTestAPI(t)
	provisionChain(c)

	resp := c.post("/v1/accounts", map[string]any{
		"email":    "bot@example.com",
		"username": "another-bot",
		"secret":   "pw",
	})
	c.expectStatus(resp, http.StatusConflict)
	resp.Body.Close()
}

func TestRotateUnknownEnvironment(t *testing.T) {
	c := newTestAPI(t)

	resp := c.post("/v1/environments/missing/keys/rotate", map[string]any{"algorithm": "HMAC"})
	c.expectStatus(resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestIssueWithoutServerKey(t *testing.T) {
	c := newTestAPI(t)

	resp := c.post("/v1/projects", map[string]any{"name": "fresh"})
	c.expectStatus(resp, http.StatusCreated)
	project := decode[credential.Project](t, resp)

	resp = c.post("/v1/projects/"+project.ID+"/environments", map[string]any{"name": "staging"})
	c.expectStatus(resp, http.StatusCreated)
	env := decode[credential.Environment](t, resp)

	resp = c.post("/v1/environments/"+env.ID+"/accesses", map[string]any{"name": "probe"})
	c.expectStatus(resp, http.StatusCreated)
	access := decode[credential.ProjectAccess](t, resp)

	resp = c.post("/v1/tokens/system", map[string]any{
		"project_access_id": access.ID,
		"algorithm":         "HMAC",
		"ttl_seconds":       300,
	})
	c.expectStatus(resp, http.StatusConflict)
	resp.Body.Close()
}

func TestMethodNotAllowed(t *testing.T) {
	c := newTestAPI(t)

	resp := c.del("/v1/tokens")
	c.expectStatus(resp, http.StatusMethodNotAllowed)
	if allow := resp.Header.Get("Allow"); allow != "POST" {
		t.Fatalf("Allow = %q, want POST", allow)
	}
	resp.Body.Close()
}
