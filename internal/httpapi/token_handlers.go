package httpapi

import (
	"net/http"
	"strings"
	"time"

	"grantd.org/internal/audit"
	"grantd.org/internal/credential"
	"grantd.org/internal/obs"
)

type issueTokenRequest struct {
	ServiceAccountID string `json:"service_account_id"`
	Secret           string `json:"secret"`
	ProjectAccessID  string `json:"project_access_id"`
	TTLSeconds       int64  `json:"ttl_seconds"`
}

type issueSystemTokenRequest struct {
	ProjectAccessID string `json:"project_access_id"`
	Algorithm       string `json:"algorithm"`
	TTLSeconds      int64  `json:"ttl_seconds"`
}

type verifyTokenRequest struct {
	Token string `json:"token"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	TokenID   string    `json:"token_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Scopes    []string  `json:"scopes"`
}

func (a *API) handleTokensCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.issueToken(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleTokenResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/tokens/")
	switch {
	case path == "verify":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.verifyToken(w, r)
	case path == "system":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.issueSystemToken(w, r)
	case path != "" && !strings.Contains(path, "/"):
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		a.revokeToken(w, r, path)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) issueToken(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.ServiceAccountID == "" || req.Secret == "" || req.ProjectAccessID == "" {
		writeError(w, r, http.StatusBadRequest, "service_account_id, secret and project_access_id are required")
		return
	}

	issued, err := a.svc.Issue(r.Context(), req.ServiceAccountID, req.Secret,
		req.ProjectAccessID, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		handleCredentialError(w, r, err)
		return
	}

	obs.TokenIssued(issued.Record.Algorithm.String())
	_ = audit.LogEvent(r.Context(), "token.issue", map[string]any{
		"token_id":           issued.Record.ID,
		"project_access_id":  issued.Record.ProjectAccessID,
		"service_account_id": req.ServiceAccountID,
		"algorithm":          issued.Record.Algorithm.String(),
		"expires_at":         issued.Record.ExpiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusCreated, tokenResponse{
		Token:     issued.Token,
		TokenID:   issued.Record.ID,
		ExpiresAt: issued.Record.ExpiresAt,
		Scopes:    issued.Scopes,
	})
}

func (a *API) issueSystemToken(w http.ResponseWriter, r *http.Request) {
	var req issueSystemTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.ProjectAccessID == "" {
		writeError(w, r, http.StatusBadRequest, "project_access_id is required")
		return
	}
	alg, err := credential.ParseAlgorithm(req.Algorithm)
	if err != nil {
		handleCredentialError(w, r, err)
		return
	}

	issued, err := a.svc.IssueSystem(r.Context(), req.ProjectAccessID, alg,
		time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		handleCredentialError(w, r, err)
		return
	}

	obs.TokenIssued(alg.String())
	_ = audit.LogEvent(r.Context(), "token.issue_system", map[string]any{
		"token_id":          issued.Record.ID,
		"project_access_id": issued.Record.ProjectAccessID,
		"algorithm":         alg.String(),
		"expires_at":        issued.Record.ExpiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusCreated, tokenResponse{
		Token:     issued.Token,
		TokenID:   issued.Record.ID,
		ExpiresAt: issued.Record.ExpiresAt,
		Scopes:    issued.Scopes,
	})
}

func (a *API) verifyToken(w http.ResponseWriter, r *http.Request) {
	var req verifyTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Token == "" {
		writeError(w, r, http.StatusBadRequest, "token is required")
		return
	}

	identity, err := a.svc.Verify(r.Context(), req.Token)
	if err != nil {
		obs.TokenVerified("rejected")
		handleCredentialError(w, r, err)
		return
	}

	obs.TokenVerified("accepted")
	writeJSON(w, http.StatusOK, identity)
}

func (a *API) revokeToken(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.svc.RevokeToken(r.Context(), id); err != nil {
		handleCredentialError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "token.revoke", map[string]any{
		"token_id": id,
	})
	w.WriteHeader(http.StatusNoContent)
}
