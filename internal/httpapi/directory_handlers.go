package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"grantd.org/internal/audit"
	"grantd.org/internal/credential"
	"grantd.org/internal/obs"
)

type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type createEnvironmentRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type createScopeRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type createAccountRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Secret   string `json:"secret"`
}

type createAccessRequest struct {
	Name             string  `json:"name"`
	ServiceAccountID *string `json:"service_account_id"`
}

type mintKeyRequest struct {
	Algorithm  string `json:"algorithm"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

type mintKeyResponse struct {
	Key    *credential.ServiceAccountKey `json:"key"`
	Secret string                        `json:"secret"`
}

type rotateKeyRequest struct {
	Algorithm string `json:"algorithm"`
}

type grantScopeRequest struct {
	ScopeID string `json:"scope_id"`
}

type enabledRequest struct {
	Enabled *bool `json:"enabled"`
}

// resourcePath splits the part after prefix into at most three segments.
func resourcePath(r *http.Request, prefix string) []string {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if trimmed == "" {
		return nil
	}
	return strings.SplitN(trimmed, "/", 3)
}

func (a *API) decodeEnabled(w http.ResponseWriter, r *http.Request) (bool, bool) {
	var req enabledRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return false, false
	}
	if req.Enabled == nil {
		writeError(w, r, http.StatusBadRequest, "enabled is required")
		return false, false
	}
	return *req.Enabled, true
}

// Projects -------------------------------------------------------------------

func (a *API) handleProjectsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		projects, err := a.svc.ListProjects(r.Context())
		if err != nil {
			handleCredentialError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": projects})
	case http.MethodPost:
		var req createProjectRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		project, err := a.svc.CreateProject(r.Context(), req.Name, req.Description)
		if err != nil {
			handleCredentialError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "project.create", map[string]any{
			"project_id": project.ID,
			"name":       project.Name,
		})
		w.Header().Set("Location", "/v1/projects/"+project.ID)
		writeJSON(w, http.StatusCreated, project)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleProjectResource(w http.ResponseWriter, r *http.Request) {
	seg := resourcePath(r, "/v1/projects/")
	if len(seg) == 0 || seg[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	id := seg[0]

	if len(seg) == 1 {
		switch r.Method {
		case http.MethodDelete:
			if err := a.svc.DeleteProject(r.Context(), id); err != nil {
				handleCredentialError(w, r, err)
				return
			}
			_ = audit.LogEvent(r.Context(), "project.delete", map[string]any{"project_id": id})
			w.WriteHeader(http.StatusNoContent)
		default:
			methodNotAllowed(w, r, http.MethodDelete)
		}
		return
	}

	switch seg[1] {
	case "enabled":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		enabled, ok := a.decodeEnabled(w, r)
		if !ok {
			return
		}
		if err := a.svc.SetProjectEnabled(r.Context(), id, enabled); err != nil {
			handleCredentialError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "project.set_enabled", map[string]any{
			"project_id": id,
			"enabled":    strconv.FormatBool(enabled),
		})
		w.WriteHeader(http.StatusNoContent)
	case "environments":
		a.handleProjectEnvironments(w, r, id)
	case "scopes":
		a.handleProjectScopes(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleProjectEnvironments(w http.ResponseWriter, r *http.Request, projectID string) {
	switch r.Method {
	case http.MethodGet:
		envs, err := a.svc.ListEnvironments(r.Context(), projectID)
		if err != nil {
			handleCredentialError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": envs})
	case http.MethodPost:
		var req createEnvironmentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		env, err := a.svc.CreateEnvironment(r.Context(), projectID, req.Name, req.Description)
		if err != nil {
			handleCredentialError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "environment.create", map[string]any{
			"environment_id": env.ID,
			"project_id":     projectID,
			"name":           env.Name,
		})
		writeJSON(w, http.StatusCreated, env)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleProjectScopes(w http.ResponseWriter, r *http.Request, projectID string) {
	switch r.Method {
	case http.MethodGet:
		scopes, err := a.svc.ListScopes(r.Context(), projectID)
		if err != nil {
			handleCredentialError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": scopes})
	case http.MethodPost:
		var req createScopeRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		scope, err := a.svc.CreateScope(r.Context(), projectID, req.Name, req.Description)
		if err != nil {
			handleCredentialError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "scope.create", map[string]any{
			"scope_id":   scope.ID,
			"project_id": projectID,
			"name":       scope.Name,
		})
		writeJSON(w, http.StatusCreated, scope)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// Environments ---------------------------------------------------------------

func (a *API) handleEnvironmentResource(w http.ResponseWriter, r *http.Request) {
	seg := resourcePath(r, "/v1/environments/")
	if len(seg) == 0 || seg[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	id := seg[0]

	if len(seg) == 1 {
		switch r.Method {
		case http.MethodDelete:
			if err := a.svc.DeleteEnvironment(r.Context(), id); err != nil {
				handleCredentialError(w, r, err)
				return
			}
			_ = audit.LogEvent(r.Context(), "environment.delete", map[string]any{"environment_id": id})
			w.WriteHeader(http.StatusNoContent)
		default:
			methodNotAllowed(w, r, http.MethodDelete)
		}
		return
	}

	switch seg[1] {
	case "enabled":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		enabled, ok := a.decodeEnabled(w, r)
		if !ok {
			return
		}
		if err := a.svc.SetEnvironmentEnabled(r.Context(), id, enabled); err != nil {
			handleCredentialError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "environment.set_enabled", map[string]any{
			"environment_id": id,
			"enabled":        strconv.FormatBool(enabled),
		})
		w.WriteHeader(http.StatusNoContent)
	case "keys":
		if len(seg) == 3 && seg[2] == "rotate" {
			a.rotateServerKey(w, r, id)
			return
		}
		writeError(w, r, http.StatusNotFound, "resource not found")
	case "accesses":
		a.handleEnvironmentAccesses(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) rotateServerKey(w http.ResponseWriter, r *http.Request, environmentID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req rotateKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	alg, err := credential.ParseAlgorithm(req.Algorithm)
	if err != nil {
		handleCredentialError(w, r, err)
		return
	}
	key, err := a.svc.RotateServerKey(r.Context(), environmentID, alg)
	if err != nil {
		handleCredentialError(w, r, err)
		return
	}
	obs.KeyRotated(alg.String())
	_ = audit.LogEvent(r.Context(), "server_key.rotate", map[string]any{
		"key_id":         key.ID,
		"environment_id": environmentID,
		"algorithm":      alg.String(),
	})
	// Private material never leaves the engine; the JSON shape of ServerKey
	// exposes only the public half.
	writeJSON(w, http.StatusCreated, key)
}

func (a *API) handleEnvironmentAccesses(w http.ResponseWriter, r *http.Request, environmentID string) {
	switch r.Method {
	case http.MethodGet:
		accesses, err := a.svc.ListAccesses(r.Context(), environmentID)
		if err != nil {
			handleCredentialError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": accesses})
	case http.MethodPost:
		var req createAccessRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		access, err := a.svc.CreateAccess(r.Context(), environmentID, req.Name, req.ServiceAccountID)
		if err != nil {
			handleCredentialError(w, r, err)
			return
		}
		fields := map[string]any{
			"access_id":      access.ID,
			"environment_id": environmentID,
			"name":           access.Name,
		}
		if access.ServiceAccountID != nil {
			fields["service_account_id"] = *access.ServiceAccountID
		}
		_ = audit.LogEvent(r.Context(), "access.create", fields)
		writeJSON(w, http.StatusCreated, access)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// Scopes ---------------------------------------------------------------------

func (a *API) handleScopeResource(w http.ResponseWriter, r *http.Request) {
	seg := resourcePath(r, "/v1/scopes/")
	if len(seg) == 0 || seg[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	id := seg[0]

	if len(seg) == 1 {
		switch r.Method {
		case http.MethodDelete:
			if err := a.svc.DeleteScope(r.Context(), id); err != nil {
				handleCredentialError(w, r, err)
				return
			}
			_ = audit.LogEvent(r.Context(), "scope.delete", map[string]any{"scope_id": id})
			w.WriteHeader(http.StatusNoContent)
		default:
			methodNotAllowed(w, r, http.MethodDelete)
		}
		return
	}

	if seg[1] == "enabled" {
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		enabled, ok := a.decodeEnabled(w, r)
		if !ok {
			return
		}
		if err := a.svc.SetScopeEnabled(r.Context(), id, enabled); err != nil {
			handleCredentialError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "scope.set_enabled", map[string]any{
			"scope_id": id,
			"enabled":  strconv.FormatBool(enabled),
		})
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeError(w, r, http.StatusNotFound, "resource not found")
}

// Service accounts -----------------------------------------------------------

func (a *API) handleAccountsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		email := strings.TrimSpace(r.URL.Query().Get("email"))
		if email == "" {
			writeError(w, r, http.StatusBadRequest, "email query parameter is required")
			return
		}
		account, err := a.svc.FindServiceAccountByEmail(r.Context(), email)
		if err != nil {
			handleCredentialError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, account)
	case http.MethodPost:
		var req createAccountRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		account, err := a.svc.CreateServiceAccount(r.Context(), req.Email, req.Username, req.Secret)
		if err != nil {
			handleCredentialError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "service_account.create", map[string]any{
			"service_account_id": account.ID,
			"email":              account.Email,
		})
		w.Header().Set("Location", "/v1/accounts/"+account.ID)
		writeJSON(w, http.StatusCreated, account)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleAccountResource(w http.ResponseWriter, r *http.Request) {
	seg := resourcePath(r, "/v1/accounts/")
	if len(seg) == 0 || seg[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	id := seg[0]

	if len(seg) == 1 {
		switch r.Method {
		case http.MethodDelete:
			if err := a.svc.DeleteServiceAccount(r.Context(), id); err != nil {
				handleCredentialError(w, r, err)
				return
			}
			_ = audit.LogEvent(r.Context(), "service_account.delete", map[string]any{"service_account_id": id})
			w.WriteHeader(http.StatusNoContent)
		default:
			methodNotAllowed(w, r, http.MethodDelete)
		}
		return
	}

	switch seg[1] {
	case "enabled":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		enabled, ok := a.decodeEnabled(w, r)
		if !ok {
			return
		}
		if err := a.svc.SetServiceAccountEnabled(r.Context(), id, enabled); err != nil {
			handleCredentialError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "service_account.set_enabled", map[string]any{
			"service_account_id": id,
			"enabled":            strconv.FormatBool(enabled),
		})
		w.WriteHeader(http.StatusNoContent)
	case "keys":
		if len(seg) == 3 {
			if r.Method != http.MethodDelete {
				methodNotAllowed(w, r, http.MethodDelete)
				return
			}
			if err := a.svc.DisableServiceAccountKey(r.Context(), seg[2]); err != nil {
				handleCredentialError(w, r, err)
				return
			}
			_ = audit.LogEvent(r.Context(), "service_account_key.disable", map[string]any{
				"service_account_id": id,
				"key_id":             seg[2],
			})
			w.WriteHeader(http.StatusNoContent)
			return
		}
		a.handleAccountKeys(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleAccountKeys(w http.ResponseWriter, r *http.Request, accountID string) {
	switch r.Method {
	case http.MethodGet:
		keys, err := a.svc.ListServiceAccountKeys(r.Context(), accountID)
		if err != nil {
			handleCredentialError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": keys})
	case http.MethodPost:
		var req mintKeyRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		alg, err := credential.ParseAlgorithm(req.Algorithm)
		if err != nil {
			handleCredentialError(w, r, err)
			return
		}
		minted, err := a.svc.MintServiceAccountKey(r.Context(), accountID, alg,
			time.Duration(req.TTLSeconds)*time.Second)
		if err != nil {
			handleCredentialError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "service_account_key.mint", map[string]any{
			"service_account_id": accountID,
			"key_id":             minted.Key.ID,
			"algorithm":          alg.String(),
		})
		// The only response that ever carries the client secret.
		writeJSON(w, http.StatusCreated, mintKeyResponse{Key: minted.Key, Secret: minted.Secret})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// Accesses -------------------------------------------------------------------

func (a *API) handleAccessResource(w http.ResponseWriter, r *http.Request) {
	seg := resourcePath(r, "/v1/accesses/")
	if len(seg) == 0 || seg[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	id := seg[0]

	if len(seg) == 1 {
		switch r.Method {
		case http.MethodDelete:
			if err := a.svc.DeleteAccess(r.Context(), id); err != nil {
				handleCredentialError(w, r, err)
				return
			}
			_ = audit.LogEvent(r.Context(), "access.delete", map[string]any{"access_id": id})
			w.WriteHeader(http.StatusNoContent)
		default:
			methodNotAllowed(w, r, http.MethodDelete)
		}
		return
	}

	switch seg[1] {
	case "enabled":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		enabled, ok := a.decodeEnabled(w, r)
		if !ok {
			return
		}
		if err := a.svc.SetAccessEnabled(r.Context(), id, enabled); err != nil {
			handleCredentialError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "access.set_enabled", map[string]any{
			"access_id": id,
			"enabled":   strconv.FormatBool(enabled),
		})
		w.WriteHeader(http.StatusNoContent)
	case "scopes":
		a.handleAccessScopes(w, r, id, seg)
	case "tokens":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		tokens, err := a.svc.ListTokens(r.Context(), id)
		if err != nil {
			handleCredentialError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": tokens})
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleAccessScopes(w http.ResponseWriter, r *http.Request, accessID string, seg []string) {
	if len(seg) == 3 {
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		if err := a.svc.RevokeScope(r.Context(), accessID, seg[2]); err != nil {
			handleCredentialError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "access.revoke_scope", map[string]any{
			"access_id": accessID,
			"scope_id":  seg[2],
		})
		w.WriteHeader(http.StatusNoContent)
		return
	}

	switch r.Method {
	case http.MethodGet:
		scopes, err := a.svc.ResolveScopes(r.Context(), accessID)
		if err != nil {
			handleCredentialError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"scopes": scopes})
	case http.MethodPost:
		var req grantScopeRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if req.ScopeID == "" {
			writeError(w, r, http.StatusBadRequest, "scope_id is required")
			return
		}
		if err := a.svc.GrantScope(r.Context(), accessID, req.ScopeID); err != nil {
			handleCredentialError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "access.grant_scope", map[string]any{
			"access_id": accessID,
			"scope_id":  req.ScopeID,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}
