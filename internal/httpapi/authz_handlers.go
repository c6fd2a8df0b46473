package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"arabiq.org/internal/authz"
	"arabiq.org/internal/obs"
	"arabiq.org/internal/session"
)

type signInRequest struct {
	Email      string `json:"email"`
	ExternalID string `json:"external_id"`
}

type signInResponse struct {
	Token     string                `json:"token"`
	ExpiresAt time.Time             `json:"expires_at"`
	Identity  *authz.IdentityRecord `json:"identity"`
}

type transitionRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type elevateRequest struct {
	Role string `json:"role"`
}

type setRolesRequest struct {
	Roles []string `json:"roles"`
}

type accountStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type decisionRequest struct {
	IdentityID string              `json:"identity_id"`
	Gate       *authz.ResourceGate `json:"gate"`
}

type decisionResponse struct {
	Allowed  bool   `json:"allowed"`
	Reason   string `json:"reason,omitempty"`
	Redirect string `json:"redirect,omitempty"`
}

type mfaVerifyRequest struct {
	Code string `json:"code"`
}

type auditPageResponse struct {
	Items     []authz.AuditEvent `json:"items"`
	NextAfter string             `json:"next_after,omitempty"`
}

const sessionTTL = 24 * time.Hour

// handleAuthSession exchanges a verified external sign-in for a session
// token. Identity is created on first sight; the approval record is
// materialized as PENDING at the same time.
func (a *API) handleAuthSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	identity, err := a.identities.EnsureSignedIn(r.Context(), req.Email, req.ExternalID)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	if _, err := a.approvals.Ensure(r.Context(), identity.ID); err != nil {
		handleCoreError(w, r, err)
		return
	}
	token, err := session.GenerateToken(identity.ID, identity.Email, sessionTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}
	writeJSON(w, http.StatusOK, signInResponse{
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(sessionTTL),
		Identity:  identity,
	})
}

// handleIdentityResource dispatches /v1/identities/{id}[/approval|/roles|/account].
func (a *API) handleIdentityResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/identities/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	id := parts[0]
	switch {
	case len(parts) == 1:
		a.getIdentity(w, r, id)
	case len(parts) == 2 && parts[1] == "approval":
		a.handleApproval(w, r, id)
	case len(parts) == 2 && parts[1] == "roles":
		a.handleIdentityRoles(w, r, id)
	case len(parts) == 3 && parts[1] == "roles":
		a.revokeRole(w, r, id, parts[2])
	case len(parts) == 2 && parts[1] == "account":
		a.setAccountStatus(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) getIdentity(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.allowSelfOrAdmin(w, r, id); !ok {
		return
	}
	identity, err := a.identities.Find(r.Context(), id)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

func (a *API) handleApproval(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := a.allowSelfOrAdmin(w, r, id); !ok {
			return
		}
		status, err := a.approvals.StatusOf(r.Context(), id)
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"identity_id": id,
			"status":      status,
		})
	case http.MethodPost:
		if _, ok := a.allowSelfOrAdmin(w, r, id); !ok {
			return
		}
		status, err := a.approvals.Ensure(r.Context(), id)
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"identity_id": id,
			"status":      status,
		})
	case http.MethodPut:
		actor, ok := a.ensureAdminMFA(w, r)
		if !ok {
			return
		}
		var req transitionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		newStatus := authz.ApprovalStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
		if err := a.approvals.Transition(r.Context(), id, newStatus, actor.Identity.ID, req.Reason); err != nil {
			handleCoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"identity_id": id,
			"status":      newStatus,
		})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodPut)
	}
}

func (a *API) handleIdentityRoles(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := a.allowSelfOrAdmin(w, r, id); !ok {
			return
		}
		roles, err := a.registry.RolesOf(r.Context(), id)
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"identity_id": id,
			"roles":       roles,
		})
	case http.MethodPost:
		actor, ok := a.ensureAdminMFA(w, r)
		if !ok {
			return
		}
		var req elevateRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.registry.Elevate(r.Context(), actor.Identity.ID, id, req.Role); err != nil {
			handleCoreError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodPut:
		actor, ok := a.ensureAdminMFA(w, r)
		if !ok {
			return
		}
		var req setRolesRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.registry.SetRoles(r.Context(), actor.Identity.ID, id, req.Roles); err != nil {
			handleCoreError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodPut)
	}
}

func (a *API) revokeRole(w http.ResponseWriter, r *http.Request, id, roleName string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	actor, ok := a.ensureAdminMFA(w, r)
	if !ok {
		return
	}
	if err := a.registry.Revoke(r.Context(), actor.Identity.ID, id, roleName); err != nil {
		handleCoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) setAccountStatus(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	actor, ok := a.ensureAdminMFA(w, r)
	if !ok {
		return
	}
	var req accountStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	status := authz.AccountStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if err := a.identities.SetAccountStatus(r.Context(), actor.Identity.ID, id, status, req.Reason); err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"identity_id":    id,
		"account_status": status,
	})
}

// handleDecisions evaluates a resource gate. With no identity_id the
// caller's own session is evaluated, anonymous included; naming another
// identity requires ADMIN.
func (a *API) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req decisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	subject, _ := session.FromContext(r.Context())
	req.IdentityID = strings.TrimSpace(req.IdentityID)
	if req.IdentityID != "" && (!subject.Authenticated() || subject.Identity.ID != req.IdentityID) {
		if !subject.Authenticated() {
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		if !subject.HasRole(authz.RoleAdmin) {
			writeError(w, r, http.StatusForbidden, "admin role required")
			return
		}
		resolved, err := a.resolveSession(r, req.IdentityID)
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		subject = resolved
	}

	decision := authz.Decide(subject, req.Gate)
	obs.CountDecision(decision.Allowed, string(decision.Reason))
	writeJSON(w, http.StatusOK, decisionResponse{
		Allowed:  decision.Allowed,
		Reason:   string(decision.Reason),
		Redirect: decision.Redirect(),
	})
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requireSession(w, r); !ok {
		return
	}
	roles, err := a.registry.ListRoles(r.Context())
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (a *API) handleMFAEnrollment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	sc, ok := a.ensureAdmin(w, r)
	if !ok {
		return
	}
	enrollment, err := a.mfa.BeginEnrollment(r.Context(), sc.Identity.ID)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, enrollment)
}

func (a *API) handleMFAVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	sc, ok := a.requireSession(w, r)
	if !ok {
		return
	}
	var req mfaVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.mfa.Verify(r.Context(), sc.Identity.ID, req.Code); err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"verified": true})
}

// handleAuditEvents serves paged audit history, filtered by exactly one of
// target_id or actor_id.
func (a *API) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.ensureAdmin(w, r); !ok {
		return
	}
	q := r.URL.Query()
	targetID := strings.TrimSpace(q.Get("target_id"))
	actorID := strings.TrimSpace(q.Get("actor_id"))
	if (targetID == "") == (actorID == "") {
		writeError(w, r, http.StatusBadRequest, "exactly one of target_id or actor_id is required")
		return
	}
	limit, err := parseLimit(q.Get("limit"), 50, 1, 500)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	after := strings.TrimSpace(q.Get("after"))

	var (
		items []authz.AuditEvent
		next  string
	)
	if targetID != "" {
		items, next, err = a.audit.QueryByTarget(r.Context(), targetID, after, limit)
	} else {
		items, next, err = a.audit.QueryByActor(r.Context(), actorID, after, limit)
	}
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, auditPageResponse{Items: items, NextAfter: next})
}

// --- authorization helpers ---

func (a *API) requireSession(w http.ResponseWriter, r *http.Request) (authz.SessionContext, bool) {
	sc, ok := session.FromContext(r.Context())
	if !ok || !sc.Authenticated() {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return authz.SessionContext{}, false
	}
	return sc, true
}

func (a *API) allowSelfOrAdmin(w http.ResponseWriter, r *http.Request, identityID string) (authz.SessionContext, bool) {
	sc, ok := a.requireSession(w, r)
	if !ok {
		return authz.SessionContext{}, false
	}
	if sc.Identity.ID == identityID || sc.HasRole(authz.RoleAdmin) {
		return sc, true
	}
	writeError(w, r, http.StatusForbidden, "forbidden")
	return authz.SessionContext{}, false
}

func (a *API) ensureAdmin(w http.ResponseWriter, r *http.Request) (authz.SessionContext, bool) {
	sc, ok := a.requireSession(w, r)
	if !ok {
		return authz.SessionContext{}, false
	}
	if !sc.HasRole(authz.RoleAdmin) {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return authz.SessionContext{}, false
	}
	return sc, true
}

// ensureAdminMFA gates privileged mutations on a verified second factor in
// addition to the ADMIN role.
func (a *API) ensureAdminMFA(w http.ResponseWriter, r *http.Request) (authz.SessionContext, bool) {
	sc, ok := a.ensureAdmin(w, r)
	if !ok {
		return authz.SessionContext{}, false
	}
	verified, err := a.mfa.IsVerified(r.Context(), sc.Identity.ID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "mfa lookup failed")
		return authz.SessionContext{}, false
	}
	if !verified {
		writeError(w, r, http.StatusForbidden, "mfa verification required")
		return authz.SessionContext{}, false
	}
	return sc, true
}

func handleCoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, authz.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, authz.ErrInvalidCode):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, authz.ErrUnknownRole):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, authz.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, authz.ErrInvalidTransition):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, authz.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, authz.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, authz.ErrRateLimited):
		w.Header().Set("Retry-After", "10")
		writeError(w, r, http.StatusTooManyRequests, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
