package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"arabiq.org/internal/authz"
	"arabiq.org/internal/session"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withSession resolves an optional bearer token into a SessionContext.
// Requests without a token proceed as anonymous; only a malformed or
// expired token is rejected outright. Client metadata is attached either
// way so audit events carry it.
func (a *API) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := authz.ContextWithClientInfo(r.Context(), authz.ClientInfo{
			IP:        clientIP(r),
			UserAgent: r.UserAgent(),
		})
		r = r.WithContext(ctx)

		header := strings.TrimSpace(r.Header.Get(authHeader))
		if header == "" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(header)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := session.ParseAndValidate(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		sc, err := a.resolveSession(r, claims.Subject)
		if err != nil {
			switch {
			case errors.Is(err, authz.ErrNotFound):
				writeError(w, r, http.StatusUnauthorized, "unknown identity")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(session.ContextWith(r.Context(), sc)))
	})
}

// resolveSession loads the identity, its roles and its approval status once
// per request. Handlers and the evaluator work from this snapshot only.
func (a *API) resolveSession(r *http.Request, identityID string) (authz.SessionContext, error) {
	ctx := r.Context()
	identity, err := a.identities.Find(ctx, identityID)
	if err != nil {
		return authz.SessionContext{}, err
	}
	roles, err := a.registry.RolesOf(ctx, identity.ID)
	if err != nil {
		return authz.SessionContext{}, err
	}
	status, err := a.approvals.StatusOf(ctx, identity.ID)
	if err != nil {
		return authz.SessionContext{}, err
	}
	return authz.SessionContext{
		Identity:       identity,
		Roles:          roles,
		ApprovalStatus: status,
	}, nil
}

func extractBearerToken(header string) (string, error) {
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
