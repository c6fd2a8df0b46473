package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"arabiq.org/internal/authz"
	"arabiq.org/internal/session"
)

type testEnv struct {
	t       *testing.T
	baseURL string
	client  *http.Client
	store   *authz.InMemory
	core    Services
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	t.Setenv("ARABIQ_SESSION_SECRET", "test-secret")
	session.ResetSecretForTests()
	t.Cleanup(session.ResetSecretForTests)

	store := authz.NewInMemory()
	audit, err := authz.NewAuditLog(store)
	if err != nil {
		t.Fatalf("NewAuditLog: %v", err)
	}
	identities, err := authz.NewIdentityService(store, audit)
	if err != nil {
		t.Fatalf("NewIdentityService: %v", err)
	}
	approvals, err := authz.NewApprovalWorkflow(store, audit)
	if err != nil {
		t.Fatalf("NewApprovalWorkflow: %v", err)
	}
	registry, err := authz.NewRoleRegistry(store, audit)
	if err != nil {
		t.Fatalf("NewRoleRegistry: %v", err)
	}
	mfa, err := authz.NewMFAGate(store, audit)
	if err != nil {
		t.Fatalf("NewMFAGate: %v", err)
	}
	if err := registry.BootstrapWellKnownRoles(context.Background()); err != nil {
		t.Fatalf("BootstrapWellKnownRoles: %v", err)
	}

	core := Services{
		Identities: identities,
		Approvals:  approvals,
		Registry:   registry,
		MFA:        mfa,
		Audit:      audit,
	}
	if len(opts) == 0 {
		opts = []Option{WithRateLimit(1000, 1000)}
	}
	api, err := New(ReadyProbe{}, core, "test", opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{
		t:       t,
		baseURL: srv.URL,
		client:  srv.Client(),
		store:   store,
		core:    core,
	}
}

func (e *testEnv) do(method, path, token string, body any) *http.Response {
	e.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		e.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		e.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		t.Fatalf("decode body %q: %v", raw, err)
	}
}

// signIn creates the identity through the HTTP surface and returns it with a
// bearer token.
func (e *testEnv) signIn(email string) (*authz.IdentityRecord, string) {
	e.t.Helper()
	resp := e.do(http.MethodPost, "/v1/auth/session", "", map[string]string{
		"email":       email,
		"external_id": "ext-" + email,
	})
	if resp.StatusCode != http.StatusOK {
		e.t.Fatalf("sign in status = %d", resp.StatusCode)
	}
	var out struct {
		Token    string                `json:"token"`
		Identity *authz.IdentityRecord `json:"identity"`
	}
	decodeBody(e.t, resp, &out)
	return out.Identity, out.Token
}

// admin provisions an ADMIN identity without an MFA cycle, writing the role
// assignment directly through the store.
func (e *testEnv) admin(email string) (*authz.IdentityRecord, string) {
	e.t.Helper()
	admin, token := e.signIn(email)
	ctx := context.Background()
	role, err := e.store.Roles().FindByName(ctx, authz.RoleAdmin)
	if err != nil {
		e.t.Fatalf("FindByName: %v", err)
	}
	if err := e.store.Roles().Assign(ctx, admin.ID, role.ID); err != nil {
		e.t.Fatalf("Assign: %v", err)
	}
	return admin, token
}

// verifiedAdmin provisions an ADMIN with a completed MFA cycle.
func (e *testEnv) verifiedAdmin(email string) (*authz.IdentityRecord, string) {
	e.t.Helper()
	admin, token := e.admin(email)
	ctx := context.Background()
	if err := e.store.MFA().Upsert(ctx, &authz.MFAEnrollment{
		IdentityID: admin.ID,
		Secret:     "FIXTURESECRET",
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		e.t.Fatalf("Upsert: %v", err)
	}
	if err := e.store.MFA().MarkVerified(ctx, admin.ID); err != nil {
		e.t.Fatalf("MarkVerified: %v", err)
	}
	return admin, token
}

func TestHealthAndInfo(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
	var health map[string]any
	decodeBody(t, resp, &health)
	if health["service"] != "arabiq-authz" {
		t.Fatalf("service = %v", health["service"])
	}

	resp = env.do(http.MethodGet, "/readyz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSignInCreatesPendingApproval(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.signIn("user@example.com")

	resp := env.do(http.MethodGet, "/v1/identities/"+user.ID+"/approval", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approval status = %d", resp.StatusCode)
	}
	var out struct {
		Status string `json:"status"`
	}
	decodeBody(t, resp, &out)
	if out.Status != string(authz.ApprovalPending) {
		t.Fatalf("approval = %s, want PENDING", out.Status)
	}

	// Repeat sign-in resolves to the same identity.
	again, _ := env.signIn("user@example.com")
	if again.ID != user.ID {
		t.Fatalf("second sign-in created new identity %s", again.ID)
	}
}

func TestApprovalTransitionOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	user, userToken := env.signIn("user@example.com")
	_, adminToken := env.verifiedAdmin("admin@example.com")

	// Non-admin actors cannot transition.
	resp := env.do(http.MethodPut, "/v1/identities/"+user.ID+"/approval", userToken,
		map[string]string{"status": "APPROVED"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin transition status = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.do(http.MethodPut, "/v1/identities/"+user.ID+"/approval", adminToken,
		map[string]string{"status": "approved", "reason": "vetted"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin transition status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Returning to PENDING conflicts for any actor.
	resp = env.do(http.MethodPut, "/v1/identities/"+user.ID+"/approval", adminToken,
		map[string]string{"status": "PENDING"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("pending transition status = %d, want 409", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAdminMutationsRequireVerifiedMFA(t *testing.T) {
	env := newTestEnv(t)
	user, _ := env.signIn("user@example.com")
	admin, adminToken := env.signIn("admin@example.com")

	ctx := context.Background()
	role, err := env.store.Roles().FindByName(ctx, authz.RoleAdmin)
	if err != nil {
		t.Fatalf("FindByName: %v", err)
	}
	if err := env.store.Roles().Assign(ctx, admin.ID, role.ID); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	// Admin role alone is not enough without a verified second factor.
	resp := env.do(http.MethodPut, "/v1/identities/"+user.ID+"/approval", adminToken,
		map[string]string{"status": "APPROVED"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	var out map[string]any
	decodeBody(t, resp, &out)
	if out["error"] != "mfa verification required" {
		t.Fatalf("error = %v", out["error"])
	}
}

func TestRoleEndpoints(t *testing.T) {
	env := newTestEnv(t)
	user, userToken := env.signIn("user@example.com")
	_, adminToken := env.verifiedAdmin("admin@example.com")

	resp := env.do(http.MethodPost, "/v1/identities/"+user.ID+"/roles", adminToken,
		map[string]string{"role": "CLIENT"})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("elevate status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.do(http.MethodGet, "/v1/identities/"+user.ID+"/roles", userToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list roles status = %d", resp.StatusCode)
	}
	var listed struct {
		Roles []string `json:"roles"`
	}
	decodeBody(t, resp, &listed)
	if len(listed.Roles) != 1 || listed.Roles[0] != authz.RoleClient {
		t.Fatalf("roles = %v", listed.Roles)
	}

	// Unknown role name is a 404.
	resp = env.do(http.MethodPost, "/v1/identities/"+user.ID+"/roles", adminToken,
		map[string]string{"role": "WIZARD"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown role status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Replace then revoke.
	resp = env.do(http.MethodPut, "/v1/identities/"+user.ID+"/roles", adminToken,
		map[string][]string{"roles": {"PREMIUM"}})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("set roles status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.do(http.MethodDelete, "/v1/identities/"+user.ID+"/roles/PREMIUM", adminToken, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Users cannot mutate their own roles.
	resp = env.do(http.MethodPost, "/v1/identities/"+user.ID+"/roles", userToken,
		map[string]string{"role": "PREMIUM"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("self-elevation status = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestDecisionsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	user, userToken := env.signIn("user@example.com")

	// Anonymous evaluation of a public gate.
	resp := env.do(http.MethodPost, "/v1/access/decisions", "", map[string]any{
		"gate": map[string]any{"access_level": "public"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var decision decisionResponse
	decodeBody(t, resp, &decision)
	if !decision.Allowed {
		t.Fatalf("public gate denied: %+v", decision)
	}

	// The caller's own pending approval denies an approval-gated resource.
	resp = env.do(http.MethodPost, "/v1/access/decisions", userToken, map[string]any{
		"gate": map[string]any{"requires_approval": true},
	})
	decodeBody(t, resp, &decision)
	if decision.Allowed || decision.Reason != string(authz.DenyApprovalPending) {
		t.Fatalf("decision = %+v", decision)
	}
	if decision.Redirect != "/access-pending" {
		t.Fatalf("redirect = %s", decision.Redirect)
	}

	// Evaluating someone else requires ADMIN.
	resp = env.do(http.MethodPost, "/v1/access/decisions", userToken, map[string]any{
		"identity_id": "someone-else",
		"gate":        map[string]any{"access_level": "public"},
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign evaluation status = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	_, adminToken := env.verifiedAdmin("admin@example.com")
	resp = env.do(http.MethodPost, "/v1/access/decisions", adminToken, map[string]any{
		"identity_id": user.ID,
		"gate":        map[string]any{"allowed_roles": []string{"CLIENT"}},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin evaluation status = %d", resp.StatusCode)
	}
	decodeBody(t, resp, &decision)
	if decision.Allowed || decision.Reason != string(authz.DenyInsufficientRole) {
		t.Fatalf("decision = %+v", decision)
	}
}

func TestMFAEndpoints(t *testing.T) {
	env := newTestEnv(t)
	_, adminToken := env.admin("admin@example.com")

	// An admin without a verified enrollment can still start one.
	resp := env.do(http.MethodPost, "/v1/mfa/enrollment", adminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("enrollment status = %d", resp.StatusCode)
	}
	var enrollment struct {
		Secret     string `json:"secret"`
		OTPAuthURL string `json:"otpauth_url"`
	}
	decodeBody(t, resp, &enrollment)
	if enrollment.Secret == "" || enrollment.OTPAuthURL == "" {
		t.Fatalf("incomplete enrollment: %+v", enrollment)
	}

	resp = env.do(http.MethodPost, "/v1/mfa/verify", adminToken, map[string]string{"code": "000000"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("wrong code status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	// Anonymous callers cannot enroll.
	resp = env.do(http.MethodPost, "/v1/mfa/enrollment", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous enrollment status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestMFAEnrollmentRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.signIn("user@example.com")

	resp := env.do(http.MethodPost, "/v1/mfa/enrollment", token, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin enrollment status = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAuditEventsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	user, userToken := env.signIn("user@example.com")
	admin, adminToken := env.verifiedAdmin("admin@example.com")

	resp := env.do(http.MethodPut, "/v1/identities/"+user.ID+"/approval", adminToken,
		map[string]string{"status": "APPROVED", "reason": "vetted"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("transition status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.do(http.MethodGet, "/v1/audit/events?target_id="+user.ID, adminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("audit status = %d", resp.StatusCode)
	}
	var page auditPageResponse
	decodeBody(t, resp, &page)
	if len(page.Items) != 1 {
		t.Fatalf("items = %d", len(page.Items))
	}
	ev := page.Items[0]
	if ev.Action != authz.ActionApprovalStatusChange || ev.ActorID != admin.ID {
		t.Fatalf("event = %+v", ev)
	}
	if ev.IP == "" || ev.UserAgent == "" {
		t.Fatalf("event missing client metadata: %+v", ev)
	}

	// Non-admins cannot read the log.
	resp = env.do(http.MethodGet, "/v1/audit/events?target_id="+user.ID, userToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin audit status = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	// Exactly one filter is required.
	resp = env.do(http.MethodGet, "/v1/audit/events", adminToken, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing filter status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestInvalidTokenRejected(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/v1/roles", "not-a-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodDelete, "/v1/auth/session", "", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
	if allow := resp.Header.Get("Allow"); allow != http.MethodPost {
		t.Fatalf("Allow = %q", allow)
	}
	resp.Body.Close()
}
