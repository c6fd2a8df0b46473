package authz

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Audit actions emitted by the MFA gate.
const (
	ActionMFAEnroll = "mfa.enroll"
	ActionMFAVerify = "mfa.verify"
)

const mfaIssuer = "Arabiq Admin"

// Verification attempts per identity: a small burst, then one every few
// seconds. Keeps a stolen secret from being brute-forced through the API.
const (
	mfaAttemptBurst    = 5
	mfaAttemptInterval = 10 * time.Second
)

// Enrollment is what BeginEnrollment hands back to the caller: the shared
// secret plus a scannable otpauth descriptor. Beginning an enrollment does
// not grant verified status.
type Enrollment struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauth_url"`
}

// MFAGate verifies a second factor before an identity may exercise an
// elevated role. Callers gate admin actions on IsVerified, not on role
// membership alone.
type MFAGate struct {
	store Store
	audit *AuditLog
	now   func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewMFAGate constructs the gate.
func NewMFAGate(store Store, audit *AuditLog, opts ...MFAOption) (*MFAGate, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	if audit == nil {
		return nil, fmt.Errorf("%w: audit log is required", ErrInvalidInput)
	}
	g := &MFAGate{
		store:    store,
		audit:    audit,
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// MFAOption configures MFAGate behavior.
type MFAOption func(*MFAGate)

// WithMFAClock overrides the time source. Test use.
func WithMFAClock(fn func() time.Time) MFAOption {
	return func(g *MFAGate) {
		if fn != nil {
			g.now = fn
		}
	}
}

// BeginEnrollment generates a fresh shared secret for the identity, stores it
// unverified and returns it with an otpauth descriptor labelled with the
// identity's email. Any previous enrollment cycle is replaced and its
// verification cleared.
func (g *MFAGate) BeginEnrollment(ctx context.Context, identityID string) (Enrollment, error) {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return Enrollment{}, fmt.Errorf("%w: identity_id is required", ErrInvalidInput)
	}
	identity, err := g.store.Identities().Find(ctx, identityID)
	if err != nil {
		return Enrollment{}, err
	}
	secret, err := newTOTPSecret()
	if err != nil {
		return Enrollment{}, err
	}
	enrollment := &MFAEnrollment{
		IdentityID: identityID,
		Secret:     secret,
		CreatedAt:  g.now().UTC(),
	}
	if err := g.store.MFA().Upsert(ctx, enrollment); err != nil {
		return Enrollment{}, err
	}

	event := &AuditEvent{
		ActorID:      identityID,
		Action:       ActionMFAEnroll,
		TargetUserID: identityID,
	}
	if err := g.audit.Record(ctx, event); err != nil {
		reportAuditGap(ActionMFAEnroll, err)
	}

	label := fmt.Sprintf("%s (%s)", mfaIssuer, identity.Email)
	otpauth := fmt.Sprintf("otpauth://totp/%s?secret=%s&issuer=%s&period=%d&digits=%d",
		url.PathEscape(label), secret, url.QueryEscape(mfaIssuer), int(totpStep.Seconds()), totpDigits)
	return Enrollment{Secret: secret, OTPAuthURL: otpauth}, nil
}

// Verify checks the submitted code against the stored secret using
// time-stepped one-time codes (30-second step, one step of drift tolerance).
// Success marks the enrollment verified and audits it; a wrong code returns
// ErrInvalidCode. Attempts are rate limited per identity.
func (g *MFAGate) Verify(ctx context.Context, identityID, code string) error {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return fmt.Errorf("%w: identity_id is required", ErrInvalidInput)
	}
	if !g.allowAttempt(identityID) {
		return fmt.Errorf("%w: mfa verification", ErrRateLimited)
	}
	enrollment, err := g.store.MFA().Find(ctx, identityID)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: no enrollment", ErrInvalidCode)
	}
	if err != nil {
		return err
	}
	ok, err := totpVerify(enrollment.Secret, code, g.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCode
	}
	if err := g.store.MFA().MarkVerified(ctx, identityID); err != nil {
		return err
	}

	event := &AuditEvent{
		ActorID:      identityID,
		Action:       ActionMFAVerify,
		TargetUserID: identityID,
	}
	if err := g.audit.Record(ctx, event); err != nil {
		reportAuditGap(ActionMFAVerify, err)
	}
	return nil
}

// IsVerified reports whether the identity completed verification for its
// current enrollment cycle. Enrolled-but-unverified is false; so is not
// enrolled at all.
func (g *MFAGate) IsVerified(ctx context.Context, identityID string) (bool, error) {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return false, fmt.Errorf("%w: identity_id is required", ErrInvalidInput)
	}
	enrollment, err := g.store.MFA().Find(ctx, identityID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return enrollment.VerifiedAt != nil, nil
}

func (g *MFAGate) allowAttempt(identityID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	lim, ok := g.limiters[identityID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(mfaAttemptInterval), mfaAttemptBurst)
		g.limiters[identityID] = lim
	}
	return lim.Allow()
}
