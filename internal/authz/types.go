package authz

import (
	"strings"
	"time"
)

// ApprovalStatus is the workflow state gating a newly-registered identity's
// first access to protected content.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// Valid reports whether s is one of the three known approval states.
func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
		return true
	}
	return false
}

// AccountStatus is an operational hold independent from the approval axis.
// An approved identity may still be suspended or waiting for activation.
type AccountStatus string

const (
	AccountActive    AccountStatus = "ACTIVE"
	AccountSuspended AccountStatus = "SUSPENDED"
	AccountPending   AccountStatus = "PENDING"
)

func (s AccountStatus) Valid() bool {
	switch s {
	case AccountActive, AccountSuspended, AccountPending:
		return true
	}
	return false
}

// Well-known role names seeded at bootstrap.
const (
	RoleAdmin             = "ADMIN"
	RoleClient            = "CLIENT"
	RolePremium           = "PREMIUM"
	RolePotentialCustomer = "POTENTIAL_CUSTOMER"
	RolePublic            = "PUBLIC"
)

// WellKnownRoles is the fixed role set ensured on every process start.
// Operators may register additional roles on top of these.
var WellKnownRoles = []Role{
	{Name: RoleAdmin, Description: "Platform administrators with full access"},
	{Name: RoleClient, Description: "Approved clients with access to premium demos and content"},
	{Name: RolePremium, Description: "Premium tier clients with full access to all demos"},
	{Name: RolePotentialCustomer, Description: "New users awaiting approval, limited access to public content"},
	{Name: RolePublic, Description: "Unauthenticated visitors"},
}

// IdentityRecord is the canonical user identity as the core sees it.
// Credential material never appears here; sign-in is an external concern.
type IdentityRecord struct {
	ID            string        `json:"id"`
	Email         string        `json:"email"`
	ExternalID    string        `json:"external_id,omitempty"`
	AccountStatus AccountStatus `json:"account_status"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Role is a named capability bucket checked by name.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RoleAssignment links an identity to a role. The pair is unique.
type RoleAssignment struct {
	IdentityID string    `json:"identity_id"`
	RoleID     string    `json:"role_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// ApprovalRecord tracks the workflow state for one identity. Absence of a
// record is always read as PENDING, never as approved.
type ApprovalRecord struct {
	IdentityID string         `json:"identity_id"`
	Status     ApprovalStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// AuditEvent is an immutable record of a privileged state change.
type AuditEvent struct {
	ID           string            `json:"id"`
	OccurredAt   time.Time         `json:"occurred_at"`
	ActorID      string            `json:"actor_id,omitempty"` // empty for system-initiated events
	Action       string            `json:"action"`
	TargetUserID string            `json:"target_user_id,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	Meta         map[string]string `json:"meta,omitempty"`
	IP           string            `json:"ip,omitempty"`
	UserAgent    string            `json:"user_agent,omitempty"`
}

// MFAEnrollment holds the shared secret for one enrollment cycle.
// A nil VerifiedAt means enrolled-but-not-yet-verified, which must not be
// treated as having MFA.
type MFAEnrollment struct {
	IdentityID string     `json:"identity_id"`
	Secret     string     `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}

// AccessLevel is the coarse gating mode of a resource.
type AccessLevel string

const (
	AccessPublic        AccessLevel = "public"
	AccessAuthenticated AccessLevel = "authenticated"
)

// ResourceGate is the access rule attached to a protected resource.
// A non-empty AllowedRoles set takes precedence over the coarse level;
// an empty set with an empty level means the resource declared no gate.
type ResourceGate struct {
	AccessLevel      AccessLevel `json:"access_level,omitempty"`
	AllowedRoles     []string    `json:"allowed_roles,omitempty"`
	RequiresApproval bool        `json:"requires_approval,omitempty"`
}

// SessionContext is the per-request bundle handed to the evaluator.
// It is assembled once by the transport layer and passed by value; the
// evaluator never reaches back into storage.
type SessionContext struct {
	Identity       *IdentityRecord
	Roles          []string
	ApprovalStatus ApprovalStatus
}

// Authenticated reports whether the session resolved to an identity.
func (s SessionContext) Authenticated() bool {
	return s.Identity != nil && s.Identity.ID != ""
}

// HasRole checks role membership by name, case-insensitively.
func (s SessionContext) HasRole(name string) bool {
	for _, r := range s.Roles {
		if strings.EqualFold(r, name) {
			return true
		}
	}
	return false
}

// NormalizeEmail lower-cases and trims an email for use as a compare key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
