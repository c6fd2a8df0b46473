package authz

import "strings"

// DenyReason is the closed enum of access-denial reasons. Callers branch on
// it deterministically; free-text reasons never cross the API boundary.
type DenyReason string

const (
	DenyUnauthenticated  DenyReason = "unauthenticated"
	DenyInsufficientRole DenyReason = "insufficient_role"
	DenyApprovalPending  DenyReason = "approval_pending"
	DenyApprovalRejected DenyReason = "approval_rejected"
	DenyAccountSuspended DenyReason = "account_suspended"
	DenyAccountPending   DenyReason = "account_pending"
)

// DenyReasons lists every member of the enum. The redirect mapping below is
// checked against it in tests so no reason is ever left unexplained.
var DenyReasons = []DenyReason{
	DenyUnauthenticated,
	DenyInsufficientRole,
	DenyApprovalPending,
	DenyApprovalRejected,
	DenyAccountSuspended,
	DenyAccountPending,
}

// redirects maps each denial reason to exactly one explanatory destination.
var redirects = map[DenyReason]string{
	DenyUnauthenticated:  "/login",
	DenyInsufficientRole: "/access-denied",
	DenyApprovalPending:  "/access-pending",
	DenyApprovalRejected: "/access-rejected",
	DenyAccountSuspended: "/account-suspended",
	DenyAccountPending:   "/access-denied",
}

// Decision is the outcome of a single access evaluation. Denial is a normal
// result, not an error.
type Decision struct {
	Allowed bool       `json:"allowed"`
	Reason  DenyReason `json:"reason,omitempty"`
}

// Allow is the positive decision.
func Allow() Decision { return Decision{Allowed: true} }

// Deny is a negative decision with its reason.
func Deny(reason DenyReason) Decision { return Decision{Reason: reason} }

// Redirect returns the explanatory destination for a denial, or "" for an
// allow. Unknown reasons fall back to the generic access-denied page so the
// mapping stays total.
func (d Decision) Redirect() string {
	if d.Allowed {
		return ""
	}
	if path, ok := redirects[d.Reason]; ok {
		return path
	}
	return "/access-denied"
}

// Decide evaluates whether the session may access a resource behind the
// given gate. It is pure: no side effects, no storage lookups, identical
// inputs always yield identical outputs, so page rendering, API handlers and
// content-service policies can all call it and agree. A nil gate means the
// resource declared no gate at all.
//
// Account-wide holds are checked first and are not subject to the admin
// bypass; the bypass applies to the resource gate only.
func Decide(session SessionContext, gate *ResourceGate) Decision {
	if session.Authenticated() {
		switch session.Identity.AccountStatus {
		case AccountSuspended:
			return Deny(DenyAccountSuspended)
		case AccountPending:
			return Deny(DenyAccountPending)
		}
		if gate != nil && gate.RequiresApproval {
			switch session.ApprovalStatus {
			case ApprovalRejected:
				return Deny(DenyApprovalRejected)
			case ApprovalApproved:
				// proceed to the gate
			default:
				// Missing approval state is fail-closed: treated as PENDING.
				return Deny(DenyApprovalPending)
			}
		}
	}

	if session.HasRole(RoleAdmin) {
		return Allow()
	}

	if gate != nil && len(gate.AllowedRoles) > 0 {
		for _, allowed := range gate.AllowedRoles {
			if session.HasRole(strings.TrimSpace(allowed)) {
				return Allow()
			}
		}
		return Deny(DenyInsufficientRole)
	}

	level := AccessAuthenticated
	if gate != nil && gate.AccessLevel != "" {
		level = gate.AccessLevel
	}
	switch level {
	case AccessPublic:
		return Allow()
	default:
		// AUTHENTICATED, and the absent-gate default: allow iff the session
		// resolved an identity.
		if session.Authenticated() {
			return Allow()
		}
		return Deny(DenyUnauthenticated)
	}
}
