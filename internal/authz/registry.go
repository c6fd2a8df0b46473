package authz

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Audit actions emitted by the role registry.
const (
	ActionRoleElevate = "role.elevate"
	ActionRoleRevoke  = "role.revoke"
	ActionRoleSet     = "role.set"
)

// RoleRegistry owns the role catalog and all assignment mutations. The
// storage adapter is injected at construction so tests can substitute an
// in-memory one; nothing reads a shared global store.
type RoleRegistry struct {
	store Store
	audit *AuditLog
}

// NewRoleRegistry constructs the registry service.
func NewRoleRegistry(store Store, audit *AuditLog) (*RoleRegistry, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	if audit == nil {
		return nil, fmt.Errorf("%w: audit log is required", ErrInvalidInput)
	}
	return &RoleRegistry{store: store, audit: audit}, nil
}

// BootstrapWellKnownRoles idempotently ensures the fixed role set exists.
// Safe to call on every process start.
func (r *RoleRegistry) BootstrapWellKnownRoles(ctx context.Context) error {
	return r.store.Roles().EnsureRoles(ctx, WellKnownRoles)
}

// RolesOf returns the materialized, sorted set of role names held by the
// identity. An identity with no assignments yields an empty set, not an error.
func (r *RoleRegistry) RolesOf(ctx context.Context, identityID string) ([]string, error) {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return nil, fmt.Errorf("%w: identity_id is required", ErrInvalidInput)
	}
	names, err := r.store.Roles().NamesOf(ctx, identityID)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// HasRole reports membership in a single role, by name.
func (r *RoleRegistry) HasRole(ctx context.Context, identityID, name string) (bool, error) {
	return r.HasAnyRole(ctx, identityID, []string{name})
}

// HasAnyRole reports whether the identity holds at least one of the names.
// An empty name list is never a match.
func (r *RoleRegistry) HasAnyRole(ctx context.Context, identityID string, names []string) (bool, error) {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return false, fmt.Errorf("%w: identity_id is required", ErrInvalidInput)
	}
	if len(names) == 0 {
		return false, nil
	}
	held, err := r.store.Roles().NamesOf(ctx, identityID)
	if err != nil {
		return false, err
	}
	for _, want := range names {
		for _, have := range held {
			if strings.EqualFold(have, want) {
				return true, nil
			}
		}
	}
	return false, nil
}

// Elevate grants roleName to the target identity. Only ADMIN actors may
// elevate; elevating to an already-held role is a no-op, not an error. One
// role.elevate audit event is emitted per call.
func (r *RoleRegistry) Elevate(ctx context.Context, actorID, targetID, roleName string) error {
	role, err := r.requireAdminAndRole(ctx, actorID, targetID, roleName)
	if err != nil {
		return err
	}
	if err := r.store.Roles().Assign(ctx, targetID, role.ID); err != nil {
		return err
	}
	r.recordRoleEvent(ctx, ActionRoleElevate, actorID, targetID, map[string]string{"role": role.Name})
	return nil
}

// Revoke removes roleName from the target identity. Removing a role the
// target does not hold is a no-op.
func (r *RoleRegistry) Revoke(ctx context.Context, actorID, targetID, roleName string) error {
	role, err := r.requireAdminAndRole(ctx, actorID, targetID, roleName)
	if err != nil {
		return err
	}
	if err := r.store.Roles().Unassign(ctx, targetID, role.ID); err != nil {
		return err
	}
	r.recordRoleEvent(ctx, ActionRoleRevoke, actorID, targetID, map[string]string{"role": role.Name})
	return nil
}

// SetRoles replaces the target's entire role set in one atomic step. Every
// name must be registered; an unknown name fails the whole call before any
// assignment changes.
func (r *RoleRegistry) SetRoles(ctx context.Context, actorID, targetID string, roleNames []string) error {
	actorID = strings.TrimSpace(actorID)
	targetID = strings.TrimSpace(targetID)
	if actorID == "" || targetID == "" {
		return fmt.Errorf("%w: actor_id and target_id are required", ErrInvalidInput)
	}
	isAdmin, err := hasRoleByName(ctx, r.store, actorID, RoleAdmin)
	if err != nil {
		return err
	}
	if !isAdmin {
		return fmt.Errorf("%w: actor %s lacks %s", ErrForbidden, actorID, RoleAdmin)
	}

	seen := make(map[string]struct{}, len(roleNames))
	roleIDs := make([]string, 0, len(roleNames))
	names := make([]string, 0, len(roleNames))
	for _, name := range roleNames {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		role, err := r.lookupRole(ctx, name)
		if err != nil {
			return err
		}
		if _, dup := seen[role.ID]; dup {
			continue
		}
		seen[role.ID] = struct{}{}
		roleIDs = append(roleIDs, role.ID)
		names = append(names, role.Name)
	}
	if err := r.store.Roles().ReplaceAssignments(ctx, targetID, roleIDs); err != nil {
		return err
	}
	r.recordRoleEvent(ctx, ActionRoleSet, actorID, targetID, map[string]string{"roles": strings.Join(names, ",")})
	return nil
}

// ListRoles returns the whole registered catalog.
func (r *RoleRegistry) ListRoles(ctx context.Context) ([]Role, error) {
	return r.store.Roles().List(ctx)
}

func (r *RoleRegistry) requireAdminAndRole(ctx context.Context, actorID, targetID, roleName string) (*Role, error) {
	actorID = strings.TrimSpace(actorID)
	targetID = strings.TrimSpace(targetID)
	roleName = strings.TrimSpace(roleName)
	if actorID == "" || targetID == "" || roleName == "" {
		return nil, fmt.Errorf("%w: actor_id, target_id and role name are required", ErrInvalidInput)
	}
	isAdmin, err := hasRoleByName(ctx, r.store, actorID, RoleAdmin)
	if err != nil {
		return nil, err
	}
	if !isAdmin {
		return nil, fmt.Errorf("%w: actor %s lacks %s", ErrForbidden, actorID, RoleAdmin)
	}
	return r.lookupRole(ctx, roleName)
}

func (r *RoleRegistry) lookupRole(ctx context.Context, name string) (*Role, error) {
	role, err := r.store.Roles().FindByName(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRole, name)
	}
	if err != nil {
		return nil, err
	}
	return role, nil
}

func (r *RoleRegistry) recordRoleEvent(ctx context.Context, action, actorID, targetID string, meta map[string]string) {
	event := &AuditEvent{
		ActorID:      actorID,
		Action:       action,
		TargetUserID: targetID,
		Meta:         meta,
	}
	if err := r.audit.Record(ctx, event); err != nil {
		reportAuditGap(action, err)
	}
}
