package authz

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"arabiq.org/internal/ids"
)

// InMemory implements Store with in-process concurrency safety. It backs
// tests and -dev runs; production uses the PostgreSQL store.
type InMemory struct {
	mu          sync.RWMutex
	identities  map[string]*IdentityRecord // id -> record
	byEmail     map[string]string          // email -> id
	approvals   map[string]*ApprovalRecord // identity id -> record
	roles       map[string]*Role           // role id -> role
	roleByName  map[string]string          // upper(name) -> role id
	assignments map[string]map[string]time.Time
	audit       []AuditEvent
	enrollments map[string]*MFAEnrollment
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		identities:  make(map[string]*IdentityRecord),
		byEmail:     make(map[string]string),
		approvals:   make(map[string]*ApprovalRecord),
		roles:       make(map[string]*Role),
		roleByName:  make(map[string]string),
		assignments: make(map[string]map[string]time.Time),
		enrollments: make(map[string]*MFAEnrollment),
	}
}

func (s *InMemory) Identities() IdentityStore { return (*memIdentities)(s) }
func (s *InMemory) Approvals() ApprovalStore  { return (*memApprovals)(s) }
func (s *InMemory) Roles() RoleStore          { return (*memRoles)(s) }
func (s *InMemory) Audit() AuditStore         { return (*memAudit)(s) }
func (s *InMemory) MFA() MFAStore             { return (*memMFA)(s) }

// Identities ---------------------------------------------------------------

type memIdentities InMemory

func (s *memIdentities) CreateIfAbsent(ctx context.Context, rec *IdentityRecord) (*IdentityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := NormalizeEmail(rec.Email)
	if id, ok := s.byEmail[key]; ok {
		out := *s.identities[id]
		return &out, nil
	}
	stored := *rec
	if stored.ID == "" {
		stored.ID = ids.New()
	}
	stored.Email = key
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.identities[stored.ID] = &stored
	s.byEmail[key] = stored.ID
	out := stored
	return &out, nil
}

func (s *memIdentities) Find(ctx context.Context, id string) (*IdentityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.identities[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (s *memIdentities) FindByEmail(ctx context.Context, email string) (*IdentityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	out := *s.identities[id]
	return &out, nil
}

func (s *memIdentities) SetAccountStatus(ctx context.Context, id string, status AccountStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.identities[id]
	if !ok {
		return ErrNotFound
	}
	rec.AccountStatus = status
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// Approvals ----------------------------------------------------------------

type memApprovals InMemory

func (s *memApprovals) EnsurePending(ctx context.Context, identityID string) (*ApprovalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.approvals[identityID]; ok {
		out := *rec
		return &out, nil
	}
	now := time.Now().UTC()
	rec := &ApprovalRecord{IdentityID: identityID, Status: ApprovalPending, CreatedAt: now, UpdatedAt: now}
	s.approvals[identityID] = rec
	out := *rec
	return &out, nil
}

func (s *memApprovals) Find(ctx context.Context, identityID string) (*ApprovalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.approvals[identityID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (s *memApprovals) UpdateStatus(ctx context.Context, identityID string, from, to ApprovalStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.approvals[identityID]
	if !ok {
		return ErrNotFound
	}
	if rec.Status != from {
		return ErrConflict
	}
	rec.Status = to
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// Roles --------------------------------------------------------------------

type memRoles InMemory

func (s *memRoles) EnsureRoles(ctx context.Context, roles []Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, role := range roles {
		key := strings.ToUpper(strings.TrimSpace(role.Name))
		if key == "" {
			continue
		}
		if _, ok := s.roleByName[key]; ok {
			continue
		}
		stored := role
		if stored.ID == "" {
			stored.ID = ids.New()
		}
		stored.CreatedAt = time.Now().UTC()
		s.roles[stored.ID] = &stored
		s.roleByName[key] = stored.ID
	}
	return nil
}

func (s *memRoles) FindByName(ctx context.Context, name string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.roleByName[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return nil, ErrNotFound
	}
	out := *s.roles[id]
	return &out, nil
}

func (s *memRoles) List(ctx context.Context) ([]Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Role, 0, len(s.roles))
	for _, role := range s.roles {
		out = append(out, *role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memRoles) Assign(ctx context.Context, identityID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return ErrNotFound
	}
	set, ok := s.assignments[identityID]
	if !ok {
		set = make(map[string]time.Time)
		s.assignments[identityID] = set
	}
	if _, exists := set[roleID]; !exists {
		set[roleID] = time.Now().UTC()
	}
	return nil
}

func (s *memRoles) Unassign(ctx context.Context, identityID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assignments[identityID], roleID)
	return nil
}

func (s *memRoles) ReplaceAssignments(ctx context.Context, identityID string, roleIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[string]time.Time, len(roleIDs))
	now := time.Now().UTC()
	for _, id := range roleIDs {
		if _, ok := s.roles[id]; !ok {
			return ErrNotFound
		}
		set[id] = now
	}
	s.assignments[identityID] = set
	return nil
}

func (s *memRoles) NamesOf(ctx context.Context, identityID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	for roleID := range s.assignments[identityID] {
		if role, ok := s.roles[roleID]; ok {
			names = append(names, role.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Audit --------------------------------------------------------------------

type memAudit InMemory

func (s *memAudit) Append(ctx context.Context, event *AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, *event)
	return nil
}

func (s *memAudit) ListByTarget(ctx context.Context, targetUserID, afterID string, limit int) ([]AuditEvent, error) {
	return s.list(func(ev AuditEvent) bool { return ev.TargetUserID == targetUserID }, afterID, limit)
}

func (s *memAudit) ListByActor(ctx context.Context, actorID, afterID string, limit int) ([]AuditEvent, error) {
	return s.list(func(ev AuditEvent) bool { return ev.ActorID == actorID }, afterID, limit)
}

func (s *memAudit) list(match func(AuditEvent) bool, afterID string, limit int) ([]AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	filtered := make([]AuditEvent, 0, len(s.audit))
	for _, ev := range s.audit {
		if match(ev) && ev.ID > afterID {
			filtered = append(filtered, ev)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].ID < filtered[j].ID })
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

// MFA ----------------------------------------------------------------------

type memMFA InMemory

func (s *memMFA) Upsert(ctx context.Context, enrollment *MFAEnrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *enrollment
	stored.VerifiedAt = nil
	s.enrollments[enrollment.IdentityID] = &stored
	return nil
}

func (s *memMFA) Find(ctx context.Context, identityID string) (*MFAEnrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.enrollments[identityID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (s *memMFA) MarkVerified(ctx context.Context, identityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.enrollments[identityID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	rec.VerifiedAt = &now
	return nil
}
