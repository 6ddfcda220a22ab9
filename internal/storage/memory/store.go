// Package memory is an in-process session and tenant store with the same
// behavior as the Postgres store. It backs tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/leozw/hotspot-guardian/internal/core"
)

type Store struct {
	mu       sync.Mutex
	tenants  map[string]core.Tenant
	sessions map[string]core.Session
	failures map[string]error
	now      func() time.Time
}

func New() *Store {
	return &Store{
		tenants:  make(map[string]core.Tenant),
		sessions: make(map[string]core.Session),
		failures: make(map[string]error),
		now:      time.Now,
	}
}

// SetNow replaces the store's clock, used for created/updated stamps.
func (s *Store) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Fail makes the named method return err until cleared with a nil err.
func (s *Store) Fail(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

func (s *Store) PutTenant(t core.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = t
}

func (s *Store) PutSession(sess core.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
}

func (s *Store) CreateTenant(ctx context.Context, t *core.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["CreateTenant"]; err != nil {
		return err
	}
	now := s.now()
	t.CreatedAt, t.UpdatedAt = now, now
	s.tenants[t.ID] = *t
	return nil
}

func (s *Store) GetTenant(ctx context.Context, id string) (*core.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["GetTenant"]; err != nil {
		return nil, err
	}
	t, ok := s.tenants[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &t, nil
}

func (s *Store) UpdateTenantLastSeen(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["UpdateTenantLastSeen"]; err != nil {
		return err
	}
	t, ok := s.tenants[id]
	if !ok {
		return core.ErrNotFound
	}
	t.LastSeen = &at
	s.tenants[id] = t
	return nil
}

func (s *Store) CreateSession(ctx context.Context, sess *core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["CreateSession"]; err != nil {
		return err
	}
	now := s.now()
	sess.CreatedAt, sess.UpdatedAt = now, now
	if sess.Status == "" {
		sess.Status = core.StatusPending
	}
	s.sessions[sess.ID] = *sess
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["GetSession"]; err != nil {
		return nil, err
	}
	sess, ok := s.sessions[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &sess, nil
}

// FindActiveSession returns the tenant's ACTIVE session for the client
// matching either mac or address.
func (s *Store) FindActiveSession(ctx context.Context, tenantID, mac, address string) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["FindActiveSession"]; err != nil {
		return nil, err
	}
	for _, sess := range s.sorted() {
		if sess.TenantID != tenantID || sess.Status != core.StatusActive {
			continue
		}
		if (mac != "" && sess.MACAddress == mac) || (address != "" && sess.CurrentIP == address) {
			return &sess, nil
		}
	}
	return nil, core.ErrNotFound
}

func (s *Store) FindSessionByCheckoutID(ctx context.Context, checkoutID string) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["FindSessionByCheckoutID"]; err != nil {
		return nil, err
	}
	for _, sess := range s.sessions {
		if sess.CheckoutRequestID != nil && *sess.CheckoutRequestID == checkoutID {
			return &sess, nil
		}
	}
	return nil, core.ErrNotFound
}

func (s *Store) ActivateSession(ctx context.Context, id string, a core.Activation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["ActivateSession"]; err != nil {
		return err
	}
	sess, ok := s.sessions[id]
	if !ok {
		return core.ErrNotFound
	}
	if sess.Status != core.StatusActive || sess.ExpiresAt.IsZero() {
		sess.ExpiresAt = a.ExpiresAt
	}
	sess.Status = core.StatusActive
	if a.MACAddress != "" {
		sess.MACAddress = a.MACAddress
	}
	if a.Address != "" && a.Address != sess.CurrentIP {
		if sess.CurrentIP != "" {
			sess.IPHistory = append(sess.IPHistory, sess.CurrentIP)
		}
		sess.CurrentIP = a.Address
	}
	sess.RemoteObjects = a.RemoteObjects
	sess.UpdatedAt = s.now()
	s.sessions[id] = sess
	return nil
}

func (s *Store) UpdateSessionStatus(ctx context.Context, id string, status core.SessionStatus, reason string, usedMB *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["UpdateSessionStatus"]; err != nil {
		return err
	}
	sess, ok := s.sessions[id]
	if !ok {
		return core.ErrNotFound
	}
	now := s.now()
	sess.Status = status
	sess.UpdatedAt = now
	if usedMB != nil {
		sess.DataUsedMB = *usedMB
	}
	if reason != "" {
		sess.TerminationReason = &reason
	}
	if status.Terminal() {
		sess.DisconnectedAt = &now
	}
	s.sessions[id] = sess
	return nil
}

func (s *Store) UpdateSessionUsage(ctx context.Context, id string, usedMB float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["UpdateSessionUsage"]; err != nil {
		return err
	}
	sess, ok := s.sessions[id]
	if !ok {
		return core.ErrNotFound
	}
	sess.DataUsedMB = usedMB
	sess.UpdatedAt = s.now()
	s.sessions[id] = sess
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["DeleteSession"]; err != nil {
		return err
	}
	delete(s.sessions, id)
	return nil
}

// ListSessionsWithCap returns ACTIVE sessions with a data cap, for one
// tenant or all tenants when tenantID is empty.
func (s *Store) ListSessionsWithCap(ctx context.Context, tenantID string) ([]core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["ListSessionsWithCap"]; err != nil {
		return nil, err
	}
	var out []core.Session
	for _, sess := range s.sorted() {
		if sess.Status != core.StatusActive || !sess.HasCap() {
			continue
		}
		if tenantID != "" && sess.TenantID != tenantID {
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *Store) ListActiveSessions(ctx context.Context) ([]core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["ListActiveSessions"]; err != nil {
		return nil, err
	}
	var out []core.Session
	for _, sess := range s.sorted() {
		if sess.Status == core.StatusActive {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (s *Store) DeleteSessionsCreatedBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["DeleteSessionsCreatedBefore"]; err != nil {
		return 0, err
	}
	var n int64
	for id, sess := range s.sessions {
		if sess.CreatedAt.Before(before) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) CancelPendingSessionsBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["CancelPendingSessionsBefore"]; err != nil {
		return 0, err
	}
	var n int64
	now := s.now()
	reason := "payment timeout"
	for id, sess := range s.sessions {
		if sess.Status == core.StatusPending && sess.CreatedAt.Before(before) {
			sess.Status = core.StatusCancelled
			sess.TerminationReason = &reason
			sess.UpdatedAt = now
			s.sessions[id] = sess
			n++
		}
	}
	return n, nil
}

// sorted returns sessions oldest first so iteration order is stable.
func (s *Store) sorted() []core.Session {
	out := make([]core.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
