package handlers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/hotspot-guardian/internal/access"
	"github.com/leozw/hotspot-guardian/internal/core"
	"github.com/leozw/hotspot-guardian/internal/queue"
)

type AccessService interface {
	GrantAccess(ctx context.Context, req access.GrantRequest) access.Result
	RevokeAccess(ctx context.Context, tenantID, address, sessionID string) access.RevokeResult
	TestConnection(ctx context.Context, tenantID string) core.ConnectionResult
}

type UsageService interface {
	GetUsage(ctx context.Context, tenantID, key string) core.UsageRecord
	ListActiveClients(ctx context.Context, tenantID string) ([]core.ClientRecord, error)
}

type IdentityService interface {
	ResolveHardwareID(ctx context.Context, tenantID, address string) string
}

type Store interface {
	CreateTenant(ctx context.Context, t *core.Tenant) error
	FindActiveSession(ctx context.Context, tenantID, mac, address string) (*core.Session, error)
	FindSessionByCheckoutID(ctx context.Context, checkoutID string) (*core.Session, error)
	UpdateSessionStatus(ctx context.Context, id string, status core.SessionStatus, reason string, usedMB *float64) error
	ListSessionsWithCap(ctx context.Context, tenantID string) ([]core.Session, error)
}

type GrantQueue interface {
	Push(ctx context.Context, job *queue.Job, delay time.Duration) error
}

type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

// JSONCache holds short-lived router test results.
type JSONCache interface {
	SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	GetJSON(ctx context.Context, key string, dest interface{}) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Access   AccessService
	Usage    UsageService
	Identity IdentityService
	Store    Store
	Queue    GrantQueue
	Vault    Encrypter
	Cache    JSONCache
	// Checks are run by the readiness endpoint, keyed by name.
	Checks map[string]Pinger
}

type Handler struct {
	access   AccessService
	usage    UsageService
	identity IdentityService
	store    Store
	queue    GrantQueue
	vault    Encrypter
	cache    JSONCache
	checks   map[string]Pinger
	logger   *zap.Logger
}

func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		access:   deps.Access,
		usage:    deps.Usage,
		identity: deps.Identity,
		store:    deps.Store,
		queue:    deps.Queue,
		vault:    deps.Vault,
		cache:    deps.Cache,
		checks:   deps.Checks,
		logger:   logger,
	}
}
