package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"signoff/internal/common"
	"signoff/internal/store"
	"signoff/internal/types"
)

const DefaultTtl = 5 * time.Minute

// Credential is what a resolved tenant can act with. Values are
// copied out of the resolver's cache, callers never hold a reference
// into it
type Credential struct {
	TenantId  string
	BotToken  string
	BotId     string
	BotUserId string
	FetchedAt time.Time
}

// InstallationSource is the remote lookup behind the cache, the
// store client fulfils it
type InstallationSource interface {
	GetInstallation(ctx context.Context, tenantId string) (*store.Installation, error)
}

type NewResolverOpts struct {
	Source InstallationSource

	// Fallback, when set, is returned for tenants that are confirmed
	// to have no installation; it exists for single-tenant and
	// back-compat deployments and is never used to paper over a
	// failed lookup
	Fallback *Credential

	// Ttl bounds how long a cached credential is served without a
	// fresh lookup, defaults to DefaultTtl
	Ttl time.Duration

	ServiceLogs chan<- common.ServiceLog
}

func NewResolver(opts NewResolverOpts) *Resolver {
	ttl := opts.Ttl
	if ttl == 0 {
		ttl = DefaultTtl
	}
	serviceLogs := opts.ServiceLogs
	if serviceLogs == nil {
		serviceLogs = common.GetNoopServiceLog()
	}
	return &Resolver{
		source:      opts.Source,
		fallback:    opts.Fallback,
		ttl:         ttl,
		serviceLogs: serviceLogs,
		entries:     map[string]Credential{},
	}
}

// Resolver returns per-tenant credentials through a time-bounded
// cache backed by the installation store. Each instance owns its
// cache so tests can assert on isolated state
type Resolver struct {
	source      InstallationSource
	fallback    *Credential
	ttl         time.Duration
	serviceLogs chan<- common.ServiceLog

	mutex   sync.RWMutex
	entries map[string]Credential
}

// cacheKey is the enterprise id when present since enterprise-grid
// tenants share one credential set across member workspaces
func cacheKey(tenantId, enterpriseId string) string {
	if enterpriseId != "" {
		return enterpriseId
	}
	return tenantId
}

func (r *Resolver) Resolve(ctx context.Context, tenantId, enterpriseId string) (Credential, error) {
	key := cacheKey(tenantId, enterpriseId)

	r.mutex.RLock()
	entry, ok := r.entries[key]
	r.mutex.RUnlock()
	if ok && time.Since(entry.FetchedAt) < r.ttl {
		return entry, nil
	}

	r.serviceLogs <- common.ServiceLogf(common.LogLevelDebug, "resolving credentials for tenant[%s]...", tenantId)
	installation, err := r.source.GetInstallation(ctx, tenantId)
	if err != nil {
		if errors.Is(err, types.ErrorNotFound) {
			if r.fallback != nil {
				return *r.fallback, nil
			}
			return Credential{}, types.ErrorNoInstallationFound
		}
		if errors.Is(err, types.ErrorUpstreamUnavailable) {
			return Credential{}, err
		}
		return Credential{}, fmt.Errorf("failed to look up installation for tenant[%s] (%s): %w", tenantId, err, types.ErrorUpstreamUnavailable)
	}

	credential := Credential{
		TenantId:  installation.TenantId,
		BotToken:  installation.BotToken,
		BotId:     installation.BotId,
		BotUserId: installation.BotUserId,
		FetchedAt: time.Now(),
	}

	// last writer wins, concurrent resolutions of the same key may
	// both have looked the tenant up but cannot corrupt the entry
	r.mutex.Lock()
	r.entries[key] = credential
	r.mutex.Unlock()

	return credential, nil
}

// CachedKeys lists the keys currently held, used by tests and the
// readiness surface
func (r *Resolver) CachedKeys() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	keys := make([]string, 0, len(r.entries))
	for key := range r.entries {
		keys = append(keys, key)
	}
	return keys
}

// Invalidate drops a cached credential, used when the platform
// reports a revoked token
func (r *Resolver) Invalidate(tenantId, enterpriseId string) {
	key := cacheKey(tenantId, enterpriseId)
	r.mutex.Lock()
	delete(r.entries, key)
	r.mutex.Unlock()
}
