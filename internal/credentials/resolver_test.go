package credentials

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"signoff/internal/store"
	"signoff/internal/types"
)

type fakeSource struct {
	mutex         sync.Mutex
	lookups       int
	installations map[string]store.Installation
	err           error
}

func (f *fakeSource) GetInstallation(ctx context.Context, tenantId string) (*store.Installation, error) {
	f.mutex.Lock()
	f.lookups++
	f.mutex.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	installation, ok := f.installations[tenantId]
	if !ok {
		return nil, types.ErrorNotFound
	}
	return &installation, nil
}

func (f *fakeSource) lookupCount() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.lookups
}

func TestResolveCachesWithinTtl(t *testing.T) {
	source := &fakeSource{installations: map[string]store.Installation{
		"T001": {TenantId: "T001", BotToken: "xoxb-t001"},
	}}
	resolver := NewResolver(NewResolverOpts{Source: source})

	first, err := resolver.Resolve(context.Background(), "T001", "")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if first.BotToken != "xoxb-t001" {
		t.Errorf("unexpected token %s", first.BotToken)
	}
	if _, err := resolver.Resolve(context.Background(), "T001", ""); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if source.lookupCount() != 1 {
		t.Errorf("expected a single remote lookup within ttl, got %d", source.lookupCount())
	}
}

func TestResolveRefreshesStaleEntry(t *testing.T) {
	source := &fakeSource{installations: map[string]store.Installation{
		"T001": {TenantId: "T001", BotToken: "xoxb-t001"},
	}}
	resolver := NewResolver(NewResolverOpts{Source: source, Ttl: 10 * time.Millisecond})

	if _, err := resolver.Resolve(context.Background(), "T001", ""); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := resolver.Resolve(context.Background(), "T001", ""); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if source.lookupCount() != 2 {
		t.Errorf("expected a fresh lookup after ttl expiry, got %d lookups", source.lookupCount())
	}
}

func TestResolveFallback(t *testing.T) {
	source := &fakeSource{installations: map[string]store.Installation{}}
	fallback := Credential{TenantId: "T_STATIC", BotToken: "xoxb-static"}
	resolver := NewResolver(NewResolverOpts{Source: source, Fallback: &fallback})

	credential, err := resolver.Resolve(context.Background(), "T_X", "")
	if err != nil {
		t.Fatalf("expected the fallback credential, got error %v", err)
	}
	if credential.BotToken != "xoxb-static" {
		t.Errorf("expected the fallback token, got %s", credential.BotToken)
	}
}

func TestResolveNoInstallationWithoutFallback(t *testing.T) {
	source := &fakeSource{installations: map[string]store.Installation{}}
	resolver := NewResolver(NewResolverOpts{Source: source})

	if _, err := resolver.Resolve(context.Background(), "T_X", ""); !errors.Is(err, types.ErrorNoInstallationFound) {
		t.Errorf("expected ErrorNoInstallationFound, got %v", err)
	}
}

func TestResolveUpstreamFailureDoesNotFallBack(t *testing.T) {
	source := &fakeSource{err: types.ErrorUpstreamUnavailable}
	fallback := Credential{TenantId: "T_STATIC", BotToken: "xoxb-static"}
	resolver := NewResolver(NewResolverOpts{Source: source, Fallback: &fallback})

	if _, err := resolver.Resolve(context.Background(), "T001", ""); !errors.Is(err, types.ErrorUpstreamUnavailable) {
		t.Errorf("expected ErrorUpstreamUnavailable to propagate instead of the fallback, got %v", err)
	}
}

func TestResolveTenantIsolation(t *testing.T) {
	source := &fakeSource{installations: map[string]store.Installation{
		"T001": {TenantId: "T001", BotToken: "xoxb-t001"},
		"T002": {TenantId: "T002", BotToken: "xoxb-t002"},
	}}
	resolver := NewResolver(NewResolverOpts{Source: source})

	a, err := resolver.Resolve(context.Background(), "T001", "")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	b, err := resolver.Resolve(context.Background(), "T002", "")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if a.BotToken == b.BotToken || a.TenantId == b.TenantId {
		t.Errorf("expected tenants to resolve to distinct credentials: %+v vs %+v", a, b)
	}
	again, _ := resolver.Resolve(context.Background(), "T001", "")
	if again.BotToken != "xoxb-t001" {
		t.Errorf("cached resolution for T001 returned another tenant's credential: %s", again.BotToken)
	}
}

func TestResolveEnterpriseKeySharing(t *testing.T) {
	source := &fakeSource{installations: map[string]store.Installation{
		"T001": {TenantId: "T001", BotToken: "xoxb-grid"},
	}}
	resolver := NewResolver(NewResolverOpts{Source: source})

	if _, err := resolver.Resolve(context.Background(), "T001", "E100"); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	keys := resolver.CachedKeys()
	if len(keys) != 1 || keys[0] != "E100" {
		t.Errorf("expected the cache to be keyed by enterprise id, got %v", keys)
	}
}

func TestResolveConcurrent(t *testing.T) {
	source := &fakeSource{installations: map[string]store.Installation{
		"T001": {TenantId: "T001", BotToken: "xoxb-t001"},
		"T002": {TenantId: "T002", BotToken: "xoxb-t002"},
	}}
	resolver := NewResolver(NewResolverOpts{Source: source})

	var waiter sync.WaitGroup
	for i := 0; i < 32; i++ {
		tenantId := "T001"
		if i%2 == 0 {
			tenantId = "T002"
		}
		waiter.Add(1)
		go func(tenantId string) {
			defer waiter.Done()
			credential, err := resolver.Resolve(context.Background(), tenantId, "")
			if err != nil {
				t.Errorf("Resolve returned error: %v", err)
				return
			}
			if credential.TenantId != tenantId {
				t.Errorf("resolved tenant[%s] but received credential for tenant[%s]", tenantId, credential.TenantId)
			}
		}(tenantId)
	}
	waiter.Wait()
}
