package hive

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// cacheEntry is a cached credential plus the instant it was inserted.
type cacheEntry struct {
	cred      *CredentialObject
	insertedAt time.Time
}

// Store is the public façade composing a storage backend, a set of
// providers, the template resolver, an in-memory TTL cache, and the
// concurrency guards needed to make all of that safe under concurrent
// callers. Callers interact almost exclusively with this type.
//
// The provider and usage-spec registries share one RWMutex and the cache
// has its own mutex (rather than one global reentrant lock, favoring a
// per-id lock map for higher throughput); refresh exclusion for a given
// credential id is provided by a dedicated per-id mutex so that at most
// one refresh for that id runs at a time while storage I/O is not held
// under the cache lock.
type Store struct {
	storage     StorageBackend
	cacheTTL    time.Duration
	autoRefresh bool
	logger      *zap.Logger

	registryMu sync.RWMutex
	providers  map[string]Provider
	usageSpecs map[string]*CredentialUsageSpec

	cacheMu sync.Mutex
	cache   map[string]*cacheEntry

	refreshMu    sync.Mutex
	refreshLocks map[string]*sync.Mutex

	resolver *Resolver
}

// StoreOption configures a Store at construction time.
type StoreOption func(*Store)

// WithCacheTTL overrides the default 300-second cache TTL.
func WithCacheTTL(ttl time.Duration) StoreOption {
	return func(s *Store) { s.cacheTTL = ttl }
}

// WithAutoRefresh overrides the default (true) auto-refresh behavior used
// by Resolve/Get/GetKey.
func WithAutoRefresh(enabled bool) StoreOption {
	return func(s *Store) { s.autoRefresh = enabled }
}

// WithLogger attaches a logger; defaults to a no-op logger.
func WithLogger(logger *zap.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithProviders registers the given providers at construction time.
func WithProviders(providers ...Provider) StoreOption {
	return func(s *Store) {
		for _, p := range providers {
			s.providers[p.ProviderID()] = p
		}
	}
}

// NewStore returns a new Store backed by storage. A credential with no
// bound ProviderID is served as-is with no refresh attempted, which is
// exactly the static provider's behavior, so API_KEY/CUSTOM credentials
// need nothing registered.
func NewStore(storage StorageBackend, opts ...StoreOption) *Store {
	s := &Store{
		storage:      storage,
		cacheTTL:     DefaultCacheTTL,
		autoRefresh:  true,
		logger:       zap.NewNop(),
		providers:    make(map[string]Provider),
		usageSpecs:   make(map[string]*CredentialUsageSpec),
		cache:        make(map[string]*cacheEntry),
		refreshLocks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resolver = NewResolver(func(ctx context.Context, id string) (*CredentialObject, bool, error) {
		return s.GetCredential(ctx, id, s.autoRefresh)
	})
	return s
}

// RegisterProvider inserts or replaces a provider by ProviderID.
func (s *Store) RegisterProvider(p Provider) {
	s.registryMu.Lock()
	defer s.registryMu.Unlock()
	s.providers[p.ProviderID()] = p
}

// RegisterUsage records a tool's usage declaration, keyed by
// spec.CredentialID. At most one spec per id; later registrations replace
// earlier ones.
func (s *Store) RegisterUsage(spec *CredentialUsageSpec) {
	s.registryMu.Lock()
	defer s.registryMu.Unlock()
	s.usageSpecs[spec.CredentialID] = spec
}

func (s *Store) providerFor(c *CredentialObject) (Provider, bool) {
	s.registryMu.RLock()
	defer s.registryMu.RUnlock()
	if c.ProviderID == "" {
		return nil, false
	}
	p, ok := s.providers[c.ProviderID]
	return p, ok
}

func (s *Store) usageFor(id string) (*CredentialUsageSpec, bool) {
	s.registryMu.RLock()
	defer s.registryMu.RUnlock()
	spec, ok := s.usageSpecs[id]
	return spec, ok
}

// cacheGet returns a fresh (age < TTL) cached credential, if any.
func (s *Store) cacheGet(id string) (*CredentialObject, bool) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	entry, ok := s.cache[id]
	if !ok {
		return nil, false
	}
	if time.Since(entry.insertedAt) >= s.cacheTTL {
		return nil, false
	}
	return entry.cred, true
}

func (s *Store) cacheSet(id string, c *CredentialObject) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cache[id] = &cacheEntry{cred: c, insertedAt: time.Now()}
}

func (s *Store) cacheEvict(id string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	delete(s.cache, id)
}

// lockFor returns the per-id mutex used to serialize refreshes of id,
// creating it if necessary. The map itself is guarded separately from the
// per-id locks so that holding one id's lock across a slow refresh never
// blocks unrelated ids.
func (s *Store) lockFor(id string) *sync.Mutex {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	l, ok := s.refreshLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.refreshLocks[id] = l
	}
	return l
}

// GetCredential returns the credential for id. A fresh cache entry is
// returned directly; otherwise the credential is loaded from storage. If
// refreshIfNeeded is set and the bound provider's ShouldRefresh policy
// says so, Refresh is invoked and the result persisted before returning.
// Refresh for a given id is serialized: at most one concurrent refresh
// per id, regardless of how many callers observe an expired credential
// simultaneously.
func (s *Store) GetCredential(ctx context.Context, id string, refreshIfNeeded bool) (*CredentialObject, bool, error) {
	if cred, ok := s.cacheGet(id); ok {
		cred.RecordUse()
		return maybeRefresh(ctx, s, id, cred, refreshIfNeeded)
	}

	cred, found, err := s.storage.Load(ctx, id)
	if err != nil {
		return nil, false, Wrap(BackendUnavailable, id, err)
	}
	if !found {
		return nil, false, nil
	}
	s.cacheSet(id, cred)
	cred.RecordUse()
	return maybeRefresh(ctx, s, id, cred, refreshIfNeeded)
}

// maybeRefresh performs the should-refresh check and, if due, the
// serialized refresh-and-persist sequence, returning the (possibly
// refreshed) credential's snapshot.
func maybeRefresh(ctx context.Context, s *Store, id string, cred *CredentialObject, refreshIfNeeded bool) (*CredentialObject, bool, error) {
	if !refreshIfNeeded {
		return cred.Clone(), true, nil
	}
	provider, ok := s.providerFor(cred)
	if !ok || !provider.ShouldRefresh(cred) {
		return cred.Clone(), true, nil
	}

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	// Re-check after acquiring the lock: another goroutine may have
	// already refreshed and repopulated the cache while we waited. A cached
	// copy newer than the one observed above, or one the provider no
	// longer wants refreshed, is served without refreshing again.
	if current, ok := s.cacheGet(id); ok && (current.UpdatedAt.After(cred.UpdatedAt) || !provider.ShouldRefresh(current)) {
		return current.Clone(), true, nil
	}

	refreshed, err := provider.Refresh(ctx, cred)
	if err != nil {
		if cred.NeedsRefresh() {
			return nil, false, err
		}
		s.logger.Warn("refresh failed for non-expired credential, serving cached value",
			zap.String("id", id), zap.Error(err))
		return cred.Clone(), true, nil
	}

	// Invalidate before persisting so no reader can observe the stale
	// cache entry once the refreshed record is visible.
	s.cacheEvict(id)
	if err := s.storage.Save(ctx, refreshed); err != nil {
		return nil, false, Wrap(BackendUnavailable, id, err)
	}
	s.cacheSet(id, refreshed)
	return refreshed.Clone(), true, nil
}

// GetKey is a convenience that returns the secret value for key_name on
// the credential for id, auto-refreshing per the store's configuration.
func (s *Store) GetKey(ctx context.Context, id, keyName string) (string, bool, error) {
	cred, found, err := s.GetCredential(ctx, id, s.autoRefresh)
	if err != nil {
		return "", false, err
	}
	if !found {
		return "", false, nil
	}
	k, ok := cred.Key(keyName)
	if !ok {
		return "", false, NewKeyError(id, keyName)
	}
	return k.Value.Reveal(), true, nil
}

// Get returns the default-key value for id, using the same rule as the
// template resolver.
func (s *Store) Get(ctx context.Context, id string) (string, bool, error) {
	cred, found, err := s.GetCredential(ctx, id, s.autoRefresh)
	if err != nil {
		return "", false, err
	}
	if !found {
		return "", false, nil
	}
	v, err := s.resolver.resolveDefault(cred)
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Resolve delegates to the template resolver.
func (s *Store) Resolve(ctx context.Context, template string, failOnMissing bool) (string, error) {
	return s.resolver.Resolve(ctx, template, failOnMissing)
}

// ResolveHeaders delegates to the template resolver.
func (s *Store) ResolveHeaders(ctx context.Context, headers map[string]string, failOnMissing bool) (map[string]string, error) {
	return s.resolver.ResolveHeaders(ctx, headers, failOnMissing)
}

// ResolveForUsage resolves the registered usage spec's header map for id.
// Fails with ValidationFailure if no spec is registered.
func (s *Store) ResolveForUsage(ctx context.Context, id string) (map[string]string, error) {
	spec, ok := s.usageFor(id)
	if !ok {
		return nil, NewError(ValidationFailure, id, "no usage spec registered")
	}
	return s.resolver.ResolveHeaders(ctx, spec.Headers, spec.Required)
}

// SaveCredential persists c, then populates the cache with it.
func (s *Store) SaveCredential(ctx context.Context, c *CredentialObject) error {
	if !s.storage.Writable() {
		return NewError(ValidationFailure, c.ID, "storage backend is read-only")
	}
	if err := s.storage.Save(ctx, c); err != nil {
		return Wrap(BackendUnavailable, c.ID, err)
	}
	s.cacheSet(c.ID, c)
	return nil
}

// DeleteCredential removes id from the cache, then from storage, and
// reports whether it existed.
func (s *Store) DeleteCredential(ctx context.Context, id string) (bool, error) {
	s.cacheEvict(id)
	existed, err := s.storage.Delete(ctx, id)
	if err != nil {
		return false, Wrap(BackendUnavailable, id, err)
	}
	return existed, nil
}

// ListCredentials delegates to the storage backend.
func (s *Store) ListCredentials(ctx context.Context) ([]string, error) {
	ids, err := s.storage.List(ctx)
	if err != nil {
		return nil, Wrap(BackendUnavailable, "", err)
	}
	return ids, nil
}

// IsAvailable reports whether id can be read without triggering a refresh.
func (s *Store) IsAvailable(ctx context.Context, id string) bool {
	_, found, err := s.GetCredential(ctx, id, false)
	return err == nil && found
}

// ValidateForUsage returns the set of missing required key names from the
// registered usage spec for id.
func (s *Store) ValidateForUsage(ctx context.Context, id string) ([]string, error) {
	spec, ok := s.usageFor(id)
	if !ok {
		return nil, NewError(ValidationFailure, id, "no usage spec registered")
	}
	cred, found, err := s.GetCredential(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, NewError(CredentialNotFound, id, "credential not found")
	}
	return spec.MissingKeys(cred), nil
}
