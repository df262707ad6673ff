// Package hive implements the core of a credential store: storing,
// retrieving, refreshing, and injecting secrets into outbound protocol
// requests issued by tools and agents.
//
// The store enforces a bipartisan contract: the store holds opaque secret
// values, while tools independently declare usage templates describing
// where each secret is placed in outbound requests. The two concerns never
// cross.
package hive

import (
	"context"
	"time"
)

// DefaultRefreshBuffer is the duration before absolute expiration within
// which a provider's default ShouldRefresh policy considers a credential
// due for refresh.
const DefaultRefreshBuffer = 5 * time.Minute

// DefaultCacheTTL is the Store's default cache entry lifetime.
const DefaultCacheTTL = 300 * time.Second

// StorageBackend is the persistence authority for credentials. Each backend
// provides save/load/delete/list/exists over credential identifiers, and
// must preserve identifier, kind, provider id, every key's name/value/
// expiration, and the usage counters that existed at save time.
type StorageBackend interface {
	// Save persists c, overwriting any existing record with the same ID.
	Save(ctx context.Context, c *CredentialObject) error

	// Load returns the credential for id, or ok=false if absent.
	Load(ctx context.Context, id string) (c *CredentialObject, ok bool, err error)

	// Delete removes the credential for id. Returns whether it existed.
	Delete(ctx context.Context, id string) (existed bool, err error)

	// List returns all known credential identifiers.
	List(ctx context.Context) ([]string, error)

	// Exists reports whether a credential is present, without loading it.
	Exists(ctx context.Context, id string) (bool, error)

	// Writable reports whether Save/Delete are supported. Read-only
	// backends (e.g. the environment-variable backend) return false and
	// fail Save/Delete with a ValidationFailure.
	Writable() bool
}

// Provider is the lifecycle authority for a credential kind: refresh,
// validate, revoke, and the should-refresh policy decision.
type Provider interface {
	// ProviderID returns the stable identifier callers reference from
	// CredentialObject.ProviderID.
	ProviderID() string

	// SupportedKinds returns the CredentialKinds this provider can act on.
	SupportedKinds() []CredentialKind

	// Refresh returns an updated credential reflecting whatever lifecycle
	// action applies, or a CredentialRefreshFailure error. Implementations
	// must advance LastRefreshed on success.
	Refresh(ctx context.Context, c *CredentialObject) (*CredentialObject, error)

	// Validate performs a side-effect-free usability check.
	Validate(ctx context.Context, c *CredentialObject) (bool, error)

	// ShouldRefresh is the policy decision of whether c is due for refresh.
	ShouldRefresh(c *CredentialObject) bool

	// Revoke attempts to revoke the credential's access. The default
	// implementation for providers that don't support revocation returns
	// false, nil.
	Revoke(ctx context.Context, c *CredentialObject) (bool, error)
}

// KeySource supplies the master key material used by backends that need a
// process-scoped secret (most notably the encrypted file backend). It
// generalizes a "constructor arg / env var / generated" chain into
// a pluggable capability, so that e.g. a secrets-manager-backed source can
// be substituted without changing backend code.
type KeySource interface {
	// Key returns 32 bytes of key material.
	Key(ctx context.Context) ([32]byte, error)
}
