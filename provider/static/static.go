// Package static implements a hive.Provider that performs no lifecycle
// action: it is the provider implied when a CredentialObject's ProviderID
// is empty, used explicitly for API_KEY and CUSTOM credentials that never
// expire or refresh through the store.
package static

import (
	"context"

	"github.com/yujiajie1988/hive"
)

// ID is the stable provider identifier returned by New().ProviderID().
const ID = "static"

// New returns a hive.Provider that always returns credentials unchanged,
// validates iff the credential has any key, and never requests refresh.
func New() hive.Provider {
	return &provider{}
}

type provider struct{}

// ProviderID implements hive.Provider.
func (p *provider) ProviderID() string { return ID }

// SupportedKinds implements hive.Provider.
func (p *provider) SupportedKinds() []hive.CredentialKind {
	return []hive.CredentialKind{hive.KindAPIKey, hive.KindCustom}
}

// Refresh implements hive.Provider: a no-op that returns c unchanged.
func (p *provider) Refresh(_ context.Context, c *hive.CredentialObject) (*hive.CredentialObject, error) {
	return c, nil
}

// Validate implements hive.Provider: true iff c has any key.
func (p *provider) Validate(_ context.Context, c *hive.CredentialObject) (bool, error) {
	return len(c.Keys()) > 0, nil
}

// ShouldRefresh implements hive.Provider: always false.
func (p *provider) ShouldRefresh(_ *hive.CredentialObject) bool {
	return false
}

// Revoke implements hive.Provider: a no-op.
func (p *provider) Revoke(_ context.Context, _ *hive.CredentialObject) (bool, error) {
	return false, nil
}
