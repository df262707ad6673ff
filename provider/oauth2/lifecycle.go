package oauth2

import (
	"context"

	"go.uber.org/zap"

	"github.com/yujiajie1988/hive"
)

// LifecycleManager is the thin synchronous front door for one OAuth2
// credential: it owns a (provider, credential id, store) triple and
// offers request-ready tokens without callers having to drive the
// refresh-then-persist sequence themselves.
type LifecycleManager struct {
	store        *hive.Store
	provider     *Provider
	credentialID string
	logger       *zap.Logger
}

// NewLifecycleManager returns a LifecycleManager for credentialID, backed
// by store for persistence and provider for the OAuth2 grants.
func NewLifecycleManager(store *hive.Store, provider *Provider, credentialID string) *LifecycleManager {
	return &LifecycleManager{store: store, provider: provider, credentialID: credentialID, logger: provider.logger}
}

// GetValidToken returns a request-ready access token for the managed
// credential, refreshing first if the token is within the provider's
// expiration buffer. A refresh failure on an already-expired token is
// fatal; a refresh failure on a still-valid token is logged and the
// cached token is returned instead.
func (m *LifecycleManager) GetValidToken(ctx context.Context) (string, error) {
	cred, found, err := m.store.GetCredential(ctx, m.credentialID, false)
	if err != nil {
		return "", err
	}
	if !found {
		return "", hive.NewError(hive.CredentialNotFound, m.credentialID, "credential not found")
	}

	if !m.provider.ShouldRefresh(cred) {
		return tokenFrom(cred)
	}

	refreshed, err := m.provider.Refresh(ctx, cred)
	if err != nil {
		if cred.NeedsRefresh() {
			return "", err
		}
		m.logger.Warn("lifecycle manager refresh failed, serving cached token",
			zap.String("credential_id", m.credentialID), zap.Error(err))
		return tokenFrom(cred)
	}

	if err := m.store.SaveCredential(ctx, refreshed); err != nil {
		return "", err
	}
	return tokenFrom(refreshed)
}

// AcquireViaClientCredentials performs a cold client-credentials grant for
// the managed credential id and persists the result to the store.
func (m *LifecycleManager) AcquireViaClientCredentials(ctx context.Context, scopes []string) (*hive.CredentialObject, error) {
	cred, err := m.provider.AcquireViaClientCredentials(ctx, m.credentialID, scopes)
	if err != nil {
		return nil, err
	}
	if err := m.store.SaveCredential(ctx, cred); err != nil {
		return nil, err
	}
	return cred, nil
}

func tokenFrom(c *hive.CredentialObject) (string, error) {
	key, ok := c.Key("access_token")
	if !ok {
		return "", hive.NewKeyError(c.ID, "access_token")
	}
	return key.Value.Reveal(), nil
}
