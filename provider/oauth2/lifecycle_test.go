package oauth2_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yujiajie1988/hive"
	"github.com/yujiajie1988/hive/backend/memory"
	"github.com/yujiajie1988/hive/provider/oauth2"
)

func TestLifecycleManagerAcquireViaClientCredentialsPersistsToStore(t *testing.T) {
	srv := tokenServer(t, map[string]interface{}{
		"access_token": "at-cold",
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
	defer srv.Close()

	p := oauth2.New(oauth2.Config{TokenURL: srv.URL, ClientID: "a", ClientSecret: "b"})
	backend := memory.New()
	store := hive.NewStore(backend, hive.WithProviders(p))
	mgr := oauth2.NewLifecycleManager(store, p, "svc")

	cred, err := mgr.AcquireViaClientCredentials(context.Background(), []string{"read"})
	require.NoError(t, err)
	key, ok := cred.Key("access_token")
	require.True(t, ok)
	assert.Equal(t, "at-cold", key.Value.Reveal())

	persisted, found, err := backend.Load(context.Background(), "svc")
	require.NoError(t, err)
	require.True(t, found)
	persistedKey, ok := persisted.Key("access_token")
	require.True(t, ok)
	assert.Equal(t, "at-cold", persistedKey.Value.Reveal())
}

func TestLifecycleManagerGetValidTokenReturnsCachedTokenWithoutRefresh(t *testing.T) {
	p := oauth2.New(oauth2.Config{TokenURL: "https://example.invalid", ClientID: "a", ClientSecret: "b"})
	backend := memory.New()
	store := hive.NewStore(backend, hive.WithProviders(p))

	cred := hive.NewCredentialObject("svc", hive.KindOAuth2)
	cred.ProviderID = oauth2.ID
	cred.SetKey(hive.NewCredentialKey("access_token", "still-good").WithExpiration(time.Now().Add(time.Hour)))
	require.NoError(t, store.SaveCredential(context.Background(), cred))

	mgr := oauth2.NewLifecycleManager(store, p, "svc")
	token, err := mgr.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "still-good", token)
}

func TestLifecycleManagerGetValidTokenRefreshesAndPersists(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "refreshed-token",
			"refresh_token": "refreshed-refresh",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	defer srv.Close()

	p := oauth2.New(oauth2.Config{TokenURL: srv.URL, ClientID: "a", ClientSecret: "b"})
	backend := memory.New()
	store := hive.NewStore(backend, hive.WithProviders(p))

	cred := hive.NewCredentialObject("svc", hive.KindOAuth2)
	cred.ProviderID = oauth2.ID
	cred.SetKey(hive.NewCredentialKey("access_token", "stale").WithExpiration(time.Now().Add(-time.Minute)))
	cred.SetKey(hive.NewCredentialKey("refresh_token", "old-refresh"))
	require.NoError(t, store.SaveCredential(context.Background(), cred))

	mgr := oauth2.NewLifecycleManager(store, p, "svc")
	token, err := mgr.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refreshed-token", token)
	assert.Equal(t, 1, hits)

	persisted, found, err := backend.Load(context.Background(), "svc")
	require.NoError(t, err)
	require.True(t, found)
	key, ok := persisted.Key("access_token")
	require.True(t, ok)
	assert.Equal(t, "refreshed-token", key.Value.Reveal())
}

func TestLifecycleManagerGetValidTokenFatalOnExpiredRefreshFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_grant", http.StatusBadRequest)
	}))
	defer srv.Close()

	p := oauth2.New(oauth2.Config{TokenURL: srv.URL, ClientID: "a", ClientSecret: "b"})
	backend := memory.New()
	store := hive.NewStore(backend, hive.WithProviders(p))

	cred := hive.NewCredentialObject("svc", hive.KindOAuth2)
	cred.ProviderID = oauth2.ID
	cred.SetKey(hive.NewCredentialKey("access_token", "expired").WithExpiration(time.Now().Add(-time.Minute)))
	cred.SetKey(hive.NewCredentialKey("refresh_token", "old-refresh"))
	require.NoError(t, store.SaveCredential(context.Background(), cred))

	mgr := oauth2.NewLifecycleManager(store, p, "svc")
	_, err := mgr.GetValidToken(context.Background())
	require.Error(t, err)
}
