package remotesync_test

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
	"github.com/yujiajie1988/hive/provider/remotesync"
)

func pastTime() time.Time   { return time.Now().Add(-time.Minute) }
func futureTime() time.Time { return time.Now().Add(time.Hour) }

func TestRemoteSyncRefreshAppliesServerResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer agent-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":   "svc",
			"keys": map[string]string{"api_key": "fresh-value"},
		})
	}))
	defer srv.Close()

	p := remotesync.New(remotesync.Config{BaseURL: srv.URL, AgentKey: "agent-key"})
	c := hive.NewCredentialObject("svc", hive.KindAPIKey)

	refreshed, err := p.Refresh(context.Background(), c)
	require.NoError(t, err)
	key, ok := refreshed.Key("api_key")
	require.True(t, ok)
	assert.Equal(t, "fresh-value", key.Value.Reveal())
}

func TestRemoteSyncReauthorizationRequired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":                       "svc",
			"requires_reauthorization": true,
			"reauth_url":               "https://example.com/reauth",
		})
	}))
	defer srv.Close()

	p := remotesync.New(remotesync.Config{BaseURL: srv.URL, AgentKey: "k"})
	c := hive.NewCredentialObject("svc", hive.KindOAuth2)

	_, err := p.Refresh(context.Background(), c)
	require.Error(t, err)
	kind, ok := hive.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, hive.ReauthorizationRequired, kind)

	var hiveErr *hive.Error
	require.ErrorAs(t, err, &hiveErr)
	assert.Equal(t, "https://example.com/reauth", hiveErr.ReauthURL)
}

func TestRemoteSyncRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := remotesync.New(remotesync.Config{BaseURL: srv.URL, AgentKey: "k", MaxRetries: 1})
	c := hive.NewCredentialObject("svc", hive.KindAPIKey)
	c.SetKey(hive.NewCredentialKey("api_key", "expired").WithExpiration(pastTime()))

	_, err := p.Refresh(context.Background(), c)
	require.Error(t, err)
	kind, _ := hive.KindOf(err)
	assert.Equal(t, hive.RateLimited, kind)
}

func TestRemoteSyncBackendUnavailableDegradesToCachedValidCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := remotesync.New(remotesync.Config{BaseURL: srv.URL, AgentKey: "k", MaxRetries: 1})
	c := hive.NewCredentialObject("svc", hive.KindAPIKey)
	c.SetKey(hive.NewCredentialKey("api_key", "still-good").WithExpiration(futureTime()))

	refreshed, err := p.Refresh(context.Background(), c)
	require.NoError(t, err)
	key, _ := refreshed.Key("api_key")
	assert.Equal(t, "still-good", key.Value.Reveal())
}

func TestRemoteSyncBackendUnavailablePropagatesForExpiredCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := remotesync.New(remotesync.Config{BaseURL: srv.URL, AgentKey: "k", MaxRetries: 1})
	c := hive.NewCredentialObject("svc", hive.KindAPIKey)
	c.SetKey(hive.NewCredentialKey("api_key", "expired").WithExpiration(pastTime()))

	_, err := p.Refresh(context.Background(), c)
	require.Error(t, err)
	kind, _ := hive.KindOf(err)
	assert.Equal(t, hive.BackendUnavailable, kind)
}

func TestRemoteSyncValidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"valid": true})
	}))
	defer srv.Close()

	p := remotesync.New(remotesync.Config{BaseURL: srv.URL, AgentKey: "k"})
	ok, err := p.Validate(context.Background(), hive.NewCredentialObject("svc", hive.KindAPIKey))
	require.NoError(t, err)
	assert.True(t, ok)
}
