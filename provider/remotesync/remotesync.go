// Package remotesync implements hive.Provider by delegating credential
// lifecycle decisions to a remote HTTPS secret manager: refresh, validate
// and revoke are all server-side operations reached over a small JSON API,
// authenticated with a bearer agent key. It is a provider struct wrapping
// one plain HTTP client, configured through a Config struct, with bounded
// retry supplied by github.com/cenkalti/backoff/v5.
package remotesync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/yujiajie1988/hive"
)

// ID is the stable provider identifier bound via CredentialObject.ProviderID.
const ID = "remote_sync"

// Config configures a Provider.
type Config struct {
	BaseURL     string
	AgentKey    string
	Namespace   string
	HTTPClient  *http.Client
	MaxRetries  uint
	Logger      *zap.Logger
}

// Provider implements hive.Provider against a remote secret manager API.
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New returns a Provider.
func New(cfg Config) *Provider {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{cfg: cfg, client: client, logger: logger}
}

// ProviderID implements hive.Provider.
func (p *Provider) ProviderID() string { return ID }

// SupportedKinds implements hive.Provider. The remote manager is treated
// as authoritative over any kind it's been bound to.
func (p *Provider) SupportedKinds() []hive.CredentialKind {
	return []hive.CredentialKind{hive.KindAPIKey, hive.KindOAuth2, hive.KindBasicAuth, hive.KindBearerToken, hive.KindCustom}
}

// ShouldRefresh implements hive.Provider.
func (p *Provider) ShouldRefresh(c *hive.CredentialObject) bool {
	return c.NeedsRefresh() || c.IsWithinBuffer(hive.DefaultRefreshBuffer)
}

type remoteCredential struct {
	ID                      string            `json:"id"`
	Keys                    map[string]string `json:"keys"`
	Expirations             map[string]string `json:"expirations"`
	RequiresReauthorization bool              `json:"requires_reauthorization"`
	ReauthURL               string            `json:"reauth_url"`
}

// Refresh implements hive.Provider: POSTs /credentials/<id>/refresh and
// applies the server's response. Transient failures (connection errors,
// 5xx) are retried with bounded backoff; a still-valid cached credential
// is returned on exhaustion instead of propagating the error, while an
// already-expired credential's failure propagates.
func (p *Provider) Refresh(ctx context.Context, c *hive.CredentialObject) (*hive.CredentialObject, error) {
	remote, err := p.doWithRetry(ctx, func() (*remoteCredential, error) {
		return p.post(ctx, fmt.Sprintf("/credentials/%s/refresh", c.ID), c.ID)
	})
	if err != nil {
		if c.NeedsRefresh() {
			return nil, err
		}
		p.logger.Warn("remote sync refresh degraded to cached credential", zap.String("credential_id", c.ID), zap.Error(err))
		return c.Clone(), nil
	}
	if remote.RequiresReauthorization {
		return nil, &hive.Error{
			Kind:         hive.ReauthorizationRequired,
			CredentialID: c.ID,
			ReauthURL:    remote.ReauthURL,
			Reason:       "remote secret manager requires reauthorization",
		}
	}
	return applyRemote(c, remote), nil
}

// Validate implements hive.Provider: GETs /credentials/<id>/validate.
func (p *Provider) Validate(ctx context.Context, c *hive.CredentialObject) (bool, error) {
	var out struct {
		Valid bool `json:"valid"`
	}
	if err := p.getInto(ctx, fmt.Sprintf("/credentials/%s/validate", c.ID), c.ID, &out); err != nil {
		return false, err
	}
	return out.Valid, nil
}

// Revoke implements hive.Provider.
func (p *Provider) Revoke(ctx context.Context, c *hive.CredentialObject) (bool, error) {
	req, err := p.newRequest(ctx, http.MethodDelete, fmt.Sprintf("/credentials/%s", c.ID), nil)
	if err != nil {
		return false, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false, hive.Wrap(hive.BackendUnavailable, c.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode >= 400 {
		return false, classifyStatus(c.ID, resp)
	}
	return true, nil
}

// Sync fetches the authoritative state for id from the remote manager
// without mutating it, for callers that want a read-through refresh of
// the store's cache outside the normal ShouldRefresh lifecycle.
func (p *Provider) Sync(ctx context.Context, id string) (*hive.CredentialObject, bool, error) {
	remote, err := p.doWithRetry(ctx, func() (*remoteCredential, error) {
		return p.get(ctx, fmt.Sprintf("/credentials/%s", id), id)
	})
	if err != nil {
		if kind, ok := hive.KindOf(err); ok && kind == hive.CredentialNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	return applyRemote(hive.NewCredentialObject(id, hive.KindCustom), remote), true, nil
}

func applyRemote(c *hive.CredentialObject, remote *remoteCredential) *hive.CredentialObject {
	for name, value := range remote.Keys {
		key := hive.NewCredentialKey(name, value)
		if raw, ok := remote.Expirations[name]; ok {
			if t, err := time.Parse(time.RFC3339, raw); err == nil {
				key.WithExpiration(t)
			}
		}
		c.SetKey(key)
	}
	c.ProviderID = ID
	c.LastRefreshed = time.Now().UTC()
	return c
}

func (p *Provider) post(ctx context.Context, path, credentialID string) (*remoteCredential, error) {
	req, err := p.newRequest(ctx, http.MethodPost, path, nil)
	if err != nil {
		return nil, err
	}
	return p.doRequest(req, credentialID)
}

func (p *Provider) get(ctx context.Context, path, credentialID string) (*remoteCredential, error) {
	req, err := p.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return p.doRequest(req, credentialID)
}

func (p *Provider) getInto(ctx context.Context, path, credentialID string, out interface{}) error {
	req, err := p.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return hive.Wrap(hive.BackendUnavailable, credentialID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return classifyStatus(credentialID, resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (p *Provider) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("remotesync: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.AgentKey)
	req.Header.Set("Accept", "application/json")
	if p.cfg.Namespace != "" {
		req.Header.Set("X-Namespace", p.cfg.Namespace)
	}
	return req, nil
}

func (p *Provider) doRequest(req *http.Request, credentialID string) (*remoteCredential, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, hive.Wrap(hive.BackendUnavailable, credentialID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, classifyStatus(credentialID, resp)
	}
	var remote remoteCredential
	if err := json.NewDecoder(resp.Body).Decode(&remote); err != nil {
		return nil, hive.Wrap(hive.BackendUnavailable, credentialID, err)
	}
	return &remote, nil
}

// doWithRetry wraps a single remote call with bounded exponential backoff,
// retrying only on BackendUnavailable (transient) failures; rate limiting,
// reauthorization and not-found all stop the retry loop immediately.
func (p *Provider) doWithRetry(ctx context.Context, fn func() (*remoteCredential, error)) (*remoteCredential, error) {
	return backoff.Retry(ctx, func() (*remoteCredential, error) {
		remote, err := fn()
		if err == nil {
			return remote, nil
		}
		kind, _ := hive.KindOf(err)
		if kind == hive.BackendUnavailable {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}, backoff.WithMaxTries(p.cfg.MaxRetries))
}

func classifyStatus(credentialID string, resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusNotFound:
		return hive.NewError(hive.CredentialNotFound, credentialID, "not found in remote secret manager")
	case http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return &hive.Error{Kind: hive.RateLimited, CredentialID: credentialID, RetryAfter: retryAfter, Reason: "remote secret manager rate limit"}
	case http.StatusUnauthorized, http.StatusForbidden:
		return hive.NewError(hive.ValidationFailure, credentialID, "remote secret manager rejected credentials: %s", resp.Status)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return hive.NewError(hive.BackendUnavailable, credentialID, "remote secret manager returned %s: %s", resp.Status, string(bytes.TrimSpace(body)))
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}
