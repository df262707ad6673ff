// Package oauth2 implements hive.Provider for OAUTH2 and BEARER_TOKEN
// credentials, acquiring and refreshing access tokens against a standard
// OAuth2 token endpoint via golang.org/x/oauth2. It generalizes the same
// ProviderID-keyed lifecycle-authority-wrapping-a-vendor-SDK shape used
// elsewhere in this module to the OAuth2 client-credentials and
// refresh-token grants.
package oauth2

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	xoauth2 "golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/yujiajie1988/hive"
)

// ID is the stable provider identifier bound via CredentialObject.ProviderID.
const ID = "oauth2"

// TokenPlacement controls where an OAuth2 access token is placed on
// outbound requests, independent of the store's {{cred.key}} usage-spec
// templates — this is the provider's own opinion about standard OAuth2
// transport, which a tool's usage spec may still override.
type TokenPlacement string

// Enumeration of supported token placements.
const (
	HeaderBearer TokenPlacement = "HEADER_BEARER"
	HeaderCustom TokenPlacement = "HEADER_CUSTOM"
	QueryParam   TokenPlacement = "QUERY_PARAM"
)

// expirationBuffer mirrors hive.DefaultRefreshBuffer: a token within this
// window of its expiration is considered due for refresh.
const expirationBuffer = hive.DefaultRefreshBuffer

// Config configures a Provider instance. TokenURL, ClientID and
// ClientSecret are required; everything else has a workable zero value.
type Config struct {
	TokenURL        string
	ClientID        string
	ClientSecret    string
	DefaultScopes   []string
	TokenPlacement  TokenPlacement
	CustomHeader    string
	RequestTimeout  time.Duration
	ExtraParams     map[string]string
	Logger          *zap.Logger
	HTTPClient      *http.Client
}

// Provider implements hive.Provider for KindOAuth2 and KindBearerToken
// credentials.
type Provider struct {
	cfg    Config
	logger *zap.Logger
}

// New returns a Provider. Config zero values are filled with sensible
// defaults: HEADER_BEARER placement and a 30 second request timeout.
func New(cfg Config) *Provider {
	if cfg.TokenPlacement == "" {
		cfg.TokenPlacement = HeaderBearer
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{cfg: cfg, logger: logger}
}

// ProviderID implements hive.Provider.
func (p *Provider) ProviderID() string { return ID }

// SupportedKinds implements hive.Provider.
func (p *Provider) SupportedKinds() []hive.CredentialKind {
	return []hive.CredentialKind{hive.KindOAuth2, hive.KindBearerToken}
}

func (p *Provider) httpContext(ctx context.Context) context.Context {
	client := p.cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: p.cfg.RequestTimeout}
	}
	return xoauth2.HTTPClient.WithContext(ctx, client)
}

// ShouldRefresh implements hive.Provider: true when the access_token key is
// within the refresh buffer of expiring, or already expired.
func (p *Provider) ShouldRefresh(c *hive.CredentialObject) bool {
	key, ok := c.Key("access_token")
	if !ok {
		return true
	}
	return key.IsExpired() || key.IsWithinBuffer(expirationBuffer)
}

// Validate implements hive.Provider: true iff an unexpired access_token is
// present. This performs no network call, matching the side-effect-free
// contract.
func (p *Provider) Validate(_ context.Context, c *hive.CredentialObject) (bool, error) {
	key, ok := c.Key("access_token")
	if !ok {
		return false, nil
	}
	return !key.IsExpired(), nil
}

// Revoke implements hive.Provider. Standard OAuth2 has no universal
// revocation endpoint, so this provider does not support it.
func (p *Provider) Revoke(_ context.Context, _ *hive.CredentialObject) (bool, error) {
	return false, nil
}

// Refresh implements hive.Provider: reads the refresh_token key and
// invokes the refresh-token grant, unconditionally on credential kind. A
// credential with no refresh_token has no refresh path — a fresh token
// must instead be acquired cold via AcquireViaClientCredentials. A failed
// grant is returned as an error when a key has already expired; otherwise
// it is logged and c is returned unchanged.
func (p *Provider) Refresh(ctx context.Context, c *hive.CredentialObject) (*hive.CredentialObject, error) {
	ctx = p.httpContext(ctx)

	rt, ok := c.Key("refresh_token")
	if !ok {
		return nil, hive.NewError(hive.CredentialRefreshError, c.ID, "credential has no refresh_token and is not eligible for refresh")
	}
	return p.refreshWithToken(ctx, c, rt.Value.Reveal())
}

// AcquireViaClientCredentials runs the client-credentials grant for a fresh
// credential, the entry point a caller uses before any token exists yet.
func (p *Provider) AcquireViaClientCredentials(ctx context.Context, id string, scopes []string) (*hive.CredentialObject, error) {
	c := hive.NewCredentialObject(id, hive.KindOAuth2)
	c.ProviderID = ID
	return p.acquireClientCredentials(p.httpContext(ctx), c, scopes)
}

func (p *Provider) acquireClientCredentials(ctx context.Context, c *hive.CredentialObject, scopes []string) (*hive.CredentialObject, error) {
	if len(scopes) == 0 {
		scopes = p.cfg.DefaultScopes
	}
	ccCfg := &clientcredentials.Config{
		ClientID:       p.cfg.ClientID,
		ClientSecret:   p.cfg.ClientSecret,
		TokenURL:       p.cfg.TokenURL,
		Scopes:         scopes,
		EndpointParams: toValues(p.cfg.ExtraParams),
	}
	tok, err := ccCfg.Token(ctx)
	if err != nil {
		return nil, hive.NewError(hive.CredentialRefreshError, c.ID, "client credentials grant: %s", err)
	}
	return p.applyToken(c, tok, scopes), nil
}

func (p *Provider) refreshWithToken(ctx context.Context, c *hive.CredentialObject, refreshToken string) (*hive.CredentialObject, error) {
	baseCfg := &xoauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		Endpoint:     xoauth2.Endpoint{TokenURL: p.cfg.TokenURL},
	}
	source := baseCfg.TokenSource(ctx, &xoauth2.Token{RefreshToken: refreshToken})
	tok, err := source.Token()
	if err != nil {
		if c.NeedsRefresh() {
			return nil, hive.NewError(hive.CredentialRefreshError, c.ID, "refresh token grant: %s", err)
		}
		p.logger.Warn("oauth2 refresh failed, keeping cached token", zap.String("credential_id", c.ID), zap.Error(err))
		return c, nil
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return p.applyToken(c, tok, nil), nil
}

// applyToken writes an oauth2.Token's fields back onto the credential,
// rotating refresh_token only when the server issued a new one, and
// advancing LastRefreshed.
func (p *Provider) applyToken(c *hive.CredentialObject, tok *xoauth2.Token, scopes []string) *hive.CredentialObject {
	accessKey := hive.NewCredentialKey("access_token", tok.AccessToken)
	if !tok.Expiry.IsZero() {
		accessKey.WithExpiration(tok.Expiry)
	}
	c.SetKey(accessKey)

	if tok.RefreshToken != "" {
		c.SetKey(hive.NewCredentialKey("refresh_token", tok.RefreshToken))
	}
	if tok.TokenType != "" {
		c.SetKey(hive.NewCredentialKey("token_type", tok.TokenType))
	}
	if len(scopes) > 0 {
		c.Metadata["scope"] = joinScopes(scopes)
	}
	c.LastRefreshed = time.Now().UTC()
	return c
}

// ApplyPlacement returns the header or query-parameter map this provider's
// configured TokenPlacement would use to carry c's access_token on an
// outbound request, for callers that bypass the usage-spec template
// mechanism and want the provider's own transport opinion instead.
func (p *Provider) ApplyPlacement(c *hive.CredentialObject) (headers map[string]string, query map[string]string, err error) {
	key, ok := c.Key("access_token")
	if !ok {
		return nil, nil, hive.NewKeyError(c.ID, "access_token")
	}
	token := key.Value.Reveal()
	switch p.cfg.TokenPlacement {
	case HeaderCustom:
		if p.cfg.CustomHeader == "" {
			return nil, nil, hive.NewError(hive.ValidationFailure, c.ID, "custom_header_name is required for HEADER_CUSTOM placement")
		}
		return map[string]string{p.cfg.CustomHeader: token}, nil, nil
	case QueryParam:
		return nil, map[string]string{"access_token": token}, nil
	default:
		return map[string]string{"Authorization": fmt.Sprintf("Bearer %s", token)}, nil, nil
	}
}

func toValues(params map[string]string) map[string][]string {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string][]string, len(params))
	for k, v := range params {
		out[k] = []string{v}
	}
	return out
}

func joinScopes(scopes []string) string {
	out := ""
	for i, s := range scopes {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}

