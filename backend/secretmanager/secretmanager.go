// Package secretmanager implements hive.StorageBackend on top of a
// versioned key-value secret engine reachable over HTTPS (a HashiCorp
// Vault KV v2 mount, or anything wire-compatible with it). It is a thin
// typed wrapper around a vendor API client, with the same option-func
// configuration style used elsewhere in this module, generalized from AWS
// Secrets Manager to Vault using github.com/hashicorp/vault/api, the
// ecosystem's idiomatic client for this wire protocol.
package secretmanager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/yujiajie1988/hive"
)

// DefaultTokenEnvVar is consulted when no bearer token is supplied to New.
const DefaultTokenEnvVar = "VAULT_TOKEN"

// reserved key prefixes used to flatten credential metadata alongside key
// values in the engine's flat string map.
const (
	fieldType       = "_type"
	fieldProviderID = "_provider_id"
	fieldAutoRefr   = "_auto_refresh"
	expiresPrefix   = "_expires_"
)

// New returns a hive.StorageBackend talking to the KV v2 engine mounted at
// mountPoint, namespacing every credential under pathPrefix. If token is
// empty, DefaultTokenEnvVar is consulted.
func New(baseURL, token, mountPoint, pathPrefix, namespace string) (hive.StorageBackend, error) {
	if token == "" {
		token = os.Getenv(DefaultTokenEnvVar)
	}
	cfg := vaultapi.DefaultConfig()
	cfg.Address = strings.TrimRight(baseURL, "/")
	client, err := vaultapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("secretmanager: create client: %w", err)
	}
	client.SetToken(token)
	if namespace != "" {
		client.SetNamespace(namespace)
	}
	if mountPoint == "" {
		mountPoint = "secret"
	}
	return &backend{client: client, mount: mountPoint, prefix: strings.Trim(pathPrefix, "/")}, nil
}

type backend struct {
	client *vaultapi.Client
	mount  string
	prefix string
}

// Writable implements hive.StorageBackend.
func (b *backend) Writable() bool { return true }

func (b *backend) path(id string) string {
	if b.prefix == "" {
		return id
	}
	return b.prefix + "/" + id
}

// Save implements hive.StorageBackend.
func (b *backend) Save(ctx context.Context, c *hive.CredentialObject) error {
	data := map[string]interface{}{
		fieldType:       string(c.Kind),
		fieldProviderID: c.ProviderID,
		fieldAutoRefr:   strconv.FormatBool(c.AutoRefresh),
	}
	for _, k := range c.Keys() {
		data[k.Name] = k.Value.Reveal()
		if k.Expiration != nil {
			data[expiresPrefix+k.Name] = k.Expiration.UTC().Format(time.RFC3339)
		}
	}
	kv := b.client.KVv2(b.mount)
	if _, err := kv.Put(ctx, b.path(c.ID), data); err != nil {
		return classifyError(c.ID, err)
	}
	return nil
}

// Load implements hive.StorageBackend. A 404 is absence, not an error;
// a 401 surfaces as ValidationFailure; any other failure surfaces as
// BackendUnavailable.
func (b *backend) Load(ctx context.Context, id string) (*hive.CredentialObject, bool, error) {
	kv := b.client.KVv2(b.mount)
	secret, err := kv.Get(ctx, b.path(id))
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, classifyError(id, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, false, nil
	}
	return parseRecord(id, secret.Data), true, nil
}

func parseRecord(id string, data map[string]interface{}) *hive.CredentialObject {
	kind := hive.CredentialKind(stringField(data, fieldType))
	c := hive.NewCredentialObject(id, kind)
	c.ProviderID = stringField(data, fieldProviderID)
	c.AutoRefresh = stringField(data, fieldAutoRefr) == "true"

	expirations := make(map[string]time.Time)
	for k, v := range data {
		if strings.HasPrefix(k, expiresPrefix) {
			name := strings.TrimPrefix(k, expiresPrefix)
			if s, ok := v.(string); ok {
				if t, err := time.Parse(time.RFC3339, s); err == nil {
					expirations[name] = t
				}
			}
		}
	}
	for k, v := range data {
		if k == fieldType || k == fieldProviderID || k == fieldAutoRefr {
			continue
		}
		if strings.HasPrefix(k, expiresPrefix) {
			continue
		}
		s, ok := v.(string)
		if !ok {
			s = fmt.Sprintf("%v", v)
		}
		key := hive.NewCredentialKey(k, s)
		if exp, ok := expirations[k]; ok {
			key.WithExpiration(exp)
		}
		c.SetKey(key)
	}
	return c
}

func stringField(data map[string]interface{}, key string) string {
	v, ok := data[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Delete implements hive.StorageBackend.
func (b *backend) Delete(ctx context.Context, id string) (bool, error) {
	kv := b.client.KVv2(b.mount)
	if err := kv.DeleteMetadata(ctx, b.path(id)); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, classifyError(id, err)
	}
	return true, nil
}

// Exists implements hive.StorageBackend.
func (b *backend) Exists(ctx context.Context, id string) (bool, error) {
	_, found, err := b.Load(ctx, id)
	return found, err
}

// List implements hive.StorageBackend, using the KV v2 metadata LIST
// operation scoped to pathPrefix.
func (b *backend) List(ctx context.Context) ([]string, error) {
	listPath := fmt.Sprintf("%s/metadata/%s", b.mount, b.prefix)
	secret, err := b.client.Logical().ListWithContext(ctx, listPath)
	if err != nil {
		return nil, classifyError("", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}
	raw, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return nil, nil
	}
	ids := make([]string, 0, len(raw))
	for _, k := range raw {
		if s, ok := k.(string); ok {
			ids = append(ids, strings.TrimSuffix(s, "/"))
		}
	}
	return ids, nil
}

// classifyError maps a vault API error to the store's error taxonomy: 401
// to ValidationFailure, everything else to BackendUnavailable (network
// failures, 5xx, malformed responses).
func classifyError(id string, err error) error {
	var respErr *vaultapi.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == 401 {
		return hive.NewError(hive.ValidationFailure, id, "unauthorized: %s", err)
	}
	return hive.Wrap(hive.BackendUnavailable, id, err)
}

func isNotFound(err error) bool {
	if errors.Is(err, vaultapi.ErrSecretNotFound) {
		return true
	}
	var respErr *vaultapi.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == 404
	}
	return false
}
