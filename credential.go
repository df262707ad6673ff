package hive

import (
	"sync"
	"time"
)

// redactedMarker is what a SecretValue prints as via Stringer/GoStringer,
// so secrets never land in logs, %v, or debugger output by accident.
const redactedMarker = "<redacted>"

// SecretValue wraps a secret so that it can only be read through Reveal.
// The zero value is an empty secret.
type SecretValue struct {
	value string
}

// NewSecretValue wraps a plaintext secret value.
func NewSecretValue(v string) SecretValue {
	return SecretValue{value: v}
}

// Reveal returns the wrapped plaintext. This is the one explicit accessor;
// every other code path (String, GoString, MarshalJSON, %v/%s formatting)
// must not leak the value.
func (s SecretValue) Reveal() string {
	return s.value
}

// String implements fmt.Stringer with a fixed redaction marker.
func (s SecretValue) String() string {
	return redactedMarker
}

// GoString implements fmt.GoStringer, covering %#v formatting too.
func (s SecretValue) GoString() string {
	return redactedMarker
}

// MarshalJSON redacts the value by default; storage backends that must
// serialize the real value use Reveal explicitly instead of relying on
// json.Marshal of a SecretValue field.
func (s SecretValue) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redactedMarker + `"`), nil
}

// Metadata is an open, free-form string map attached to credentials and keys.
type Metadata map[string]string

// CredentialKind is the closed set of credential flavors the store models.
type CredentialKind string

// Enumeration of known credential kinds.
const (
	KindAPIKey      CredentialKind = "API_KEY"
	KindOAuth2      CredentialKind = "OAUTH2"
	KindBasicAuth   CredentialKind = "BASIC_AUTH"
	KindBearerToken CredentialKind = "BEARER_TOKEN"
	KindCustom      CredentialKind = "CUSTOM"
)

// CredentialKey is a single named secret slot within a CredentialObject.
type CredentialKey struct {
	Name       string
	Value      SecretValue
	Expiration *time.Time
	Metadata   Metadata
}

// NewCredentialKey returns a non-expiring CredentialKey.
func NewCredentialKey(name, value string) *CredentialKey {
	return &CredentialKey{Name: name, Value: NewSecretValue(value), Metadata: Metadata{}}
}

// WithExpiration sets an absolute expiration instant (UTC) and returns the
// same key, for convenient chaining at construction time.
func (k *CredentialKey) WithExpiration(t time.Time) *CredentialKey {
	u := t.UTC()
	k.Expiration = &u
	return k
}

// IsExpired reports whether the key has an expiration set and the current
// UTC instant is at or past it.
func (k *CredentialKey) IsExpired() bool {
	if k.Expiration == nil {
		return false
	}
	return !time.Now().UTC().Before(*k.Expiration)
}

// IsWithinBuffer reports whether the key's expiration is within buffer of
// now, i.e. due for a provider-level refresh. A key with no expiration is
// never within the buffer.
func (k *CredentialKey) IsWithinBuffer(buffer time.Duration) bool {
	if k.Expiration == nil {
		return false
	}
	return time.Now().UTC().Add(buffer).After(*k.Expiration)
}

// CredentialObject is a named bundle of keys representing access to one
// upstream service.
type CredentialObject struct {
	mu sync.RWMutex

	ID          string
	Kind        CredentialKind
	keys        map[string]*CredentialKey
	keyOrder    []string
	ProviderID  string
	AutoRefresh bool

	LastRefreshed time.Time
	LastUsed      time.Time
	UseCount      int64

	Description string
	Tags        []string
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Metadata Metadata
}

// NewCredentialObject returns an empty CredentialObject of the given kind.
func NewCredentialObject(id string, kind CredentialKind) *CredentialObject {
	now := time.Now().UTC()
	return &CredentialObject{
		ID:        id,
		Kind:      kind,
		keys:      make(map[string]*CredentialKey),
		Metadata:  Metadata{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SetKey inserts or replaces a key, preserving insertion order for keys
// seen for the first time, and advances UpdatedAt.
func (c *CredentialObject) SetKey(key *CredentialKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setKeyLocked(key)
}

func (c *CredentialObject) setKeyLocked(key *CredentialKey) {
	if c.keys == nil {
		c.keys = make(map[string]*CredentialKey)
	}
	if _, exists := c.keys[key.Name]; !exists {
		c.keyOrder = append(c.keyOrder, key.Name)
	}
	c.keys[key.Name] = key
	c.touchLocked()
}

// Key returns the named key and whether it was present.
func (c *CredentialObject) Key(name string) (*CredentialKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	k, ok := c.keys[name]
	return k, ok
}

// Keys returns the keys in insertion order. The returned slice is a copy;
// mutating it does not affect the credential.
func (c *CredentialObject) Keys() []*CredentialKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*CredentialKey, 0, len(c.keyOrder))
	for _, name := range c.keyOrder {
		out = append(out, c.keys[name])
	}
	return out
}

// HasKey reports whether the named key is present.
func (c *CredentialObject) HasKey(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.keys[name]
	return ok
}

// DeleteKey removes the named key, if present.
func (c *CredentialObject) DeleteKey(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.keys[name]; !ok {
		return
	}
	delete(c.keys, name)
	for i, n := range c.keyOrder {
		if n == name {
			c.keyOrder = append(c.keyOrder[:i], c.keyOrder[i+1:]...)
			break
		}
	}
	c.touchLocked()
}

func (c *CredentialObject) touchLocked() {
	now := time.Now().UTC()
	if !now.After(c.UpdatedAt) {
		now = c.UpdatedAt.Add(time.Nanosecond)
	}
	c.UpdatedAt = now
}

// NeedsRefresh reports whether any contained key is expired.
func (c *CredentialObject) NeedsRefresh() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, k := range c.keys {
		if k.IsExpired() {
			return true
		}
	}
	return false
}

// IsWithinBuffer reports whether any contained key is within buffer of its
// expiration. Used by Provider.ShouldRefresh's default policy.
func (c *CredentialObject) IsWithinBuffer(buffer time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, k := range c.keys {
		if k.IsWithinBuffer(buffer) {
			return true
		}
	}
	return false
}

// RecordUse advances the usage counters. Called by the Store whenever a
// credential is handed out for template resolution or direct access.
func (c *CredentialObject) RecordUse() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LastUsed = time.Now().UTC()
	c.UseCount++
}

// CanAutoRefresh reports whether c is refreshable under the OAUTH2
// auto-refresh rule: kind OAUTH2, AutoRefresh set, and a refresh_token key
// present. The presence of an access_token key is not checked.
func (c *CredentialObject) CanAutoRefresh() bool {
	if c.Kind != KindOAuth2 || !c.AutoRefresh {
		return false
	}
	return c.HasKey("refresh_token")
}

// Clone returns a deep copy of the credential, safe to hand to a caller as
// a logical snapshot without exposing the authoritative copy's lock or
// backing map to concurrent mutation from elsewhere.
func (c *CredentialObject) Clone() *CredentialObject {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := &CredentialObject{
		ID:            c.ID,
		Kind:          c.Kind,
		keys:          make(map[string]*CredentialKey, len(c.keys)),
		keyOrder:      append([]string(nil), c.keyOrder...),
		ProviderID:    c.ProviderID,
		AutoRefresh:   c.AutoRefresh,
		LastRefreshed: c.LastRefreshed,
		LastUsed:      c.LastUsed,
		UseCount:      c.UseCount,
		Description:   c.Description,
		Tags:          append([]string(nil), c.Tags...),
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
		Metadata:      cloneMetadata(c.Metadata),
	}
	for name, key := range c.keys {
		kk := *key
		if key.Expiration != nil {
			t := *key.Expiration
			kk.Expiration = &t
		}
		kk.Metadata = cloneMetadata(key.Metadata)
		out.keys[name] = &kk
	}
	return out
}

func cloneMetadata(m Metadata) Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
