// Package envvar implements a read-only hive.StorageBackend that maps
// credential identifiers to environment variables, with an optional
// .env-style file as a fallback source. Parsing the .env file's grammar
// itself is left to github.com/joho/godotenv rather than reimplemented
// here.
package envvar

import (
	"context"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/yujiajie1988/hive"
)

// New returns a read-only hive.StorageBackend. mapping gives an explicit
// credential id -> environment variable name for ids that don't follow the
// <UPPERCASE_ID>_API_KEY convention; it may be nil or partial.
func New(mapping map[string]string, opts ...Option) hive.StorageBackend {
	b := &backend{mapping: mapping}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Option configures a backend.
type Option func(*backend)

// WithDotEnvFile configures an optional .env-style file consulted when the
// variable is absent from the process environment. Precedence is process
// environment first, file second; the file is re-read on every lookup
// rather than cached, so edits to it take effect without restarting the
// process.
func WithDotEnvFile(path string) Option {
	return func(b *backend) { b.dotEnvPath = path }
}

type backend struct {
	mapping    map[string]string
	dotEnvPath string
}

// Writable implements hive.StorageBackend: always false.
func (b *backend) Writable() bool { return false }

// Save implements hive.StorageBackend: always fails, read-only.
func (b *backend) Save(_ context.Context, c *hive.CredentialObject) error {
	return hive.NewError(hive.ValidationFailure, c.ID, "environment-variable backend is read-only")
}

// Delete implements hive.StorageBackend: always fails, read-only.
func (b *backend) Delete(_ context.Context, id string) (bool, error) {
	return false, hive.NewError(hive.ValidationFailure, id, "environment-variable backend is read-only")
}

// envVarName returns the environment variable id maps to: the explicit
// mapping entry if present, else <UPPERCASE_ID>_API_KEY.
func (b *backend) envVarName(id string) string {
	if b.mapping != nil {
		if name, ok := b.mapping[id]; ok {
			return name
		}
	}
	return strings.ToUpper(id) + "_API_KEY"
}

// lookup resolves the environment variable for id: process environment
// first, then the optional .env file, re-read fresh each call.
func (b *backend) lookup(id string) (string, bool) {
	name := b.envVarName(id)
	if v, ok := os.LookupEnv(name); ok {
		return v, true
	}
	if b.dotEnvPath == "" {
		return "", false
	}
	values, err := godotenv.Read(b.dotEnvPath)
	if err != nil {
		return "", false
	}
	v, ok := values[name]
	return v, ok
}

// Load implements hive.StorageBackend: constructs a single-key API_KEY
// credential with key "api_key" from the resolved environment value.
func (b *backend) Load(_ context.Context, id string) (*hive.CredentialObject, bool, error) {
	value, ok := b.lookup(id)
	if !ok {
		return nil, false, nil
	}
	c := hive.NewCredentialObject(id, hive.KindAPIKey)
	c.SetKey(hive.NewCredentialKey("api_key", value))
	return c, true, nil
}

// Exists implements hive.StorageBackend.
func (b *backend) Exists(_ context.Context, id string) (bool, error) {
	_, ok := b.lookup(id)
	return ok, nil
}

// List implements hive.StorageBackend: returns the ids with an explicit
// mapping entry that currently resolve. Ids relying only on the
// <UPPERCASE_ID>_API_KEY convention are not enumerable without a known id
// to check, so they are omitted; Load/Exists still work for them.
func (b *backend) List(_ context.Context) ([]string, error) {
	var ids []string
	for id := range b.mapping {
		if _, ok := b.lookup(id); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
