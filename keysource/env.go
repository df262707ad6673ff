// Package keysource implements hive.KeySource, the capability interface
// that supplies the 32-byte master key used by the encrypted file backend.
package keysource

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
)

// DefaultEnvVar is the environment variable the encrypted file backend's
// key is read from when no explicit source is configured.
const DefaultEnvVar = "HIVE_CREDENTIAL_KEY"

// EnvSource acquires the 32-byte master key from (in order): the value
// supplied at construction, the named environment variable, or a freshly
// generated key. A freshly generated key triggers a one-time warning
// naming the environment variable a caller must set to persist access —
// without it, ciphertexts written this run become unreadable after a
// process restart.
type EnvSource struct {
	envVar string
	logger *zap.Logger

	once      sync.Once
	generated [32]byte
	genErr    error
}

// Option configures an EnvSource.
type Option func(*EnvSource)

// WithEnvVar overrides the default HIVE_CREDENTIAL_KEY variable name.
func WithEnvVar(name string) Option {
	return func(s *EnvSource) { s.envVar = name }
}

// WithLogger attaches a logger used for the one-time generated-key warning.
func WithLogger(logger *zap.Logger) Option {
	return func(s *EnvSource) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewEnvSource returns an EnvSource. If explicitKey is non-nil it is used
// verbatim, taking priority over the environment variable.
func NewEnvSource(explicitKey *[32]byte, opts ...Option) *EnvSource {
	s := &EnvSource{envVar: DefaultEnvVar, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if explicitKey != nil {
		s.once.Do(func() { s.generated = *explicitKey })
	}
	return s
}

// Key implements hive.KeySource.
func (s *EnvSource) Key(_ context.Context) ([32]byte, error) {
	s.once.Do(func() {
		if raw, ok := os.LookupEnv(s.envVar); ok {
			key, err := decodeKey(raw)
			if err != nil {
				s.genErr = fmt.Errorf("keysource: decode %s: %w", s.envVar, err)
				return
			}
			s.generated = key
			return
		}
		var key [32]byte
		if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
			s.genErr = fmt.Errorf("keysource: generate key: %w", err)
			return
		}
		s.generated = key
		s.logger.Warn("generated ephemeral credential encryption key",
			zap.String("env_var", s.envVar),
			zap.String("action", "set this environment variable to persist access across restarts"))
	})
	return s.generated, s.genErr
}

// decodeKey accepts either raw 32-byte strings or standard base64.
func decodeKey(raw string) ([32]byte, error) {
	var key [32]byte
	if len(raw) == 32 {
		copy(key[:], raw)
		return key, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return key, fmt.Errorf("key must be 32 raw bytes or base64: %w", err)
	}
	if len(decoded) != 32 {
		return key, fmt.Errorf("decoded key must be 32 bytes, got %d", len(decoded))
	}
	copy(key[:], decoded)
	return key, nil
}
