package envvar_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yujiajie1988/hive"
	"github.com/yujiajie1988/hive/backend/envvar"
)

func TestEnvvarBackendIsReadOnly(t *testing.T) {
	backend := envvar.New(nil)
	assert.False(t, backend.Writable())

	err := backend.Save(context.Background(), hive.NewCredentialObject("svc", hive.KindAPIKey))
	require.Error(t, err)
	kind, _ := hive.KindOf(err)
	assert.Equal(t, hive.ValidationFailure, kind)

	_, err = backend.Delete(context.Background(), "svc")
	require.Error(t, err)
}

func TestEnvvarBackendLoadsFromConventionFallback(t *testing.T) {
	t.Setenv("GITHUB_API_KEY", "ghp_from_env")
	backend := envvar.New(nil)

	cred, found, err := backend.Load(context.Background(), "github")
	require.NoError(t, err)
	require.True(t, found)
	key, ok := cred.Key("api_key")
	require.True(t, ok)
	assert.Equal(t, "ghp_from_env", key.Value.Reveal())
}

func TestEnvvarBackendLoadsFromExplicitMapping(t *testing.T) {
	t.Setenv("CUSTOM_ENV_NAME", "mapped-value")
	backend := envvar.New(map[string]string{"svc": "CUSTOM_ENV_NAME"})

	cred, found, err := backend.Load(context.Background(), "svc")
	require.NoError(t, err)
	require.True(t, found)
	key, _ := cred.Key("api_key")
	assert.Equal(t, "mapped-value", key.Value.Reveal())
}

func TestEnvvarBackendProcessEnvTakesPrecedenceOverDotEnv(t *testing.T) {
	dir := t.TempDir()
	dotenvPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(dotenvPath, []byte("SVC_API_KEY=from-file\n"), 0o600))

	t.Setenv("SVC_API_KEY", "from-process-env")
	backend := envvar.New(nil, envvar.WithDotEnvFile(dotenvPath))

	cred, found, err := backend.Load(context.Background(), "svc")
	require.NoError(t, err)
	require.True(t, found)
	key, _ := cred.Key("api_key")
	assert.Equal(t, "from-process-env", key.Value.Reveal())
}

func TestEnvvarBackendFallsBackToDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	dotenvPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(dotenvPath, []byte("SVC_API_KEY=from-file\n"), 0o600))

	backend := envvar.New(nil, envvar.WithDotEnvFile(dotenvPath))

	cred, found, err := backend.Load(context.Background(), "svc")
	require.NoError(t, err)
	require.True(t, found)
	key, _ := cred.Key("api_key")
	assert.Equal(t, "from-file", key.Value.Reveal())
}

func TestEnvvarBackendMissingReturnsNotFound(t *testing.T) {
	backend := envvar.New(nil)
	_, found, err := backend.Load(context.Background(), "definitely-not-set-xyz")
	require.NoError(t, err)
	assert.False(t, found)
}
