package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yujiajie1988/hive"
	"github.com/yujiajie1988/hive/backend/memory"
)

func TestMemoryBackendSaveLoadRoundTrip(t *testing.T) {
	backend := memory.New()
	cred := hive.NewCredentialObject("svc", hive.KindAPIKey)
	cred.SetKey(hive.NewCredentialKey("api_key", "v"))

	require.NoError(t, backend.Save(context.Background(), cred))

	loaded, found, err := backend.Load(context.Background(), "svc")
	require.NoError(t, err)
	require.True(t, found)
	key, _ := loaded.Key("api_key")
	assert.Equal(t, "v", key.Value.Reveal())
}

func TestMemoryBackendLoadReturnsIndependentClone(t *testing.T) {
	backend := memory.New()
	cred := hive.NewCredentialObject("svc", hive.KindAPIKey)
	cred.SetKey(hive.NewCredentialKey("api_key", "original"))
	require.NoError(t, backend.Save(context.Background(), cred))

	loaded, _, err := backend.Load(context.Background(), "svc")
	require.NoError(t, err)
	loaded.SetKey(hive.NewCredentialKey("api_key", "mutated"))

	reloaded, _, err := backend.Load(context.Background(), "svc")
	require.NoError(t, err)
	key, _ := reloaded.Key("api_key")
	assert.Equal(t, "original", key.Value.Reveal())
}

func TestMemoryBackendDeleteAndList(t *testing.T) {
	backend := memory.New()
	require.NoError(t, backend.Save(context.Background(), hive.NewCredentialObject("a", hive.KindAPIKey)))
	require.NoError(t, backend.Save(context.Background(), hive.NewCredentialObject("b", hive.KindAPIKey)))

	ids, err := backend.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	existed, err := backend.Delete(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = backend.Delete(context.Background(), "a")
	require.NoError(t, err)
	assert.False(t, existed)
}
