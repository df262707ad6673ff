package static_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yujiajie1988/hive"
	"github.com/yujiajie1988/hive/provider/static"
)

func TestStaticProviderNeverRefreshes(t *testing.T) {
	p := static.New()
	c := hive.NewCredentialObject("svc", hive.KindAPIKey)
	assert.False(t, p.ShouldRefresh(c))
}

func TestStaticProviderRefreshIsIdentity(t *testing.T) {
	p := static.New()
	c := hive.NewCredentialObject("svc", hive.KindAPIKey)
	c.SetKey(hive.NewCredentialKey("api_key", "v"))

	out, err := p.Refresh(context.Background(), c)
	require.NoError(t, err)
	assert.Same(t, c, out)
}

func TestStaticProviderValidateRequiresAtLeastOneKey(t *testing.T) {
	p := static.New()
	empty := hive.NewCredentialObject("svc", hive.KindAPIKey)
	ok, err := p.Validate(context.Background(), empty)
	require.NoError(t, err)
	assert.False(t, ok)

	empty.SetKey(hive.NewCredentialKey("api_key", "v"))
	ok, err = p.Validate(context.Background(), empty)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStaticProviderRevokeIsUnsupported(t *testing.T) {
	p := static.New()
	revoked, err := p.Revoke(context.Background(), hive.NewCredentialObject("svc", hive.KindAPIKey))
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestStaticProviderIdentity(t *testing.T) {
	p := static.New()
	assert.Equal(t, static.ID, p.ProviderID())
	assert.Contains(t, p.SupportedKinds(), hive.KindAPIKey)
	assert.Contains(t, p.SupportedKinds(), hive.KindCustom)
}
