package keysource_test

import (
	"context"
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yujiajie1988/hive/keysource"
)

type fakeSecretsManagerAPI struct {
	output *secretsmanager.GetSecretValueOutput
	err    error
	calls  int
}

func (f *fakeSecretsManagerAPI) GetSecretValue(_ *secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.output, nil
}

func TestSecretsManagerSourceFetchesAndCachesKey(t *testing.T) {
	var raw [32]byte
	for i := range raw {
		raw[i] = byte(i * 3)
	}
	encoded := base64.StdEncoding.EncodeToString(raw[:])
	api := &fakeSecretsManagerAPI{output: &secretsmanager.GetSecretValueOutput{SecretString: aws.String(encoded)}}

	src := keysource.NewSecretsManagerSource(api, "hive/master-key")

	first, err := src.Key(context.Background())
	require.NoError(t, err)
	assert.Equal(t, raw, first)

	second, err := src.Key(context.Background())
	require.NoError(t, err)
	assert.Equal(t, raw, second)
	assert.Equal(t, 1, api.calls, "secret must be fetched once and cached thereafter")
}

func TestSecretsManagerSourceWrapsFetchError(t *testing.T) {
	api := &fakeSecretsManagerAPI{err: fmt.Errorf("access denied")}
	src := keysource.NewSecretsManagerSource(api, "hive/master-key")

	_, err := src.Key(context.Background())
	assert.Error(t, err)
}
