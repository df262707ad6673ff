package hive_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yujiajie1988/hive"
)

func TestErrorIsComparesKindOnly(t *testing.T) {
	err := hive.NewError(hive.CredentialNotFound, "github", "missing")

	assert.True(t, errors.Is(err, &hive.Error{Kind: hive.CredentialNotFound}))
	assert.False(t, errors.Is(err, &hive.Error{Kind: hive.RateLimited}))
}

func TestErrorUnwrapAndAs(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	wrapped := hive.Wrap(hive.BackendUnavailable, "svc", cause)

	assert.Equal(t, cause, errors.Unwrap(wrapped))

	var target *hive.Error
	require := errors.As(wrapped, &target)
	assert.True(t, require)
	assert.Equal(t, hive.BackendUnavailable, target.Kind)
}

func TestErrorMessageOmitsSecretMaterial(t *testing.T) {
	err := hive.NewKeyError("github", "access_token")
	msg := err.Error()

	assert.Contains(t, msg, "github")
	assert.Contains(t, msg, "access_token")
	assert.NotContains(t, msg, "<redacted>")
}

func TestKindOfOnPlainError(t *testing.T) {
	_, ok := hive.KindOf(fmt.Errorf("not a hive error"))
	assert.False(t, ok)
}
