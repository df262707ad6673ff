package crypto_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yujiajie1988/hive/crypto"
)

func testKey(b byte) [32]byte {
	var k [32]byte
	for i := range k {
		k[i] = b
	}
	return k
}

func TestEnvelopeSealOpenRoundTrip(t *testing.T) {
	env := crypto.NewEnvelope(testKey(0x01))
	plaintext := []byte(`{"id":"github","keys":{"api_key":"ghp_abc"}}`)

	sealed, err := env.Seal(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)

	opened, err := env.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestEnvelopeSealIsNonDeterministic(t *testing.T) {
	env := crypto.NewEnvelope(testKey(0x02))
	plaintext := []byte("same plaintext")

	first, err := env.Seal(plaintext)
	require.NoError(t, err)
	second, err := env.Seal(plaintext)
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "random nonce must vary each seal")
}

func TestEnvelopeOpenFailsWithWrongKey(t *testing.T) {
	sealed, err := crypto.NewEnvelope(testKey(0x03)).Seal([]byte("secret"))
	require.NoError(t, err)

	_, err = crypto.NewEnvelope(testKey(0x04)).Open(sealed)
	assert.Error(t, err)
}

func TestEnvelopeOpenFailsOnTamperedCiphertext(t *testing.T) {
	key := testKey(0x05)
	sealed, err := crypto.NewEnvelope(key).Seal([]byte("secret"))
	require.NoError(t, err)

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xFF

	_, err = crypto.NewEnvelope(key).Open(tampered)
	assert.Error(t, err)
}

func TestEnvelopeOpenRejectsTruncatedInput(t *testing.T) {
	_, err := crypto.NewEnvelope(testKey(0x06)).Open([]byte("short"))
	assert.Error(t, err)
}
