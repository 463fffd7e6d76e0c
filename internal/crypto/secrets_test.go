package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBox(t *testing.T) *SecretBox {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	box, err := NewSecretBox(key)
	require.NoError(t, err)
	return box
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	box := testBox(t)

	plaintext := "MySuperSecretDbPassword123!"

	encrypted, err := box.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, encrypted)

	decrypted, err := box.Decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncryptProducesUniqueNonces(t *testing.T) {
	box := testBox(t)

	a, err := box.Encrypt("same input")
	require.NoError(t, err)
	b, err := box.Encrypt("same input")
	require.NoError(t, err)

	// Random nonce per call means identical plaintexts never collide.
	assert.NotEqual(t, a, b)
}

func TestDecryptTamperedData(t *testing.T) {
	box := testBox(t)

	encrypted, err := box.Encrypt("test")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(encrypted)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	_, err = box.Decrypt(tampered)
	assert.Error(t, err)
}

func TestDecryptWithWrongKey(t *testing.T) {
	encrypted, err := testBox(t).Encrypt("test")
	require.NoError(t, err)

	_, err = testBox(t).Decrypt(encrypted)
	assert.Error(t, err)
}

func TestDecryptTooShort(t *testing.T) {
	box := testBox(t)

	short := base64.StdEncoding.EncodeToString([]byte("short"))
	_, err := box.Decrypt(short)
	assert.Error(t, err)
}

func TestNewSecretBoxValidation(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"empty key", ""},
		{"not base64", "%%%not-base64%%%"},
		{"wrong length", base64.StdEncoding.EncodeToString([]byte("too-short"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSecretBox(tt.key)
			assert.Error(t, err)
		})
	}
}
