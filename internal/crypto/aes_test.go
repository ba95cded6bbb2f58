package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestEncryptWithIV_KnownVectors(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		iv        string
		plaintext string
		want      string
	}{
		{
			name:      "aes-128 multi block",
			key:       "000102030405060708090a0b0c0d0e0f",
			iv:        "0f0e0d0c0b0a09080706050403020100",
			plaintext: "The quick brown fox",
			want:      "6f40de04ce96f3426280fc4c87d9209a4fdeff886af13e3cb1bf215f5223c75e",
		},
		{
			name:      "aes-256 empty payload is one padding block",
			key:       "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f",
			iv:        "00000000000000000000000000000000",
			plaintext: "",
			want:      "9f3b7504926f8bd36e3118e903a4cd4a",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, err := NewCipherParams(mustHex(t, tt.key))
			require.NoError(t, err)
			iv := mustHex(t, tt.iv)

			out, err := EncryptWithIV(params, iv, []byte(tt.plaintext))
			require.NoError(t, err)
			assert.Equal(t, iv, out[:16])
			assert.Equal(t, tt.want, hex.EncodeToString(out[16:]))

			plain, err := Decrypt(params, out)
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, string(plain))
		})
	}
}

func TestEncrypt_RandomIV(t *testing.T) {
	key, err := GenerateRandomKey(256)
	require.NoError(t, err)
	params, err := NewCipherParams(key)
	require.NoError(t, err)
	assert.Equal(t, "cipher+aes-256-cbc", params.Encoding())

	a, err := Encrypt(params, []byte("payload"))
	require.NoError(t, err)
	b, err := Encrypt(params, []byte("payload"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	encoded, err := EncryptToBase64(params, []byte("payload"))
	require.NoError(t, err)
	plain, err := DecryptFromBase64(params, encoded)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(plain))
}

func TestDecrypt_Rejects(t *testing.T) {
	params, err := NewCipherParams(make([]byte, 16))
	require.NoError(t, err)
	good, err := EncryptWithIV(params, make([]byte, 16), []byte("abc"))
	require.NoError(t, err)

	_, err = Decrypt(params, good[:16])
	assert.ErrorIs(t, err, ErrCiphertextShort)

	_, err = Decrypt(params, append(append([]byte(nil), good...), 1))
	assert.ErrorIs(t, err, ErrNotBlockAligned)

	other, err := NewCipherParams(mustHex(t, "ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)
	// decrypting this fixed vector with the wrong key ends in 0xec, never valid padding
	_, err = Decrypt(other, good)
	assert.ErrorIs(t, err, ErrInvalidPadding)

	_, err = DecryptFromBase64(params, "%%%")
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	_, err := NewCipherParams(make([]byte, 24))
	assert.ErrorIs(t, err, ErrInvalidKeyLength)

	_, err = GenerateRandomKey(192)
	assert.ErrorIs(t, err, ErrInvalidKeyLength)

	key, err := GenerateRandomKey(128)
	require.NoError(t, err)
	assert.Len(t, key, 16)

	_, err = EncryptWithIV(&CipherParams{Algorithm: AlgorithmAES, Mode: ModeCBC, Key: key}, []byte("short"), nil)
	assert.ErrorIs(t, err, ErrInvalidIV)
}

func TestGenerateString(t *testing.T) {
	s, err := GenerateString(32)
	require.NoError(t, err)
	assert.Len(t, s, 32)

	long, err := GenerateString(4096)
	require.NoError(t, err)
	seen := map[rune]bool{}
	for _, r := range long {
		assert.Contains(t, letters, string(r))
		seen[r] = true
	}
	// 4096 draws over 64 symbols leave none unused in practice
	assert.Len(t, seen, len(letters))

	_, err = GenerateString(0)
	assert.Error(t, err)
}
