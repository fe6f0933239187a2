package vault

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "aes-128", key: "0123456789abcdef"},
		{name: "aes-192", key: "0123456789abcdef01234567"},
		{name: "aes-256", key: testKey},
		{name: "empty key", key: "", wantErr: true},
		{name: "short key", key: "short", wantErr: true},
		{name: "33 byte key", key: testKey + "x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := New(tt.key)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidKey)
				assert.Nil(t, v)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, v)
		})
	}
}

func TestVault_RoundTrip(t *testing.T) {
	v, err := New(testKey)
	require.NoError(t, err)

	for _, plaintext := range []string{"", "app-password", "pässwörd with unicode ✓"} {
		ct, err := v.Encrypt(plaintext)
		require.NoError(t, err)
		assert.NotContains(t, ct, "app-password")

		got, err := v.Decrypt(ct)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got.Reveal())
	}
}

func TestVault_EncryptUsesFreshNonce(t *testing.T) {
	v, err := New(testKey)
	require.NoError(t, err)

	a, err := v.Encrypt("same")
	require.NoError(t, err)
	b, err := v.Encrypt("same")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestVault_DecryptRejectsBadInput(t *testing.T) {
	v, err := New(testKey)
	require.NoError(t, err)

	ct, err := v.Encrypt("app-password")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(ct)
	require.NoError(t, err)
	tampered := bytes.Clone(raw)
	tampered[len(tampered)-1] ^= 0x01

	other, err := New("fedcba9876543210fedcba9876543210")
	require.NoError(t, err)
	foreign, err := other.Encrypt("app-password")
	require.NoError(t, err)

	tests := []struct {
		name string
		in   string
	}{
		{name: "not base64", in: "%%%"},
		{name: "too short", in: base64.StdEncoding.EncodeToString([]byte("abc"))},
		{name: "tampered tag", in: base64.StdEncoding.EncodeToString(tampered)},
		{name: "different key", in: foreign},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Decrypt(tt.in)
			require.ErrorIs(t, err, ErrDecrypt)
			assert.True(t, got.IsZero())
		})
	}
}

func TestSecret_IsRedacted(t *testing.T) {
	s := Secret("hunter2")

	assert.Equal(t, "hunter2", s.Reveal())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%s", s))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%#v", s))

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logger.Info("credential loaded", slog.Any("credential", s))

	assert.NotContains(t, buf.String(), "hunter2")
	assert.Contains(t, buf.String(), "[REDACTED]")
}
