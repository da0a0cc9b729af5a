package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintDeterministic(t *testing.T) {
	_, pub, err := GenerateKeyPair()
	require.NoError(t, err)

	assert.Equal(t, Fingerprint(pub), Fingerprint(pub))
	assert.Len(t, Fingerprint(pub), 64) // SHA-256 hex
}

func TestFingerprintDistinct(t *testing.T) {
	_, pub1, err := GenerateKeyPair()
	require.NoError(t, err)
	_, pub2, err := GenerateKeyPair()
	require.NoError(t, err)

	assert.NotEqual(t, Fingerprint(pub1), Fingerprint(pub2))
}

func TestPublicKeyPEMRoundTrip(t *testing.T) {
	_, pub, err := GenerateKeyPair()
	require.NoError(t, err)

	pemBytes, err := ExportPublicKeyPEM(pub)
	require.NoError(t, err)
	assert.Contains(t, string(pemBytes), "BEGIN PUBLIC KEY")

	parsed, err := ParsePublicKeyPEM(pemBytes)
	require.NoError(t, err)
	assert.Equal(t, Fingerprint(pub), Fingerprint(parsed))
}

func TestPrivateKeyPEMRoundTrip(t *testing.T) {
	priv, _, err := GenerateKeyPair()
	require.NoError(t, err)

	pemBytes, err := ExportPrivateKeyPEM(priv)
	require.NoError(t, err)

	parsed, err := ParsePrivateKeyPEM(pemBytes)
	require.NoError(t, err)
	assert.True(t, priv.Equal(parsed))
}

func TestParsePublicKeyPEMRejectsGarbage(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
	}{
		{"empty", nil},
		{"not pem", []byte("hello world")},
		{"bad body", []byte("-----BEGIN PUBLIC KEY-----\nYWJj\n-----END PUBLIC KEY-----\n")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParsePublicKeyPEM(tc.in)
			assert.Error(t, err)
		})
	}
}
