package hybrid

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/santiagosayshey/OMesh/internal/cryptographic/encryption"
	"github.com/santiagosayshey/OMesh/internal/model"
)

func genKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return priv
}

func TestSealOpenSingleRecipient(t *testing.T) {
	alice := genKey(t)
	body := model.ChatBody{
		Participants: []string{"alice-fp", "bob-fp"},
		Message:      "hello group",
	}

	chat, err := Seal(body, []*rsa.PublicKey{&alice.PublicKey}, []string{"host:8766"})
	require.NoError(t, err)
	assert.Equal(t, model.TypeChat, chat.Type)
	assert.Equal(t, []string{"host:8766"}, chat.DestinationServers)
	assert.Len(t, chat.SymmKeys, 1)

	iv, err := base64.StdEncoding.DecodeString(chat.IV)
	require.NoError(t, err)
	assert.Len(t, iv, encryption.IVSize)

	got, ok := Open(chat, alice)
	require.True(t, ok)
	assert.Equal(t, body, got)
}

func TestEveryRecipientCanOpen(t *testing.T) {
	members := []*rsa.PrivateKey{genKey(t), genKey(t), genKey(t)}
	pubs := make([]*rsa.PublicKey, len(members))
	for i, m := range members {
		pubs[i] = &m.PublicKey
	}
	body := model.ChatBody{Participants: []string{"a", "b", "c"}, Message: "secret"}

	chat, err := Seal(body, pubs, []string{"x:8766"})
	require.NoError(t, err)
	assert.Len(t, chat.SymmKeys, 3)

	for i, m := range members {
		got, ok := Open(chat, m)
		require.True(t, ok, "member %d", i)
		assert.Equal(t, "secret", got.Message)
	}
}

func TestNonRecipientCannotOpen(t *testing.T) {
	alice := genKey(t)
	eve := genKey(t)

	chat, err := Seal(model.ChatBody{Participants: []string{"a"}, Message: "private"},
		[]*rsa.PublicKey{&alice.PublicKey}, nil)
	require.NoError(t, err)

	_, ok := Open(chat, eve)
	assert.False(t, ok)
}

func TestTamperedCiphertextRejected(t *testing.T) {
	alice := genKey(t)
	chat, err := Seal(model.ChatBody{Participants: []string{"a"}, Message: "m"},
		[]*rsa.PublicKey{&alice.PublicKey}, nil)
	require.NoError(t, err)

	sealed, err := base64.StdEncoding.DecodeString(chat.Chat)
	require.NoError(t, err)
	sealed[0] ^= 0xff
	chat.Chat = base64.StdEncoding.EncodeToString(sealed)

	_, ok := Open(chat, alice)
	assert.False(t, ok)
}

func TestOpenSkipsGarbageEntries(t *testing.T) {
	alice := genKey(t)
	chat, err := Seal(model.ChatBody{Participants: []string{"a"}, Message: "still readable"},
		[]*rsa.PublicKey{&alice.PublicKey}, nil)
	require.NoError(t, err)

	// prepend junk entries; the real one still opens
	chat.SymmKeys = append([]string{"!!not base64!!", base64.StdEncoding.EncodeToString([]byte("short"))}, chat.SymmKeys...)

	got, ok := Open(chat, alice)
	require.True(t, ok)
	assert.Equal(t, "still readable", got.Message)
}

func TestSealRequiresRecipients(t *testing.T) {
	_, err := Seal(model.ChatBody{Message: "m"}, nil, nil)
	assert.Error(t, err)
}

func TestFreshKeyPerMessage(t *testing.T) {
	alice := genKey(t)
	body := model.ChatBody{Participants: []string{"a"}, Message: "same text"}

	c1, err := Seal(body, []*rsa.PublicKey{&alice.PublicKey}, nil)
	require.NoError(t, err)
	c2, err := Seal(body, []*rsa.PublicKey{&alice.PublicKey}, nil)
	require.NoError(t, err)

	assert.NotEqual(t, c1.IV, c2.IV)
	assert.NotEqual(t, c1.Chat, c2.Chat)
}
