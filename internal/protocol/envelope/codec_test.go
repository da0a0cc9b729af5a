package envelope

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/santiagosayshey/OMesh/internal/model"
)

var (
	keyOnce  sync.Once
	testKey  *rsa.PrivateKey
	otherKey *rsa.PrivateKey
)

func keys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		testKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		otherKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
	})
	return testKey, otherKey
}

func TestCanonicalPayloadIsKeyOrderIndependent(t *testing.T) {
	a := json.RawMessage(`{"type":"public_chat","sender":"f","message":"m"}`)
	b := json.RawMessage(`{"message":"m","sender":"f","type":"public_chat"}`)

	pa, err := CanonicalPayload(a, 7)
	require.NoError(t, err)
	pb, err := CanonicalPayload(b, 7)
	require.NoError(t, err)

	assert.Equal(t, pa, pb)
	assert.Equal(t,
		`{"counter":7,"data":{"message":"m","sender":"f","type":"public_chat"}}`,
		string(pa))
}

func TestCanonicalPayloadCompact(t *testing.T) {
	data := json.RawMessage("{\n  \"type\": \"hello\",\n  \"public_key\": \"pem\"\n}")
	payload, err := CanonicalPayload(data, 1)
	require.NoError(t, err)
	assert.Equal(t, `{"counter":1,"data":{"public_key":"pem","type":"hello"}}`, string(payload))
}

func TestBuildAndVerifySigned(t *testing.T) {
	priv, _ := keys(t)
	data := model.PublicChat{Type: model.TypePublicChat, Sender: "fp", Message: "hi"}

	env, err := BuildSigned(data, priv, 2)
	require.NoError(t, err)
	assert.Equal(t, model.TypeSignedData, env.Type)
	assert.Equal(t, uint64(2), env.Counter)

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	got, err := VerifySigned(raw, &priv.PublicKey, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Counter)
}

func TestVerifySignedWrongKey(t *testing.T) {
	priv, other := keys(t)
	env, err := BuildSigned(model.PublicChat{Type: model.TypePublicChat, Sender: "fp", Message: "hi"}, priv, 1)
	require.NoError(t, err)
	raw, _ := json.Marshal(env)

	_, err = VerifySigned(raw, &other.PublicKey, 0)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifySignedChecksInOrder(t *testing.T) {
	priv, _ := keys(t)
	env, err := BuildSigned(model.PublicChat{Type: model.TypePublicChat, Sender: "fp", Message: "hi"}, priv, 5)
	require.NoError(t, err)
	raw, _ := json.Marshal(env)

	cases := []struct {
		name    string
		mutate  func(map[string]json.RawMessage)
		last    uint64
		wantErr error
	}{
		{
			name:    "bad outer type",
			mutate:  func(m map[string]json.RawMessage) { m["type"] = json.RawMessage(`"chat"`) },
			wantErr: ErrBadType,
		},
		{
			name:    "missing signature",
			mutate:  func(m map[string]json.RawMessage) { delete(m, "signature") },
			wantErr: ErrMissingField,
		},
		{
			name:    "missing counter",
			mutate:  func(m map[string]json.RawMessage) { delete(m, "counter") },
			wantErr: ErrMissingField,
		},
		{
			name:    "missing data",
			mutate:  func(m map[string]json.RawMessage) { delete(m, "data") },
			wantErr: ErrMissingField,
		},
		{
			name:    "replayed counter",
			mutate:  func(m map[string]json.RawMessage) {},
			last:    5,
			wantErr: ErrReplayDetected,
		},
		{
			name: "mutated data invalidates signature",
			mutate: func(m map[string]json.RawMessage) {
				m["data"] = json.RawMessage(`{"type":"public_chat","sender":"fp","message":"changed"}`)
			},
			wantErr: ErrBadSignature,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var m map[string]json.RawMessage
			require.NoError(t, json.Unmarshal(raw, &m))
			tc.mutate(m)
			mutated, err := json.Marshal(m)
			require.NoError(t, err)

			_, err = VerifySigned(mutated, &priv.PublicKey, tc.last)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestVerifySignedCounterWindow(t *testing.T) {
	priv, _ := keys(t)
	env, err := BuildSigned(model.PublicChat{Type: model.TypePublicChat, Sender: "fp", Message: "hi"}, priv, 3)
	require.NoError(t, err)
	raw, _ := json.Marshal(env)

	// counter 3 accepted while last < 3, rejected once last >= 3
	_, err = VerifySigned(raw, &priv.PublicKey, 2)
	assert.NoError(t, err)
	_, err = VerifySigned(raw, &priv.PublicKey, 3)
	assert.ErrorIs(t, err, ErrReplayDetected)
	_, err = VerifySigned(raw, &priv.PublicKey, 4)
	assert.ErrorIs(t, err, ErrReplayDetected)
}

func TestVerifySignedMalformedJSON(t *testing.T) {
	priv, _ := keys(t)
	_, err := VerifySigned([]byte("{not json"), &priv.PublicKey, 0)
	assert.ErrorIs(t, err, ErrMalformedMessage)
}
