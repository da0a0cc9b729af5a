package envelope

import (
	"bytes"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/santiagosayshey/OMesh/internal/cryptographic/signature"
	"github.com/santiagosayshey/OMesh/internal/model"
)

// CanonicalPayload produces the exact byte sequence that gets signed:
// compact JSON of {"counter":c,"data":d} with object keys sorted at every
// level. Two semantically equal payloads always encode identically, which
// lets the verifier re-derive the signed bytes from the received fields.
func CanonicalPayload(data json.RawMessage, counter uint64) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber() // keep number literals verbatim, no float round-trips

	var normalized any
	if err := dec.Decode(&normalized); err != nil {
		return nil, fmt.Errorf("%w: data is not valid JSON: %v", ErrMalformedMessage, err)
	}

	// encoding/json writes map keys in sorted order and emits no
	// insignificant whitespace, which is the canonical form we need.
	payload := map[string]any{
		"counter": counter,
		"data":    normalized,
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal canonical payload: %w", err)
	}
	return out, nil
}

// BuildSigned wraps data in a signed_data envelope under the given key
// and counter.
func BuildSigned(data any, priv *rsa.PrivateKey, counter uint64) (*model.Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal data: %w", err)
	}
	payload, err := CanonicalPayload(raw, counter)
	if err != nil {
		return nil, err
	}
	sig, err := signature.Sign(payload, priv)
	if err != nil {
		return nil, err
	}
	return &model.Envelope{
		Type:      model.TypeSignedData,
		Data:      raw,
		Counter:   counter,
		Signature: base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// VerifySigned checks a raw signed_data envelope against a sender's key and
// last accepted counter. Checks run in a fixed order: structural first
// (ErrBadType, ErrMissingField), then ErrReplayDetected, then
// ErrBadSignature. A nil return means all four passed.
func VerifySigned(raw []byte, pub *rsa.PublicKey, lastCounter uint64) (*model.Envelope, error) {
	var outer struct {
		Type      model.MessageType `json:"type"`
		Data      json.RawMessage   `json:"data"`
		Counter   *uint64           `json:"counter"`
		Signature *string           `json:"signature"`
	}
	if err := json.Unmarshal(raw, &outer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	if outer.Type != model.TypeSignedData {
		return nil, ErrBadType
	}
	if len(outer.Data) == 0 || outer.Counter == nil || outer.Signature == nil {
		return nil, ErrMissingField
	}
	if *outer.Counter <= lastCounter {
		return nil, ErrReplayDetected
	}

	sig, err := base64.StdEncoding.DecodeString(*outer.Signature)
	if err != nil {
		return nil, ErrBadSignature
	}
	payload, err := CanonicalPayload(outer.Data, *outer.Counter)
	if err != nil {
		return nil, err
	}
	if !signature.Verify(payload, sig, pub) {
		return nil, ErrBadSignature
	}

	return &model.Envelope{
		Type:      outer.Type,
		Data:      outer.Data,
		Counter:   *outer.Counter,
		Signature: *outer.Signature,
	}, nil
}
