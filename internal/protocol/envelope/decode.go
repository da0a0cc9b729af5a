package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/santiagosayshey/OMesh/internal/model"
)

type (
	// Message is the decoded form of one wire message: the outer type plus
	// exactly one populated variant. Signed payloads also carry the parsed
	// Envelope and the inner data type.
	Message struct {
		Type  model.MessageType
		Inner model.MessageType // data.type when Type == signed_data

		Envelope *model.Envelope

		Hello       *model.Hello
		Chat        *model.Chat
		PublicChat  *model.PublicChat
		ServerHello *model.ServerHello

		ClientListRequest   *model.ClientListRequest
		ClientUpdate        *model.ClientUpdate
		ClientUpdateRequest *model.ClientUpdateRequest
		ClientList          *model.ClientList
	}
)

// requiredDataFields is the per-type schema for payloads that ride inside
// signed_data.
var requiredDataFields = map[model.MessageType][]string{
	model.TypeHello:       {"type", "public_key"},
	model.TypeChat:        {"type", "destination_servers", "iv", "symm_keys", "chat"},
	model.TypePublicChat:  {"type", "sender", "message"},
	model.TypeServerHello: {"type", "sender"},
}

// requiredTopFields is the schema for unsigned control messages.
var requiredTopFields = map[model.MessageType][]string{
	model.TypeClientListRequest:   {"type"},
	model.TypeClientUpdate:        {"type", "clients"},
	model.TypeClientUpdateRequest: {"type"},
	model.TypeClientList:          {"type", "servers"},
}

// ValidateFormat runs the structural schema check for one raw message,
// independent of any signature. It is the first-line filter before
// dispatch.
func ValidateFormat(raw []byte) error {
	_, err := Decode(raw)
	return err
}

// Decode parses and structurally validates one wire message. Signatures
// are NOT checked here; callers verify signed envelopes separately once
// the sender's key is known.
func Decode(raw []byte) (*Message, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	typ, err := typeOf(top)
	if err != nil {
		return nil, err
	}

	if typ == model.TypeSignedData {
		return decodeSigned(raw, top)
	}
	return decodeControl(raw, top, typ)
}

func typeOf(obj map[string]json.RawMessage) (model.MessageType, error) {
	rawType, ok := obj["type"]
	if !ok {
		return "", fmt.Errorf("%w: no type field", ErrMalformedMessage)
	}
	var typ model.MessageType
	if err := json.Unmarshal(rawType, &typ); err != nil {
		return "", fmt.Errorf("%w: type is not a string", ErrMalformedMessage)
	}
	return typ, nil
}

func decodeSigned(raw []byte, top map[string]json.RawMessage) (*Message, error) {
	for _, field := range []string{"data", "counter", "signature"} {
		if _, ok := top[field]; !ok {
			return nil, fmt.Errorf("%w: signed_data needs %q", ErrMissingField, field)
		}
	}

	var env model.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	var data map[string]json.RawMessage
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: data is not an object", ErrMalformedMessage)
	}
	inner, err := typeOf(data)
	if err != nil {
		return nil, err
	}
	fields, ok := requiredDataFields[inner]
	if !ok {
		return nil, fmt.Errorf("%w: %q inside signed_data", ErrUnknownMessageType, inner)
	}
	for _, field := range fields {
		if _, present := data[field]; !present {
			return nil, fmt.Errorf("%w: %s needs %q", ErrMissingField, inner, field)
		}
	}

	msg := &Message{Type: model.TypeSignedData, Inner: inner, Envelope: &env}
	switch inner {
	case model.TypeHello:
		msg.Hello = &model.Hello{}
		err = json.Unmarshal(env.Data, msg.Hello)
	case model.TypeChat:
		msg.Chat = &model.Chat{}
		err = json.Unmarshal(env.Data, msg.Chat)
	case model.TypePublicChat:
		msg.PublicChat = &model.PublicChat{}
		err = json.Unmarshal(env.Data, msg.PublicChat)
	case model.TypeServerHello:
		msg.ServerHello = &model.ServerHello{}
		err = json.Unmarshal(env.Data, msg.ServerHello)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return msg, nil
}

func decodeControl(raw []byte, top map[string]json.RawMessage, typ model.MessageType) (*Message, error) {
	fields, ok := requiredTopFields[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, typ)
	}
	for _, field := range fields {
		if _, present := top[field]; !present {
			return nil, fmt.Errorf("%w: %s needs %q", ErrMissingField, typ, field)
		}
	}

	msg := &Message{Type: typ}
	var err error
	switch typ {
	case model.TypeClientListRequest:
		msg.ClientListRequest = &model.ClientListRequest{}
		err = json.Unmarshal(raw, msg.ClientListRequest)
	case model.TypeClientUpdate:
		msg.ClientUpdate = &model.ClientUpdate{}
		err = json.Unmarshal(raw, msg.ClientUpdate)
	case model.TypeClientUpdateRequest:
		msg.ClientUpdateRequest = &model.ClientUpdateRequest{}
		err = json.Unmarshal(raw, msg.ClientUpdateRequest)
	case model.TypeClientList:
		msg.ClientList = &model.ClientList{}
		err = json.Unmarshal(raw, msg.ClientList)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return msg, nil
}
