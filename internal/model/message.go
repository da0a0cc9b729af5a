package model

import "encoding/json"

// MessageType tags every wire message. The set is closed: anything else
// is rejected during validation.
type MessageType string

const (
	TypeSignedData          MessageType = "signed_data"
	TypeHello               MessageType = "hello"
	TypeChat                MessageType = "chat"
	TypePublicChat          MessageType = "public_chat"
	TypeServerHello         MessageType = "server_hello"
	TypeClientListRequest   MessageType = "client_list_request"
	TypeClientUpdate        MessageType = "client_update"
	TypeClientUpdateRequest MessageType = "client_update_request"
	TypeClientList          MessageType = "client_list"
)

type (
	// Envelope is the signed outer structure. Signature covers the canonical
	// encoding of {data, counter} only; mutating either invalidates it.
	Envelope struct {
		Type      MessageType     `json:"type"`
		Data      json.RawMessage `json:"data"`
		Counter   uint64          `json:"counter"`
		Signature string          `json:"signature"` // base64
	}

	// Hello registers a client with its own server.
	Hello struct {
		Type      MessageType `json:"type"`
		PublicKey string      `json:"public_key"` // PEM
	}

	// Chat is the hybrid-encrypted group message: a fresh AES key wrapped
	// once per recipient, the body encrypted once under that key.
	Chat struct {
		Type               MessageType `json:"type"`
		DestinationServers []string    `json:"destination_servers"`
		IV                 string      `json:"iv"`        // base64, 16 bytes
		SymmKeys           []string    `json:"symm_keys"` // base64 RSA-OAEP blobs
		Chat               string      `json:"chat"`      // base64 ciphertext||tag
	}

	// ChatBody is the AEAD plaintext of Chat.Chat. Participants[0] is the
	// sender's fingerprint.
	ChatBody struct {
		Participants []string `json:"participants"`
		Message      string   `json:"message"`
	}

	// PublicChat is broadcast unencrypted to every client in the mesh.
	PublicChat struct {
		Type    MessageType `json:"type"`
		Sender  string      `json:"sender"` // fingerprint
		Message string      `json:"message"`
	}

	// ServerHello binds a federation connection to the dialing server's
	// address. It is verified against an out-of-band pre-shared key.
	ServerHello struct {
		Type   MessageType `json:"type"`
		Sender string      `json:"sender"` // host:port
	}

	ClientListRequest struct {
		Type MessageType `json:"type"`
	}

	// ClientUpdate carries the full set of clients owned by the sending
	// server. Receivers replace, never merge.
	ClientUpdate struct {
		Type    MessageType `json:"type"`
		Clients []string    `json:"clients"` // PEM strings
	}

	ClientUpdateRequest struct {
		Type MessageType `json:"type"`
	}

	ServerClients struct {
		Address string   `json:"address"`
		Clients []string `json:"clients"` // PEM strings
	}

	ClientList struct {
		Type    MessageType     `json:"type"`
		Servers []ServerClients `json:"servers"`
	}
)
