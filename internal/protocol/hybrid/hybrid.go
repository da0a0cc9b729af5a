// Package hybrid implements the group-chat payload scheme: one fresh AES
// key per message, wrapped once per recipient with RSA-OAEP, the body
// encrypted once with AES-GCM. Recipients are not told which symm_keys
// entry is theirs; they trial-decrypt until one opens.
package hybrid

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/santiagosayshey/OMesh/internal/cryptographic/encryption"
	"github.com/santiagosayshey/OMesh/internal/model"
)

// Seal encrypts body for the given recipients and addresses the message
// to destinations.
func Seal(body model.ChatBody, recipients []*rsa.PublicKey, destinations []string) (*model.Chat, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipients")
	}

	aesKey, err := encryption.NewAESKey()
	if err != nil {
		return nil, err
	}
	iv, err := encryption.NewIV()
	if err != nil {
		return nil, err
	}

	plaintext, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal chat body: %w", err)
	}
	sealed, err := encryption.AEADEncrypt(plaintext, aesKey, iv)
	if err != nil {
		return nil, err
	}

	symmKeys := make([]string, 0, len(recipients))
	for _, pub := range recipients {
		wrapped, err := encryption.WrapKey(aesKey, pub)
		if err != nil {
			return nil, err
		}
		symmKeys = append(symmKeys, base64.StdEncoding.EncodeToString(wrapped))
	}

	return &model.Chat{
		Type:               model.TypeChat,
		DestinationServers: destinations,
		IV:                 base64.StdEncoding.EncodeToString(iv),
		SymmKeys:           symmKeys,
		Chat:               base64.StdEncoding.EncodeToString(sealed),
	}, nil
}

// Open attempts to decrypt chat with priv, trying every wrapped key.
// ok is false when no entry unwraps for this key or the body cannot be
// authenticated.
func Open(chat *model.Chat, priv *rsa.PrivateKey) (body model.ChatBody, ok bool) {
	iv, err := base64.StdEncoding.DecodeString(chat.IV)
	if err != nil {
		return body, false
	}
	sealed, err := base64.StdEncoding.DecodeString(chat.Chat)
	if err != nil {
		return body, false
	}

	for _, entry := range chat.SymmKeys {
		wrapped, err := base64.StdEncoding.DecodeString(entry)
		if err != nil {
			continue
		}
		aesKey, err := encryption.UnwrapKey(wrapped, priv)
		if err != nil {
			continue
		}
		plaintext, err := encryption.AEADDecrypt(sealed, aesKey, iv)
		if err != nil {
			continue
		}
		if err := json.Unmarshal(plaintext, &body); err != nil {
			continue
		}
		return body, true
	}
	return model.ChatBody{}, false
}
