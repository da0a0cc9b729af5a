package encryption

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// WrapKey encrypts a symmetric key for one recipient using RSA-OAEP
// with SHA-256 and an empty label.
func WrapKey(aesKey []byte, pub *rsa.PublicKey) ([]byte, error) {
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, aesKey, nil)
	if err != nil {
		return nil, fmt.Errorf("rsa.EncryptOAEP: %w", err)
	}
	return ct, nil
}

// UnwrapKey decrypts an RSA-OAEP wrapped symmetric key.
func UnwrapKey(ciphertext []byte, priv *rsa.PrivateKey) ([]byte, error) {
	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("rsa.DecryptOAEP: %w", err)
	}
	return key, nil
}
