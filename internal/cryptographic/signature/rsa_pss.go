package signature

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// PSS salt length is pinned to 32 bytes so signatures interoperate with
// peers that verify with an exact salt length rather than "auto".
const saltLength = 32

var pssOpts = &rsa.PSSOptions{
	SaltLength: saltLength,
	Hash:       crypto.SHA256,
}

// Sign produces an RSA-PSS signature over SHA-256(data).
func Sign(data []byte, priv *rsa.PrivateKey) ([]byte, error) {
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest[:], pssOpts)
	if err != nil {
		return nil, fmt.Errorf("rsa.SignPSS: %w", err)
	}
	return sig, nil
}

// Verify reports whether sig is a valid RSA-PSS signature of data.
// It never returns an error: any failure, cryptographic or structural,
// is reported as false.
func Verify(data, sig []byte, pub *rsa.PublicKey) bool {
	if pub == nil || len(sig) == 0 {
		return false
	}
	digest := sha256.Sum256(data)
	return rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, pssOpts) == nil
}
