// Package lockbox encrypts files at rest with a password-derived key.
package lockbox

import (
	"crypto/sha256"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"

	"github.com/santiagosayshey/OMesh/internal/cryptographic/encryption"
)

const (
	// Suffix marks encrypted output files.
	Suffix = ".encrypted"

	iterations = 100000
)

var salt = []byte("rickroll")

// DeriveKey stretches a password into a 32-byte AES key with
// PBKDF2-HMAC-SHA256.
func DeriveKey(password string) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, encryption.KeySize, sha256.New)
}

// EncryptFile writes <path>.encrypted: a fresh IV followed by the sealed
// file contents.
func EncryptFile(path, password string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	iv, err := encryption.NewIV()
	if err != nil {
		return "", err
	}
	sealed, err := encryption.AEADEncrypt(data, DeriveKey(password), iv)
	if err != nil {
		return "", err
	}

	out := path + Suffix
	if err := os.WriteFile(out, append(iv, sealed...), 0o600); err != nil {
		return "", err
	}
	return out, nil
}

// DecryptFile reverses EncryptFile, writing the original path without the
// suffix. A wrong password fails the authentication tag and produces no
// output file.
func DecryptFile(path, password string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if len(data) < encryption.IVSize {
		return "", fmt.Errorf("file too short to be a lockbox")
	}

	iv, sealed := data[:encryption.IVSize], data[encryption.IVSize:]
	plain, err := encryption.AEADDecrypt(sealed, DeriveKey(password), iv)
	if err != nil {
		return "", fmt.Errorf("decrypt failed (wrong password?): %w", err)
	}

	out := path
	if len(path) > len(Suffix) && path[len(path)-len(Suffix):] == Suffix {
		out = path[:len(path)-len(Suffix)]
	} else {
		out = path + ".decrypted"
	}
	if err := os.WriteFile(out, plain, 0o600); err != nil {
		return "", err
	}
	return out, nil
}
