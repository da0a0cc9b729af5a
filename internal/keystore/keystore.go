// Package keystore persists an RSA identity as PEM files on disk.
package keystore

import (
	"crypto/rsa"
	"fmt"
	"os"
	"path/filepath"

	"github.com/santiagosayshey/OMesh/internal/cryptographic/identity"
)

const (
	privateKeyFile = "private_key.pem"
	publicKeyFile  = "public_key.pem"
)

type Store struct {
	dir string
}

func New(dir string) *Store {
	return &Store{dir: dir}
}

// Load reads the keypair from disk. os.ErrNotExist is returned when no
// key has been saved yet.
func (s *Store) Load() (*rsa.PrivateKey, error) {
	pemBytes, err := os.ReadFile(filepath.Join(s.dir, privateKeyFile))
	if err != nil {
		return nil, err
	}
	priv, err := identity.ParsePrivateKeyPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse stored key: %w", err)
	}
	return priv, nil
}

// Save writes the keypair. The private key file is readable by the owner
// only.
func (s *Store) Save(priv *rsa.PrivateKey) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	privPEM, err := identity.ExportPrivateKeyPEM(priv)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(s.dir, privateKeyFile), privPEM, 0o600); err != nil {
		return err
	}
	pubPEM, err := identity.ExportPublicKeyPEM(&priv.PublicKey)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, publicKeyFile), pubPEM, 0o644)
}

// LoadOrCreate loads the stored identity or generates and saves a new one.
func (s *Store) LoadOrCreate() (*rsa.PrivateKey, error) {
	priv, err := s.Load()
	if err == nil {
		return priv, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	priv, _, err = identity.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if err := s.Save(priv); err != nil {
		return nil, err
	}
	return priv, nil
}
