package server

import (
	"context"
	"crypto/rsa"
	"os"
	"path/filepath"
	"strings"

	"github.com/santiagosayshey/OMesh/internal/cryptographic/identity"
	"github.com/santiagosayshey/OMesh/internal/repository/peer"
)

// StaticPeerKeys is an address-to-key table loaded once at startup.
// Pre-shared keys do not change while the process runs.
type StaticPeerKeys map[string]*rsa.PublicKey

func (m StaticPeerKeys) PublicKeyFor(addr string) *rsa.PublicKey {
	return m[addr]
}

// LoadPeerKeysDir reads peer keys from PEM files named after the peer
// address with ':' replaced by '_', e.g. "server2_8766.pem".
func LoadPeerKeysDir(dir string) (StaticPeerKeys, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return StaticPeerKeys{}, nil
		}
		return nil, err
	}

	keys := StaticPeerKeys{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".pem") {
			continue
		}
		pemBytes, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		pub, err := identity.ParsePublicKeyPEM(pemBytes)
		if err != nil {
			return nil, err
		}
		addr := strings.ReplaceAll(strings.TrimSuffix(name, ".pem"), "_", ":")
		keys[addr] = pub
	}
	return keys, nil
}

// LoadPeerKeysMongo pulls every registered peer key from the repository.
func LoadPeerKeysMongo(ctx context.Context, repo *peer.PeerRepo) (StaticPeerKeys, error) {
	recs, err := repo.All(ctx)
	if err != nil {
		return nil, err
	}
	keys := StaticPeerKeys{}
	for _, rec := range recs {
		pub, err := identity.ParsePublicKeyPEM([]byte(rec.PublicKey))
		if err != nil {
			return nil, err
		}
		keys[rec.Address] = pub
	}
	return keys, nil
}
