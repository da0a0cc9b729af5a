// Package directory maintains this server's local, eventually-consistent
// view of which server owns each client identity. Remote views are applied
// as whole snapshots, never merged entry by entry, so a client that left a
// remote server cannot linger.
package directory

import (
	"crypto/rsa"
	"sort"

	"github.com/santiagosayshey/OMesh/internal/cryptographic/identity"
	"github.com/santiagosayshey/OMesh/internal/model"
)

type entry struct {
	pub   *rsa.PublicKey
	owner string // server address
}

type Directory struct {
	self    string // this server's address
	entries map[string]*entry
}

func New(self string) *Directory {
	return &Directory{
		self:    self,
		entries: make(map[string]*entry),
	}
}

// RegisterLocalClient inserts or overwrites an entry owned by this server.
func (d *Directory) RegisterLocalClient(fingerprint string, pub *rsa.PublicKey) {
	d.entries[fingerprint] = &entry{pub: pub, owner: d.self}
}

// RemoveLocalClient drops a locally owned entry. Entries owned by remote
// servers are left alone; those are pruned only by snapshots.
func (d *Directory) RemoveLocalClient(fingerprint string) {
	if e, ok := d.entries[fingerprint]; ok && e.owner == d.self {
		delete(d.entries, fingerprint)
	}
}

// ApplyRemoteSnapshot replaces every entry previously attributed to addr
// with the given public keys. Entries absent from the new set are pruned
// and their fingerprints returned, so callers can release any per-client
// state keyed on them. An entry already owned by a different server is
// not reassigned; the owning server's own updates win.
func (d *Directory) ApplyRemoteSnapshot(addr string, pubs []*rsa.PublicKey) (pruned []string) {
	previous := make(map[string]bool)
	for fp, e := range d.entries {
		if e.owner == addr {
			previous[fp] = true
			delete(d.entries, fp)
		}
	}
	for _, pub := range pubs {
		fp := identity.Fingerprint(pub)
		if existing, ok := d.entries[fp]; ok && existing.owner != addr {
			continue
		}
		d.entries[fp] = &entry{pub: pub, owner: addr}
		delete(previous, fp)
	}
	for fp := range previous {
		pruned = append(pruned, fp)
	}
	sort.Strings(pruned)
	return pruned
}

// Lookup resolves a fingerprint to its public key and owning server.
func (d *Directory) Lookup(fingerprint string) (pub *rsa.PublicKey, owner string, ok bool) {
	e, found := d.entries[fingerprint]
	if !found {
		return nil, "", false
	}
	return e.pub, e.owner, true
}

// LocalClientsSnapshot returns the public keys of every client owned by
// this server, used to build outbound client_update messages.
func (d *Directory) LocalClientsSnapshot() []*rsa.PublicKey {
	return d.ownedBy(d.self)
}

func (d *Directory) ownedBy(addr string) []*rsa.PublicKey {
	fps := make([]string, 0)
	for fp, e := range d.entries {
		if e.owner == addr {
			fps = append(fps, fp)
		}
	}
	sort.Strings(fps) // deterministic order for tests and logs
	pubs := make([]*rsa.PublicKey, 0, len(fps))
	for _, fp := range fps {
		pubs = append(pubs, d.entries[fp].pub)
	}
	return pubs
}

// Grouped renders the whole directory as client_list server groups,
// ordered by server address.
func (d *Directory) Grouped() ([]model.ServerClients, error) {
	owners := make(map[string]bool)
	for _, e := range d.entries {
		owners[e.owner] = true
	}
	addrs := make([]string, 0, len(owners))
	for addr := range owners {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	groups := make([]model.ServerClients, 0, len(addrs))
	for _, addr := range addrs {
		group := model.ServerClients{Address: addr, Clients: []string{}}
		for _, pub := range d.ownedBy(addr) {
			pemBytes, err := identity.ExportPublicKeyPEM(pub)
			if err != nil {
				return nil, err
			}
			group.Clients = append(group.Clients, string(pemBytes))
		}
		groups = append(groups, group)
	}
	return groups, nil
}
