package directory

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/santiagosayshey/OMesh/internal/cryptographic/identity"
)

func genKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return priv
}

func TestLocalClientLifecycle(t *testing.T) {
	d := New("self:8766")
	k := genKey(t)
	fp := identity.Fingerprint(&k.PublicKey)

	d.RegisterLocalClient(fp, &k.PublicKey)
	pub, owner, ok := d.Lookup(fp)
	require.True(t, ok)
	assert.Equal(t, &k.PublicKey, pub)
	assert.Equal(t, "self:8766", owner)
	assert.Len(t, d.LocalClientsSnapshot(), 1)

	d.RemoveLocalClient(fp)
	_, _, ok = d.Lookup(fp)
	assert.False(t, ok)
	assert.Empty(t, d.LocalClientsSnapshot())
}

func TestSnapshotReplacesNotMerges(t *testing.T) {
	d := New("self:8766")
	k1, k2, k3 := genKey(t), genKey(t), genKey(t)

	d.ApplyRemoteSnapshot("peer:8766", []*rsa.PublicKey{&k1.PublicKey, &k2.PublicKey})
	_, _, ok := d.Lookup(identity.Fingerprint(&k1.PublicKey))
	assert.True(t, ok)

	// next snapshot omits k1, adds k3; k1 must be pruned
	d.ApplyRemoteSnapshot("peer:8766", []*rsa.PublicKey{&k2.PublicKey, &k3.PublicKey})

	_, _, ok = d.Lookup(identity.Fingerprint(&k1.PublicKey))
	assert.False(t, ok)
	_, _, ok = d.Lookup(identity.Fingerprint(&k2.PublicKey))
	assert.True(t, ok)
	_, _, ok = d.Lookup(identity.Fingerprint(&k3.PublicKey))
	assert.True(t, ok)
}

func TestSnapshotReportsPruned(t *testing.T) {
	d := New("self:8766")
	k1, k2 := genKey(t), genKey(t)
	fp1 := identity.Fingerprint(&k1.PublicKey)

	pruned := d.ApplyRemoteSnapshot("peer:8766", []*rsa.PublicKey{&k1.PublicKey, &k2.PublicKey})
	assert.Empty(t, pruned)

	// only the dropped fingerprint is reported, survivors are not
	pruned = d.ApplyRemoteSnapshot("peer:8766", []*rsa.PublicKey{&k2.PublicKey})
	assert.Equal(t, []string{fp1}, pruned)
}

func TestEmptySnapshotClearsServer(t *testing.T) {
	d := New("self:8766")
	k := genKey(t)
	d.ApplyRemoteSnapshot("peer:8766", []*rsa.PublicKey{&k.PublicKey})

	d.ApplyRemoteSnapshot("peer:8766", nil)
	_, _, ok := d.Lookup(identity.Fingerprint(&k.PublicKey))
	assert.False(t, ok)
}

func TestSnapshotCannotStealForeignEntries(t *testing.T) {
	d := New("self:8766")
	k := genKey(t)
	fp := identity.Fingerprint(&k.PublicKey)

	d.RegisterLocalClient(fp, &k.PublicKey)

	// a remote server claiming our client does not change ownership
	d.ApplyRemoteSnapshot("peer:8766", []*rsa.PublicKey{&k.PublicKey})
	_, owner, ok := d.Lookup(fp)
	require.True(t, ok)
	assert.Equal(t, "self:8766", owner)
}

func TestSnapshotsFromDifferentServersIsolated(t *testing.T) {
	d := New("self:8766")
	ka, kb := genKey(t), genKey(t)

	d.ApplyRemoteSnapshot("a:8766", []*rsa.PublicKey{&ka.PublicKey})
	d.ApplyRemoteSnapshot("b:8766", []*rsa.PublicKey{&kb.PublicKey})

	// clearing a leaves b untouched
	d.ApplyRemoteSnapshot("a:8766", nil)
	_, _, ok := d.Lookup(identity.Fingerprint(&ka.PublicKey))
	assert.False(t, ok)
	_, owner, ok := d.Lookup(identity.Fingerprint(&kb.PublicKey))
	require.True(t, ok)
	assert.Equal(t, "b:8766", owner)
}

func TestRemoveLocalClientLeavesRemoteAlone(t *testing.T) {
	d := New("self:8766")
	k := genKey(t)
	fp := identity.Fingerprint(&k.PublicKey)

	d.ApplyRemoteSnapshot("peer:8766", []*rsa.PublicKey{&k.PublicKey})
	d.RemoveLocalClient(fp)

	_, _, ok := d.Lookup(fp)
	assert.True(t, ok)
}

func TestGrouped(t *testing.T) {
	d := New("self:8766")
	local, remote := genKey(t), genKey(t)

	d.RegisterLocalClient(identity.Fingerprint(&local.PublicKey), &local.PublicKey)
	d.ApplyRemoteSnapshot("peer:8766", []*rsa.PublicKey{&remote.PublicKey})

	groups, err := d.Grouped()
	require.NoError(t, err)
	require.Len(t, groups, 2)

	// sorted by address: "peer:8766" < "self:8766"
	assert.Equal(t, "peer:8766", groups[0].Address)
	assert.Equal(t, "self:8766", groups[1].Address)
	require.Len(t, groups[0].Clients, 1)
	require.Len(t, groups[1].Clients, 1)

	pub, err := identity.ParsePublicKeyPEM([]byte(groups[1].Clients[0]))
	require.NoError(t, err)
	assert.Equal(t, identity.Fingerprint(&local.PublicKey), identity.Fingerprint(pub))
}

func TestGroupedEmptyDirectory(t *testing.T) {
	d := New("self:8766")
	groups, err := d.Grouped()
	require.NoError(t, err)
	assert.Empty(t, groups)
}
