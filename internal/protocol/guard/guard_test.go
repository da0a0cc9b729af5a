package guard

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/santiagosayshey/OMesh/internal/protocol/envelope"
)

func TestRegisterAndLookup(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	r := NewRegistry()
	assert.False(t, r.Known("fp"))
	assert.Nil(t, r.PublicKey("fp"))

	r.Register("fp", &priv.PublicKey)
	assert.True(t, r.Known("fp"))
	assert.Equal(t, &priv.PublicKey, r.PublicKey("fp"))
	assert.Equal(t, uint64(0), r.LastCounter("fp"))
}

func TestAcceptAdvancesMonotonically(t *testing.T) {
	r := NewRegistry()
	r.Register("fp", nil)

	require.NoError(t, r.Accept("fp", 1))
	require.NoError(t, r.Accept("fp", 2))
	// gaps are fine, only ordering matters
	require.NoError(t, r.Accept("fp", 10))
	assert.Equal(t, uint64(10), r.LastCounter("fp"))
}

func TestAcceptRejectsStaleCounters(t *testing.T) {
	r := NewRegistry()
	r.Register("fp", nil)

	require.NoError(t, r.Accept("fp", 5))

	// equal and lower counters both count as replays, and the rejection
	// must not disturb the stored high-water mark
	assert.ErrorIs(t, r.Accept("fp", 5), envelope.ErrReplayDetected)
	assert.ErrorIs(t, r.Accept("fp", 3), envelope.ErrReplayDetected)
	assert.Equal(t, uint64(5), r.LastCounter("fp"))

	require.NoError(t, r.Accept("fp", 6))
}

func TestAcceptUnknownSender(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Accept("ghost", 1))
}

func TestSendersAreIndependent(t *testing.T) {
	r := NewRegistry()
	r.Register("a", nil)
	r.Register("b", nil)

	require.NoError(t, r.Accept("a", 9))
	require.NoError(t, r.Accept("b", 1))
	assert.Equal(t, uint64(9), r.LastCounter("a"))
	assert.Equal(t, uint64(1), r.LastCounter("b"))
}

func TestRemoveDropsState(t *testing.T) {
	r := NewRegistry()
	r.Register("fp", nil)
	require.NoError(t, r.Accept("fp", 4))

	r.Remove("fp")
	assert.False(t, r.Known("fp"))

	// re-registration starts the counter over
	r.Register("fp", nil)
	assert.Equal(t, uint64(0), r.LastCounter("fp"))
	require.NoError(t, r.Accept("fp", 1))
}
