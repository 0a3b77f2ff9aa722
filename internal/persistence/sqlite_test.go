package persistence_test

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/frebib/kipa/internal/cryptoprovider"
	"github.com/frebib/kipa/internal/model"
	"github.com/frebib/kipa/internal/neighbours"
	"github.com/frebib/kipa/internal/persistence"
)

func nodeFor(t *testing.T, seed string, port uint16) model.Node {
	t.Helper()
	crypto, err := cryptoprovider.Generate()
	require.NoError(t, err)
	return model.Node{Key: crypto.PublicKey(), Address: model.Address{IP: net.ParseIP("10.0.0.1"), Port: port}}
}

func TestSaveLoadRoundTripsNeighbourState(t *testing.T) {
	crypto, err := cryptoprovider.Generate()
	require.NoError(t, err)

	dbPath := filepath.Join(t.TempDir(), "neighbours.db")
	ps, err := persistence.Open(dbPath, crypto, zap.NewNop())
	require.NoError(t, err)
	defer ps.Close()

	store := neighbours.New(crypto.PublicKey(), neighbours.DefaultConfig())
	a := nodeFor(t, "a", 10)
	b := nodeFor(t, "b", 11)
	store.Consider(a)
	store.Consider(b)
	store.MarkVerified(a.Key)

	require.NoError(t, ps.Save(store))

	restored := neighbours.New(crypto.PublicKey(), neighbours.DefaultConfig())
	restored.Restore(ps.Load())

	assert.Equal(t, 2, restored.Size())
	assert.True(t, restored.IsVerified(a.Key))
	assert.False(t, restored.IsVerified(b.Key))
}

func TestLoadWithNoPriorStateReturnsEmpty(t *testing.T) {
	crypto, err := cryptoprovider.Generate()
	require.NoError(t, err)

	dbPath := filepath.Join(t.TempDir(), "neighbours.db")
	ps, err := persistence.Open(dbPath, crypto, zap.NewNop())
	require.NoError(t, err)
	defer ps.Close()

	assert.Empty(t, ps.Load())
}

func TestLoadWithStateSealedByADifferentIdentityStartsEmpty(t *testing.T) {
	cryptoA, err := cryptoprovider.Generate()
	require.NoError(t, err)
	cryptoB, err := cryptoprovider.Generate()
	require.NoError(t, err)

	dbPath := filepath.Join(t.TempDir(), "neighbours.db")
	psA, err := persistence.Open(dbPath, cryptoA, zap.NewNop())
	require.NoError(t, err)
	defer psA.Close()

	store := neighbours.New(cryptoA.PublicKey(), neighbours.DefaultConfig())
	store.Consider(nodeFor(t, "a", 10))
	require.NoError(t, psA.Save(store))

	psB, err := persistence.Open(dbPath, cryptoB, zap.NewNop())
	require.NoError(t, err)
	defer psB.Close()

	assert.Empty(t, psB.Load())
}
