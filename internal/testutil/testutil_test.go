package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTestLogger(t *testing.T) {
	assert.NotNil(t, NewTestLogger(t))
}

func TestSeedWallet(t *testing.T) {
	ctx := context.Background()
	store := NewTestStore(t)

	SeedWallet(t, store, Wallet{
		NodeURL:   "http://127.0.0.1:8080",
		PublicKey: "0x02aa",
		Chain:     "chain-a",
		Origin:    "https://dapp.example",
	})

	endpoint, err := store.RPCEndpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8080", endpoint)

	keys, err := store.OriginPublicKeys(ctx, "https://dapp.example")
	require.NoError(t, err)
	assert.Equal(t, []string{"0x02aa"}, keys)

	chain, err := store.RPCMicrochain(ctx, "https://dapp.example", "0x02aa")
	require.NoError(t, err)
	assert.Equal(t, "chain-a", chain)
}

func TestSeedWallet_Partial(t *testing.T) {
	store := NewTestStore(t)
	SeedWallet(t, store, Wallet{Chain: "chain-b"})

	chains, err := store.Microchains(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"chain-b"}, chains)

	endpoint, err := store.RPCEndpoint(context.Background())
	require.NoError(t, err)
	assert.Empty(t, endpoint)
}

func TestNetworkFromURL(t *testing.T) {
	n, err := networkFromURL("https://node.example:443/graphql")
	require.NoError(t, err)
	assert.Equal(t, "https", n.RPCSchema)
	assert.Equal(t, "wss", n.WSSchema)
	assert.Equal(t, 443, n.Port)
	assert.Equal(t, "graphql", n.Path)

	_, err = networkFromURL("http://no-port")
	assert.Error(t, err)
}
