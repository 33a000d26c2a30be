package chain

import (
	stdErrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryInsertDeleteRoundTrip(t *testing.T) {
	reg, err := NewRegistry(BuiltinChains()...)
	require.NoError(t, err)
	before := reg.IDs()

	cfg := Sanitize(Config{
		ChainID:        "0x2105",
		ChainName:      "Base",
		NativeCurrency: NativeCurrency{Name: "Ether", Symbol: "eth", Decimals: 18},
		RPCURLs:        []string{"https://mainnet.base.org"},
	})
	stored, err := reg.Insert(cfg)
	require.NoError(t, err)
	require.Equal(t, "ETH", stored.NativeCurrency.Symbol)
	require.True(t, reg.Has("0X2105"))

	_, err = reg.Insert(cfg)
	require.True(t, stdErrors.Is(err, ErrDuplicateChain))

	require.True(t, reg.Delete("0x2105"))
	require.False(t, reg.Delete("0x2105"))
	require.Equal(t, before, reg.IDs())
}

func TestRegistryReturnsCopies(t *testing.T) {
	reg, err := NewRegistry(BuiltinChains()...)
	require.NoError(t, err)

	cfg, ok := reg.Get("0x1")
	require.True(t, ok)
	cfg.RPCURLs[0] = "https://mutated.example"

	again, _ := reg.Get("0x1")
	require.Equal(t, "https://eth.llamarpc.com", again.RPCURLs[0])

	list := reg.List()
	require.Len(t, list, 5)
	require.Equal(t, "0x1", list[0].ChainID)
}

func TestNewRegistryRejectsInvalidAndDuplicate(t *testing.T) {
	bad := BuiltinChains()[0]
	bad.NativeCurrency.Decimals = 20
	_, err := NewRegistry(bad)
	require.True(t, stdErrors.Is(err, ErrValidation))

	dup := BuiltinChains()[0]
	dup.ChainID = " 0x1 "
	_, err = NewRegistry(BuiltinChains()[0], dup)
	require.True(t, stdErrors.Is(err, ErrDuplicateChain))

	arbitrum := BuiltinChains()[4]
	upper := arbitrum
	upper.ChainID = "0xA4B1"
	_, err = NewRegistry(arbitrum, upper)
	require.True(t, stdErrors.Is(err, ErrDuplicateChain))

	dup.ChainID = "0X1"
	_, err = NewRegistry(dup)
	require.True(t, stdErrors.Is(err, ErrValidation))
}

func TestLoadDefinitions(t *testing.T) {
	defs, err := LoadDefinitions("")
	require.NoError(t, err)
	require.Equal(t, DefaultChainID, defs.DefaultChain)
	require.Len(t, defs.Chains, 5)

	path := filepath.Join(t.TempDir(), "chains.yaml")
	content := `
default_chain: "0x89"
chains:
  - chain_id: "0x89"
    chain_name: Polygon Mainnet
    native_currency:
      name: POL
      symbol: POL
      decimals: 18
    rpc_urls:
      - https://polygon-rpc.com
      - wss://polygon.example/ws
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	defs, err = LoadDefinitions(path)
	require.NoError(t, err)
	require.Equal(t, "0x89", defs.DefaultChain)
	require.Len(t, defs.Chains, 1)
	require.Equal(t, []string{"https://polygon-rpc.com", "wss://polygon.example/ws"}, defs.Chains[0].RPCURLs)
	require.Equal(t, 18, defs.Chains[0].NativeCurrency.Decimals)

	_, err = LoadDefinitions(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
