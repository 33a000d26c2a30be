package chain

// DefaultChainID is used when no default chain is configured.
const DefaultChainID = "0x1"

// BuiltinChains returns the networks registered when no definitions file is
// configured.
func BuiltinChains() []Config {
	return []Config{
		{
			ChainID:           "0x1",
			ChainName:         "Ethereum Mainnet",
			NativeCurrency:    NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18},
			RPCURLs:           []string{"https://eth.llamarpc.com", "https://rpc.ankr.com/eth"},
			BlockExplorerURLs: []string{"https://etherscan.io"},
		},
		{
			ChainID:           "0xaa36a7",
			ChainName:         "Sepolia",
			NativeCurrency:    NativeCurrency{Name: "Sepolia Ether", Symbol: "ETH", Decimals: 18},
			RPCURLs:           []string{"https://rpc.sepolia.org", "https://ethereum-sepolia-rpc.publicnode.com"},
			BlockExplorerURLs: []string{"https://sepolia.etherscan.io"},
		},
		{
			ChainID:           "0x89",
			ChainName:         "Polygon Mainnet",
			NativeCurrency:    NativeCurrency{Name: "POL", Symbol: "POL", Decimals: 18},
			RPCURLs:           []string{"https://polygon-rpc.com", "https://rpc.ankr.com/polygon"},
			BlockExplorerURLs: []string{"https://polygonscan.com"},
		},
		{
			ChainID:           "0x38",
			ChainName:         "BNB Smart Chain",
			NativeCurrency:    NativeCurrency{Name: "BNB", Symbol: "BNB", Decimals: 18},
			RPCURLs:           []string{"https://bsc-dataseed.binance.org", "https://rpc.ankr.com/bsc"},
			BlockExplorerURLs: []string{"https://bscscan.com"},
		},
		{
			ChainID:           "0xa4b1",
			ChainName:         "Arbitrum One",
			NativeCurrency:    NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18},
			RPCURLs:           []string{"https://arb1.arbitrum.io/rpc", "https://rpc.ankr.com/arbitrum"},
			BlockExplorerURLs: []string{"https://arbiscan.io"},
		},
	}
}
