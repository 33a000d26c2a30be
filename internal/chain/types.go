package chain

import (
	xerrors "OpenMCP-ChainManager/internal/errors"
)

// NativeCurrency describes the gas token of a chain.
type NativeCurrency struct {
	Name     string `json:"name" yaml:"name"`
	Symbol   string `json:"symbol" yaml:"symbol"`
	Decimals int    `json:"decimals" yaml:"decimals"`
}

// Config is the registered description of one network. ChainID is the
// canonical lower-case hex identifier and the registry key.
type Config struct {
	ChainID           string         `json:"chainId" yaml:"chain_id"`
	ChainName         string         `json:"chainName" yaml:"chain_name"`
	NativeCurrency    NativeCurrency `json:"nativeCurrency" yaml:"native_currency"`
	RPCURLs           []string       `json:"rpcUrls" yaml:"rpc_urls"`
	BlockExplorerURLs []string       `json:"blockExplorerUrls,omitempty" yaml:"block_explorer_urls,omitempty"`
	IconURLs          []string       `json:"iconUrls,omitempty" yaml:"icon_urls,omitempty"`
}

// Clone returns a deep copy so registered configs cannot be mutated through
// slices handed out to callers.
func (c Config) Clone() Config {
	c.RPCURLs = cloneStrings(c.RPCURLs)
	c.BlockExplorerURLs = cloneStrings(c.BlockExplorerURLs)
	c.IconURLs = cloneStrings(c.IconURLs)
	return c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

var (
	// ErrUnsupportedChain 表示链未在注册表中。
	ErrUnsupportedChain = xerrors.New(xerrors.CodeUnsupportedChain, "")
	// ErrDuplicateChain 表示链已经注册。
	ErrDuplicateChain = xerrors.New(xerrors.CodeDuplicateChain, "")
	// ErrValidation 表示链配置未通过校验。
	ErrValidation = xerrors.New(xerrors.CodeValidation, "")
)
