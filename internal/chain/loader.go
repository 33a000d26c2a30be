package chain

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definitions models the structure of configs/chains.yaml.
type Definitions struct {
	DefaultChain string   `yaml:"default_chain"`
	Chains       []Config `yaml:"chains"`
}

// LoadDefinitions parses the YAML file containing chain metadata. An empty
// path yields the built-in chain set.
func LoadDefinitions(path string) (Definitions, error) {
	if strings.TrimSpace(path) == "" {
		return Definitions{DefaultChain: DefaultChainID, Chains: BuiltinChains()}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Definitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}
	return ParseDefinitions(content)
}

// ParseDefinitions decodes YAML chain definitions.
func ParseDefinitions(content []byte) (Definitions, error) {
	var defs Definitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return Definitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if len(defs.Chains) == 0 {
		defs.Chains = BuiltinChains()
	}
	if strings.TrimSpace(defs.DefaultChain) == "" {
		defs.DefaultChain = DefaultChainID
	}
	defs.DefaultChain = NormalizeChainID(defs.DefaultChain)
	return defs, nil
}
