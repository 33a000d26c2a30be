package chain

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	xerrors "OpenMCP-ChainManager/internal/errors"
)

// MaxCurrencyDecimals is the largest accepted native currency precision.
const MaxCurrencyDecimals = 18

var chainIDPattern = regexp.MustCompile(`^0x[a-fA-F0-9]+$`)

var (
	rpcSchemes = map[string]bool{"http": true, "https": true, "ws": true, "wss": true}
	webSchemes = map[string]bool{"http": true, "https": true}
)

// ValidationResult lists every problem found in a chain configuration.
type ValidationResult struct {
	IsValid bool     `json:"isValid"`
	Errors  []string `json:"errors"`
}

// Err converts a failed result into a VALIDATION_FAILED error carrying the
// individual field errors. It returns nil for a valid result.
func (r ValidationResult) Err() error {
	if r.IsValid {
		return nil
	}
	return xerrors.New(xerrors.CodeValidation, "链配置无效", xerrors.WithDetails(r.Errors...))
}

// IsValidChainID reports whether id is a 0x-prefixed hex string with at
// least one digit.
func IsValidChainID(id string) bool {
	return len(id) > 2 && chainIDPattern.MatchString(id)
}

// IsValidRPCURL accepts http, https, ws and wss endpoints.
func IsValidRPCURL(raw string) bool {
	return hasScheme(raw, rpcSchemes)
}

// IsValidExplorerURL accepts http and https URLs.
func IsValidExplorerURL(raw string) bool {
	return hasScheme(raw, webSchemes)
}

// IsValidIconURL accepts http and https URLs.
func IsValidIconURL(raw string) bool {
	return hasScheme(raw, webSchemes)
}

func hasScheme(raw string, allowed map[string]bool) bool {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return false
	}
	return allowed[strings.ToLower(parsed.Scheme)]
}

// ValidateNativeCurrency checks the currency block on its own.
func ValidateNativeCurrency(currency NativeCurrency) []string {
	var errs []string
	if strings.TrimSpace(currency.Name) == "" {
		errs = append(errs, "Native currency name is required")
	}
	if strings.TrimSpace(currency.Symbol) == "" {
		errs = append(errs, "Native currency symbol is required")
	}
	if currency.Decimals < 0 || currency.Decimals > MaxCurrencyDecimals {
		errs = append(errs, fmt.Sprintf("Native currency decimals must be between 0 and %d", MaxCurrencyDecimals))
	}
	return errs
}

// Validate checks a configuration without modifying it.
func Validate(cfg Config) ValidationResult {
	var errs []string

	switch {
	case cfg.ChainID == "":
		errs = append(errs, "Chain ID is required")
	case !IsValidChainID(strings.TrimSpace(cfg.ChainID)):
		errs = append(errs, "Invalid chain ID format (must be hex string starting with 0x)")
	}

	if strings.TrimSpace(cfg.ChainName) == "" {
		errs = append(errs, "Chain name is required")
	}

	if len(cfg.RPCURLs) == 0 {
		errs = append(errs, "At least one RPC URL is required")
	}
	for i, raw := range cfg.RPCURLs {
		if !IsValidRPCURL(strings.TrimSpace(raw)) {
			errs = append(errs, fmt.Sprintf("Invalid RPC URL at index %d: %s", i, raw))
		}
	}

	errs = append(errs, ValidateNativeCurrency(cfg.NativeCurrency)...)

	for i, raw := range cfg.BlockExplorerURLs {
		if !IsValidExplorerURL(strings.TrimSpace(raw)) {
			errs = append(errs, fmt.Sprintf("Invalid block explorer URL at index %d: %s", i, raw))
		}
	}
	for i, raw := range cfg.IconURLs {
		if !IsValidIconURL(strings.TrimSpace(raw)) {
			errs = append(errs, fmt.Sprintf("Invalid icon URL at index %d: %s", i, raw))
		}
	}

	return ValidationResult{IsValid: len(errs) == 0, Errors: errs}
}

// Sanitize returns a normalized copy of cfg. The input is never mutated and
// Sanitize(Sanitize(c)) == Sanitize(c).
func Sanitize(cfg Config) Config {
	out := cfg.Clone()
	out.ChainID = NormalizeChainID(cfg.ChainID)
	out.ChainName = strings.TrimSpace(cfg.ChainName)
	out.NativeCurrency.Name = strings.TrimSpace(cfg.NativeCurrency.Name)
	out.NativeCurrency.Symbol = strings.ToUpper(strings.TrimSpace(cfg.NativeCurrency.Symbol))
	out.RPCURLs = trimAll(out.RPCURLs)
	out.BlockExplorerURLs = trimAll(out.BlockExplorerURLs)
	out.IconURLs = trimAll(out.IconURLs)
	return out
}

func trimAll(in []string) []string {
	for i := range in {
		in[i] = strings.TrimSpace(in[i])
	}
	return in
}

// NormalizeChainID produces the registry key for a chain id.
func NormalizeChainID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// IsSameChain reports whether two configs describe the same network.
func IsSameChain(a, b Config) bool {
	return NormalizeChainID(a.ChainID) == NormalizeChainID(b.ChainID)
}

// DecimalToHexChainID formats a numeric chain id, e.g. 137 -> "0x89".
func DecimalToHexChainID(id uint64) string {
	return "0x" + strconv.FormatUint(id, 16)
}

// HexToDecimalChainID parses a 0x-prefixed chain id.
func HexToDecimalChainID(id string) (uint64, error) {
	normalized := NormalizeChainID(id)
	if !IsValidChainID(normalized) {
		return 0, fmt.Errorf("链 ID 格式无效: %q", id)
	}
	return strconv.ParseUint(normalized[2:], 16, 64)
}
