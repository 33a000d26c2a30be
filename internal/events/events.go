package events

import (
	"encoding/json"
	"time"

	"OpenMCP-ChainManager/internal/chain"
)

// Event names delivered on the bus.
const (
	NameChainChanged = "chainChanged"
	NameChainAdded   = "chainAdded"
	NameChainRemoved = "chainRemoved"
	NameNetworkError = "networkError"
)

// Event is implemented by the closed set of bus payloads below.
type Event interface {
	Name() string
}

// Reasons and sources recorded on chain lifecycle events.
const (
	ReasonUser          = "user"
	ReasonAuto          = "auto"
	ReasonErrorRecovery = "error_recovery"

	SourceUser   = "user"
	SourceConfig = "config"
)

// ChainChanged is emitted after the active chain was switched.
type ChainChanged struct {
	PreviousChainID string       `json:"previousChainId"`
	CurrentChainID  string       `json:"currentChainId"`
	ChainConfig     chain.Config `json:"chainConfig"`
	Timestamp       time.Time    `json:"timestamp"`
	Reason          string       `json:"reason,omitempty"`
}

func (ChainChanged) Name() string { return NameChainChanged }

// ChainAdded is emitted after a chain was registered at runtime.
type ChainAdded struct {
	ChainConfig chain.Config `json:"chainConfig"`
	Timestamp   time.Time    `json:"timestamp"`
	Source      string       `json:"source,omitempty"`
}

func (ChainAdded) Name() string { return NameChainAdded }

// ChainRemoved is emitted after a chain was unregistered.
type ChainRemoved struct {
	ChainID   string    `json:"chainId"`
	ChainName string    `json:"chainName"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

func (ChainRemoved) Name() string { return NameChainRemoved }

// NetworkError is emitted before a failed network operation returns its
// error. ErrorType carries the error code.
type NetworkError struct {
	ChainID   string
	Err       error
	ErrorType string
	Timestamp time.Time
	IsFatal   bool
}

func (NetworkError) Name() string { return NameNetworkError }

// MarshalJSON renders Err as its message.
func (e NetworkError) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		ChainID   string    `json:"chainId"`
		Error     string    `json:"error"`
		ErrorType string    `json:"errorType"`
		Timestamp time.Time `json:"timestamp"`
		IsFatal   bool      `json:"isFatal,omitempty"`
	}{e.ChainID, msg, e.ErrorType, e.Timestamp, e.IsFatal})
}
