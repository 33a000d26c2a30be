package ethereum

import (
	"OpenMCP-ChainManager/internal/web3"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// rpcReceipt decodes eth_getTransactionReceipt leniently. Fields that some
// endpoints omit or return as null are pointers.
type rpcReceipt struct {
	TransactionHash   string          `json:"transactionHash"`
	BlockHash         string          `json:"blockHash"`
	BlockNumber       *hexutil.Uint64 `json:"blockNumber"`
	TransactionIndex  *hexutil.Uint64 `json:"transactionIndex"`
	From              string          `json:"from"`
	To                string          `json:"to"`
	GasUsed           *hexutil.Uint64 `json:"gasUsed"`
	CumulativeGasUsed *hexutil.Uint64 `json:"cumulativeGasUsed"`
	ContractAddress   string          `json:"contractAddress"`
	Logs              []rpcLog        `json:"logs"`
	LogsBloom         string          `json:"logsBloom"`
	EffectiveGasPrice *hexutil.Big    `json:"effectiveGasPrice"`
	Status            *hexutil.Uint64 `json:"status"`
	Type              *hexutil.Uint64 `json:"type"`
}

type rpcLog struct {
	Address          string          `json:"address"`
	Topics           []string        `json:"topics"`
	Data             string          `json:"data"`
	BlockNumber      *hexutil.Uint64 `json:"blockNumber"`
	TransactionHash  string          `json:"transactionHash"`
	TransactionIndex *hexutil.Uint64 `json:"transactionIndex"`
	BlockHash        string          `json:"blockHash"`
	LogIndex         *hexutil.Uint64 `json:"logIndex"`
	Removed          bool            `json:"removed"`
}

func (r rpcReceipt) toReceipt() *web3.TransactionReceipt {
	out := &web3.TransactionReceipt{
		TransactionHash:   r.TransactionHash,
		BlockNumber:       u64(r.BlockNumber),
		GasUsed:           u64(r.GasUsed),
		Status:            r.Status != nil && uint64(*r.Status) == 1,
		BlockHash:         r.BlockHash,
		TransactionIndex:  u64(r.TransactionIndex),
		From:              r.From,
		To:                r.To,
		CumulativeGasUsed: u64(r.CumulativeGasUsed),
		ContractAddress:   r.ContractAddress,
		LogsBloom:         r.LogsBloom,
		Type:              u64(r.Type),
	}
	if r.EffectiveGasPrice != nil {
		out.EffectiveGasPrice = r.EffectiveGasPrice.ToInt().String()
	}
	for _, l := range r.Logs {
		out.Logs = append(out.Logs, web3.Log{
			Address:          l.Address,
			Topics:           l.Topics,
			Data:             l.Data,
			BlockNumber:      u64(l.BlockNumber),
			TransactionHash:  l.TransactionHash,
			TransactionIndex: u64(l.TransactionIndex),
			BlockHash:        l.BlockHash,
			LogIndex:         u64(l.LogIndex),
			Removed:          l.Removed,
		})
	}
	return out
}

func u64(v *hexutil.Uint64) uint64 {
	if v == nil {
		return 0
	}
	return uint64(*v)
}
