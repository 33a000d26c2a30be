package api

import (
	"net/http"
	"strconv"

	"OpenMCP-ChainManager/internal/chain"
	xerrors "OpenMCP-ChainManager/internal/errors"
	"OpenMCP-ChainManager/internal/network"
	"OpenMCP-ChainManager/internal/web3"
)

type chainList struct {
	CurrentChainID string         `json:"currentChainId"`
	DefaultChainID string         `json:"defaultChainId"`
	Chains         []chain.Config `json:"chains"`
}

type switchRequest struct {
	ChainID string `json:"chainId"`
}

type transactionRequest struct {
	web3.TransactionRequest
	Async bool `json:"async"`
}

// chainParam 读取路径中的链 ID，"current" 表示当前链。
func chainParam(r *http.Request) string {
	id := r.PathValue("id")
	if id == "current" {
		return ""
	}
	return id
}

func (s *Server) handleListChains(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, chainList{
		CurrentChainID: s.chains.CurrentChainID(),
		DefaultChainID: s.chains.DefaultChainID(),
		Chains:         s.chains.SupportedChains(),
	})
}

func (s *Server) handleGetChain(w http.ResponseWriter, r *http.Request) {
	id := chainParam(r)
	if id == "" {
		id = s.chains.CurrentChainID()
	}
	cfg, ok := s.chains.ChainConfig(id)
	if !ok {
		writeError(w, xerrors.New(xerrors.CodeUnsupportedChain, "不支持的链: "+id))
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleAddChain(w http.ResponseWriter, r *http.Request) {
	var cfg chain.Config
	if err := decodeBody(r, &cfg); err != nil {
		writeError(w, err)
		return
	}
	stored, err := s.chains.AddChain(r.Context(), cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleRemoveChain(w http.ResponseWriter, r *http.Request) {
	if err := s.chains.RemoveChain(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSwitchChain(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ChainID == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "chainId 不能为空"))
		return
	}
	if err := s.chains.SwitchChain(r.Context(), req.ChainID); err != nil {
		writeError(w, err)
		return
	}
	cfg, _ := s.chains.CurrentChainConfig()
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleChainHealth(w http.ResponseWriter, r *http.Request) {
	id := chainParam(r)
	fresh, _ := strconv.ParseBool(r.URL.Query().Get("fresh"))
	if !fresh {
		if cached, ok := s.chains.CachedNetworkHealth(id); ok {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.chains.CheckNetworkHealth(r.Context(), id))
}

func (s *Server) handleAllHealth(w http.ResponseWriter, r *http.Request) {
	concurrency, _ := strconv.Atoi(r.URL.Query().Get("concurrency"))
	results := s.chains.CheckAllNetworkHealth(r.Context(), concurrency)
	out := make([]network.Health, 0, len(results))
	for _, cfg := range s.chains.SupportedChains() {
		if h, ok := results[cfg.ChainID]; ok {
			out = append(out, h)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	balance, err := s.chains.GetBalance(r.Context(), chainParam(r), address)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"address": address, "balance": balance.String()})
}

func (s *Server) handleGasPrice(w http.ResponseWriter, r *http.Request) {
	price, err := s.chains.GetGasPrice(r.Context(), chainParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"gasPrice": price.String()})
}

func (s *Server) handleEstimateGas(w http.ResponseWriter, r *http.Request) {
	var tx web3.TransactionRequest
	if err := decodeBody(r, &tx); err != nil {
		writeError(w, err)
		return
	}
	gas, err := s.chains.EstimateGas(r.Context(), chainParam(r), tx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"gas": gas})
}

func (s *Server) handleSendTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Async {
		pending, err := s.chains.SendTransactionAsync(r.Context(), chainParam(r), req.TransactionRequest)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"chainId": pending.ChainID(), "hash": pending.Hash()})
		return
	}
	receipt, err := s.chains.SendTransaction(r.Context(), chainParam(r), req.TransactionRequest)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.chains.GetTransactionReceipt(r.Context(), chainParam(r), r.PathValue("hash"))
	if err != nil {
		writeError(w, err)
		return
	}
	if receipt == nil {
		writeJSON(w, http.StatusOK, map[string]any{"pending": true})
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}
