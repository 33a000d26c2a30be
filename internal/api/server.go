package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"OpenMCP-ChainManager/internal/chainmanager"
	xerrors "OpenMCP-ChainManager/internal/errors"
	"OpenMCP-ChainManager/internal/observability/metrics"
	"OpenMCP-ChainManager/pkg/logger"
)

// Server 负责暴露链管理 REST 接口与事件推送。
type Server struct {
	addr    string
	chains  *chainmanager.Manager
	logger  *slog.Logger
	handler http.Handler
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, chains *chainmanager.Manager) *Server {
	s := &Server{addr: addr, chains: chains, logger: logger.Named("api")}
	s.handler = s.routes()
	return s
}

// Handler 返回完整的路由，便于测试或嵌入其他服务。
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", "address", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, observe(pattern, fn))
	}

	handle("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", metrics.Handler())

	handle("GET /api/v1/chains", s.handleListChains)
	handle("POST /api/v1/chains", s.handleAddChain)
	handle("POST /api/v1/chains/switch", s.handleSwitchChain)
	handle("GET /api/v1/chains/{id}", s.handleGetChain)
	handle("DELETE /api/v1/chains/{id}", s.handleRemoveChain)
	handle("GET /api/v1/chains/{id}/health", s.handleChainHealth)
	handle("GET /api/v1/chains/{id}/balance/{address}", s.handleBalance)
	handle("GET /api/v1/chains/{id}/gas-price", s.handleGasPrice)
	handle("POST /api/v1/chains/{id}/estimate-gas", s.handleEstimateGas)
	handle("POST /api/v1/chains/{id}/transactions", s.handleSendTransaction)
	handle("GET /api/v1/chains/{id}/transactions/{hash}/receipt", s.handleReceipt)
	handle("GET /api/v1/health", s.handleAllHealth)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	return mux
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// observe 记录每个路由的请求量与耗时。
func observe(pattern string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(pattern, r.Method, rec.status, time.Since(start))
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	writeJSON(w, xerrors.StatusOf(err), errorResponse{
		Code:    string(code),
		Message: err.Error(),
		Details: xerrors.DetailsOf(err),
	})
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}
