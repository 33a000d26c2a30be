package chainmgr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestSwitchChainPostsChainID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/chains/switch" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(Chain{ChainID: body["chainId"], ChainName: "Polygon Mainnet"})
	})

	chain, err := client.SwitchChain(context.Background(), "0x89")
	if err != nil {
		t.Fatalf("switch chain: %v", err)
	}
	if chain.ChainID != "0x89" {
		t.Fatalf("unexpected chain: %+v", chain)
	}
}

func TestPerChainCallsDefaultToCurrent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/chains/current/gas-price":
			_ = json.NewEncoder(w).Encode(map[string]string{"gasPrice": "30000000000"})
		case "/api/v1/chains/0x1/balance/0xabc":
			_ = json.NewEncoder(w).Encode(map[string]string{"balance": "1000000000000000000000"})
		case "/api/v1/chains/0x1/health":
			if r.URL.Query().Get("fresh") != "true" {
				t.Fatalf("expected fresh health check")
			}
			_ = json.NewEncoder(w).Encode(Health{ChainID: "0x1", IsHealthy: true, BlockNumber: 5})
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	})
	ctx := context.Background()

	price, err := client.GasPrice(ctx, "")
	if err != nil || price.String() != "30000000000" {
		t.Fatalf("unexpected gas price %v: %v", price, err)
	}
	balance, err := client.Balance(ctx, "0x1", "0xabc")
	if err != nil || balance.String() != "1000000000000000000000" {
		t.Fatalf("unexpected balance %v: %v", balance, err)
	}
	health, err := client.Health(ctx, "0x1", true)
	if err != nil || !health.IsHealthy || health.BlockNumber != 5 {
		t.Fatalf("unexpected health %+v: %v", health, err)
	}
}

func TestReceiptPending(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/chains/0x1/transactions/0xdone/receipt" {
			_ = json.NewEncoder(w).Encode(Receipt{TransactionHash: "0xdone", Status: true})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]bool{"pending": true})
	})
	ctx := context.Background()

	receipt, err := client.Receipt(ctx, "0x1", "0xwait")
	if err != nil || receipt != nil {
		t.Fatalf("expected pending receipt, got %+v, %v", receipt, err)
	}
	receipt, err = client.Receipt(ctx, "0x1", "0xdone")
	if err != nil || receipt == nil || !receipt.Status {
		t.Fatalf("expected confirmed receipt, got %+v, %v", receipt, err)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"StatusCode":0,"code":"VALIDATION_FAILED","message":"invalid chain configuration",` +
			`"details":["Native currency decimals must be between 0 and 18"]}`))
	})

	_, err := client.AddChain(context.Background(), Chain{ChainID: "0x2105"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != "VALIDATION_FAILED" || len(apiErr.Details) != 1 {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestRemoveChainNoContent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/api/v1/chains/0x2105" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	if err := client.RemoveChain(context.Background(), "0x2105"); err != nil {
		t.Fatalf("remove chain: %v", err)
	}
}
