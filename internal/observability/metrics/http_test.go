package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T) map[string]*dto.MetricFamily {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	dec := expfmt.NewDecoder(rec.Result().Body, expfmt.NewFormat(expfmt.TypeTextPlain))
	out := make(map[string]*dto.MetricFamily)
	for {
		mf := &dto.MetricFamily{}
		if err := dec.Decode(mf); err != nil {
			require.ErrorIs(t, err, io.EOF)
			return out
		}
		out[mf.GetName()] = mf
	}
}

func TestHandlerExposesChainSeries(t *testing.T) {
	ObserveRPC("0x1", "eth_getBalance", nil, 20*time.Millisecond)
	ObserveRPC("0x1", "eth_getBalance", errors.New("boom"), time.Millisecond)
	ObserveHealth("0x89", true, 1234, 0)
	ObserveConfirmation("0x1", "timeout", 60)
	SetActiveChain("0x1", "0x89")
	ObserveHTTPRequest("/api/v1/chains", "GET", 200, 3*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)

	text := string(body)
	require.Contains(t, text, `chainmgr_rpc_calls_total{chain_id="0x1",operation="eth_getBalance",outcome="error"} 1`)
	require.Contains(t, text, `chainmgr_chain_block_number{chain_id="0x89"} 1234`)
	require.Contains(t, text, `chainmgr_transaction_confirmations_total{chain_id="0x1",outcome="timeout"} 1`)
	require.Contains(t, text, `chainmgr_active_chain{chain_id="0x89"} 1`)
	require.Contains(t, text, `chainmgr_http_requests_total{code="200",handler="/api/v1/chains",method="GET"} 1`)

	ForgetChain("0x89")
	rec = httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ = io.ReadAll(rec.Result().Body)
	require.NotContains(t, string(body), `chainmgr_chain_block_number{chain_id="0x89"}`)
}

func TestConfirmationAttemptsHistogram(t *testing.T) {
	ObserveConfirmation("0xa4b1", "confirmed", 3)
	ObserveConfirmation("0xa4b1", "canceled", 0)

	families := scrape(t)
	hist, ok := families["chainmgr_transaction_confirmation_attempts"]
	require.True(t, ok)
	var found bool
	for _, m := range hist.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetName() == "chain_id" && l.GetValue() == "0xa4b1" {
				found = true
				require.Equal(t, uint64(1), m.GetHistogram().GetSampleCount())
				require.Equal(t, 3.0, m.GetHistogram().GetSampleSum())
			}
		}
	}
	require.True(t, found)
	require.Contains(t, families, "chainmgr_transaction_confirmations_total")
}
