package metrics

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveOptimize("gemini", OutcomeSuccess, 1500*time.Millisecond)
	m.ObserveOptimize("gemini", OutcomeSuccess, time.Second)
	m.ObserveOptimize("gemini", OutcomeError, time.Second)
	m.IncAnalysis()
	m.IncStaleResponse()
	m.SetHistoryRecords(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.optimizeTotal.WithLabelValues("gemini", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.optimizeTotal.WithLabelValues("gemini", OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.analysisTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.staleResponses))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.historyRecords))

	expected := `
# HELP promptbridge_history_records Records currently held in history.
# TYPE promptbridge_history_records gauge
promptbridge_history_records 7
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "promptbridge_history_records"))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOptimize("openai", OutcomeSuccess, time.Second)
		m.IncAnalysis()
		m.IncStaleResponse()
		m.SetHistoryRecords(3)
	})
}

func TestServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg).IncAnalysis()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, addr, reg, nil) }()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://%s/metrics", addr))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		body = string(data)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	assert.Contains(t, body, "promptbridge_analysis_total 1")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}
