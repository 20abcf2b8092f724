package api

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/microgrid/app"
	"github.com/kilianp07/microgrid/config"
	coremetrics "github.com/kilianp07/microgrid/core/metrics"
	"github.com/kilianp07/microgrid/core/model"
	corestore "github.com/kilianp07/microgrid/core/store"
	"github.com/kilianp07/microgrid/infra/logger"
)

type memStore struct {
	mu   sync.Mutex
	recs []corestore.RunRecord
}

func (m *memStore) Append(_ context.Context, r corestore.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, r)
	return nil
}

func (m *memStore) Query(_ context.Context, q corestore.RunQuery) ([]corestore.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []corestore.RunRecord
	for _, r := range m.recs {
		if q.Match(r) {
			out = append(out, r)
		}
	}
	return q.Finish(out), nil
}

func (m *memStore) Close() error { return nil }

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, token string) (*httptest.Server, *app.Service) {
	t.Helper()
	cfg := config.Default()
	cfg.Storage = model.StorageConfig{CapacityKWh: 100, MaxPowerKW: 50, Efficiency: 1}
	cfg.Attribution.Workers = 2

	var mu sync.Mutex
	calls := 0
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return base.Add(time.Duration(calls) * time.Hour)
	}
	svc, err := app.New(&cfg,
		app.WithSink(coremetrics.NopSink{}),
		app.WithStore(&memStore{}),
		app.WithLogger(logger.NopLogger{}),
		app.WithClock(clock),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	srv := NewServer(svc, config.APIConfig{Token: token}, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, svc
}

func do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func post(t *testing.T, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "text/csv")
	return do(t, req)
}

const surplusCSV = "demand_kw,solar_kw,wind_kw\n70,70,30\n"

func TestSimulate(t *testing.T) {
	ts, _ := newTestServer(t, "")

	resp, body := post(t, ts.URL+"/api/simulate?name=site", surplusCSV)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out SimulateResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.NotEmpty(t, out.RunID)
	assert.Equal(t, "site", out.Name)
	assert.Equal(t, 1, out.Steps)
	assert.InDelta(t, 30, out.KPIs.ChargeKWh, 1e-9)
	assert.Zero(t, out.KPIs.ImportKWh)
	assert.NotEmpty(t, out.Flows)
	assert.Empty(t, out.Ledger)
}

func TestSimulate_WithLedger(t *testing.T) {
	ts, _ := newTestServer(t, "")

	resp, body := post(t, ts.URL+"/api/simulate?ledger=true", "demand_kw,solar_kw\n10,4\n10,20\n")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out SimulateResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "api", out.Name)
	require.Len(t, out.Ledger, 2)
}

func TestSimulate_Errors(t *testing.T) {
	ts, _ := newTestServer(t, "")

	cases := map[string]struct {
		body string
		code int
		kind string
	}{
		"malformed csv":  {"solar_kw\n1\n", http.StatusBadRequest, ""},
		"bad number":     {"demand_kw\nabc\n", http.StatusBadRequest, ""},
		"negative value": {"demand_kw,solar_kw\n-1,2\n", http.StatusUnprocessableEntity, "invalid_input"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			resp, body := post(t, ts.URL+"/api/simulate", tc.body)
			assert.Equal(t, tc.code, resp.StatusCode)
			var e struct {
				Error string `json:"error"`
				Kind  string `json:"kind"`
			}
			require.NoError(t, json.Unmarshal(body, &e))
			assert.NotEmpty(t, e.Error)
			assert.Equal(t, tc.kind, e.Kind)
		})
	}
}

func TestSimulate_MethodNotAllowed(t *testing.T) {
	ts, _ := newTestServer(t, "")
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/simulate", nil)
	resp, _ := do(t, req)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRuns(t *testing.T) {
	ts, _ := newTestServer(t, "")
	for _, name := range []string{"a", "b", "a"} {
		resp, body := post(t, ts.URL+"/api/simulate?name="+name, surplusCSV)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	}

	list := func(query string) []corestore.RunRecord {
		t.Helper()
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/runs"+query, nil)
		resp, body := do(t, req)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		var recs []corestore.RunRecord
		require.NoError(t, json.Unmarshal(body, &recs))
		return recs
	}

	assert.Len(t, list(""), 3)
	assert.Len(t, list("?name=a"), 2)
	assert.Len(t, list("?limit=1"), 1)
	assert.Empty(t, list("?name=none"))

	all := list("")
	start := all[1].Timestamp.Format(time.RFC3339)
	assert.Len(t, list("?start="+start), 2)
	assert.Len(t, list("?end="+start), 2)
}

func TestRuns_BadQuery(t *testing.T) {
	ts, _ := newTestServer(t, "")
	for _, q := range []string{"?start=yesterday", "?end=1", "?limit=-2", "?limit=x"} {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/runs"+q, nil)
		resp, _ := do(t, req)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestAuth(t *testing.T) {
	ts, _ := newTestServer(t, "secret")

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/runs", nil)
	resp, _ := do(t, req)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/api/runs", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, _ = do(t, req)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/api/runs", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, _ = do(t, req)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	resp, _ = do(t, req)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGzip(t *testing.T) {
	ts, _ := newTestServer(t, "")

	var csv strings.Builder
	csv.WriteString("demand_kw,solar_kw\n")
	for i := 0; i < 48; i++ {
		fmt.Fprintf(&csv, "%d,%d\n", 10+i%5, i%24)
	}
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/simulate?ledger=1", strings.NewReader(csv.String()))
	req.Header.Set("Accept-Encoding", "gzip")
	resp, body := do(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))

	zr, err := gzip.NewReader(strings.NewReader(string(body)))
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	var out SimulateResponse
	require.NoError(t, json.Unmarshal(plain, &out))
	assert.Len(t, out.Ledger, 48)
}

func TestServe_Shutdown(t *testing.T) {
	_, svc := newTestServer(t, "")
	srv := NewServer(svc, config.APIConfig{}, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
