package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txguard/internal/audit"
	"txguard/internal/config"
	"txguard/internal/engine"
	"txguard/internal/memory"
	"txguard/internal/model"
	"txguard/internal/storage"
)

type fixture struct {
	srv     *httptest.Server
	eng     *engine.Engine
	cfg     *config.Manager
	reports storage.Store
}

func newFixture(t *testing.T, withStorage bool) *fixture {
	t.Helper()
	base := config.DefaultConfig()
	base.API.AllowConfigUpdates = true
	cfg := config.NewStaticManager(base)
	var reports storage.Store
	if withStorage {
		s, err := storage.NewSQLite("file:" + filepath.Join(t.TempDir(), "api.db"))
		require.NoError(t, err)
		require.NoError(t, s.Init(context.Background()))
		t.Cleanup(func() { _ = s.Close() })
		reports = s
	}
	auditLog := audit.NewLog()
	mem := memory.NewStore()
	eng := engine.NewEngine(cfg.Get(), nil, auditLog, mem, reports)
	srv := httptest.NewServer(NewServer(cfg, auditLog, mem, reports, eng, nil, "test").Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, eng: eng, cfg: cfg, reports: reports}
}

func (f *fixture) evaluate(t *testing.T) *engine.BatchResult {
	t.Helper()
	amount := func(v int64) decimal.Decimal { return decimal.NewFromInt(v) }
	res, err := f.eng.EvaluateBatch(context.Background(), []model.Transaction{
		{UserID: "101", Amount: amount(1000), Time: "10:00", Location: "Chennai", Merchant: "Amazon", Category: "Shopping"},
		{UserID: "101", Amount: amount(2000), Time: "11:00", Location: "Chennai", Merchant: "Amazon", Category: "Shopping"},
		{UserID: "102", Amount: amount(5000), Time: "02:00", Location: "Delhi", Merchant: "Flipkart", Category: "Electronics"},
		{UserID: "103", Amount: amount(90000), Time: "12:00", Location: "Chennai", Merchant: "Croma", Category: "Electronics"},
	})
	require.NoError(t, err)
	return res
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestStatus(t *testing.T) {
	f := newFixture(t, false)
	res := f.evaluate(t)
	var status map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/status", &status))
	assert.Equal(t, "ok", status["status"])
	assert.Equal(t, "test", status["version"])
	assert.Equal(t, float64(4), status["log_entries"])
	assert.Equal(t, res.ID, status["latest_batch"])
}

func TestLogEndpoint(t *testing.T) {
	f := newFixture(t, false)
	f.evaluate(t)

	var body struct {
		Entries []model.LogEntry `json:"entries"`
		Count   int              `json:"count"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/v1/log", &body))
	require.Equal(t, 4, body.Count)
	assert.Equal(t, model.ActionBlockAndAlert, body.Entries[3].Action)

	require.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/v1/log?limit=1", &body))
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "103", body.Entries[0].UserID)

	require.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/v1/log?since=2000-01-01T00:00:00Z", &body))
	assert.Equal(t, 4, body.Count)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, f.srv.URL+"/v1/log?since=yesterday", nil))
}

func TestMemoryEndpoints(t *testing.T) {
	f := newFixture(t, false)
	var empty map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/v1/memory", &empty))
	assert.Equal(t, float64(0), empty["count"])

	f.evaluate(t)
	var all struct {
		Profiles []model.UserProfile `json:"profiles"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/v1/memory", &all))
	require.Len(t, all.Profiles, 3)
	assert.Equal(t, "101", all.Profiles[0].UserID)
	assert.True(t, all.Profiles[0].Average.Equal(decimal.NewFromInt(1500)))

	var one struct {
		Profile model.UserProfile `json:"profile"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/v1/memory/101", &one))
	assert.Equal(t, 2, one.Profile.Count)
	assert.Equal(t, http.StatusNotFound, getJSON(t, f.srv.URL+"/v1/memory/999", nil))
}

func TestSummaryAndReport(t *testing.T) {
	f := newFixture(t, false)
	assert.Equal(t, http.StatusNotFound, getJSON(t, f.srv.URL+"/v1/summary", nil))

	f.evaluate(t)
	var body struct {
		Summary struct {
			Total, Normal, Suspicious, Fraud int
		} `json:"summary"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/v1/summary", &body))
	assert.Equal(t, 4, body.Summary.Total)
	assert.Equal(t, 2, body.Summary.Normal)
	assert.Equal(t, 1, body.Summary.Suspicious)
	assert.Equal(t, 1, body.Summary.Fraud)

	resp, err := http.Get(f.srv.URL + "/v1/report.csv")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "User ID,Amount,Time,Location,Merchant,Category,Status,Risk Score,Reasons", lines[0])
	assert.Contains(t, lines[3], `"Transaction at unusual time, Transaction from unknown location"`)
}

func TestReportFromArchive(t *testing.T) {
	f := newFixture(t, true)
	first := f.evaluate(t)
	f.evaluate(t)

	resp, err := http.Get(f.srv.URL + "/v1/report.csv?batch=" + first.ID)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, http.StatusNotFound, getJSON(t, f.srv.URL+"/v1/report.csv?batch=unknown", nil))
}

func TestReportArchiveDisabled(t *testing.T) {
	f := newFixture(t, false)
	assert.Equal(t, http.StatusNotFound, getJSON(t, f.srv.URL+"/v1/report.csv?batch=x", nil))
}

func postJSON(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestSimulate(t *testing.T) {
	f := newFixture(t, false)
	url := f.srv.URL + "/v1/simulate"
	assert.Equal(t, http.StatusNotFound, postJSON(t, http.MethodPost, url, `{"user_id":"101","amount":100,"time":"10:00","location":"Chennai"}`, nil))

	f.evaluate(t)
	before := len(f.eng.CurrentLog())
	var body struct {
		Decision model.Decision `json:"decision"`
		Action   model.Action   `json:"action"`
	}
	status := postJSON(t, http.MethodPost, url, `{"user_id":"101","amount":5000,"time":"14:00","location":"Chennai"}`, &body)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, model.StatusNormal, body.Decision.Status)
	assert.Equal(t, 35, body.Decision.RiskScore)
	assert.Equal(t, "SIMULATED", body.Decision.Merchant)
	assert.Equal(t, model.ActionNone, body.Action)
	assert.Equal(t, before, len(f.eng.CurrentLog()))

	assert.Equal(t, http.StatusBadRequest, postJSON(t, http.MethodPost, url, `{"user_id":"101","amount":5000,"time":"25:00","location":"Chennai"}`, nil))
	assert.Equal(t, http.StatusBadRequest, postJSON(t, http.MethodPost, url, `not json`, nil))
	assert.Equal(t, http.StatusBadRequest, postJSON(t, http.MethodPost, url, `{"user_id":"101","amount":"1e500000000","time":"14:00","location":"Chennai"}`, nil))
}

func TestDetectionConfigUpdate(t *testing.T) {
	f := newFixture(t, false)
	url := f.srv.URL + "/v1/config/detection"
	status := postJSON(t, http.MethodPut, url, `{"known_locations":["Delhi","Chennai"]}`, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"delhi", "chennai"}, f.cfg.Get().Detection.KnownLocations)

	res := f.evaluate(t)
	assert.Equal(t, 25, res.Decisions[2].RiskScore)

	status = postJSON(t, http.MethodPut, url, `{"fraud_threshold":5}`, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, 70, f.cfg.Get().Detection.FraudThreshold)
}

func TestDetectionConfigUpdateDisabled(t *testing.T) {
	f := newFixture(t, false)
	next := *f.cfg.Get()
	next.API.AllowConfigUpdates = false
	require.NoError(t, f.cfg.Update(&next))

	status := postJSON(t, http.MethodPut, f.srv.URL+"/v1/config/detection", `{"known_locations":["delhi"]}`, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.NotContains(t, f.cfg.Get().Detection.KnownLocations, "delhi")

	var body map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/v1/config/detection", &body))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, false)
	f.evaluate(t)
	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "txguard_decisions_total")
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, false)
	assert.Equal(t, http.StatusMethodNotAllowed, getJSON(t, f.srv.URL+"/v1/simulate", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, postJSON(t, http.MethodPost, f.srv.URL+"/v1/log", "", nil))
}
