package ingest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"txguard/internal/config"
	"txguard/internal/engine"
	"txguard/internal/model"
)

func newTestServer(cfg *config.Config) (*httptest.Server, *engine.Engine) {
	eng := engine.NewEngine(cfg, nil, nil, nil, nil)
	srv := NewRESTServer(config.NewStaticManager(cfg), eng, nil)
	return httptest.NewServer(srv.Handler()), eng
}

const sampleCSV = "user_id,amount,time,location,merchant,category\n" +
	"101,1000,10:00,Chennai,Amazon,Shopping\n" +
	"102,5000,02:00,Delhi,Flipkart,Electronics\n" +
	"103,90000,12:00,Chennai,Croma,Electronics\n"

func TestRESTBatchCSV(t *testing.T) {
	ts, eng := newTestServer(config.DefaultConfig())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/batches", "text/csv", strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var res engine.BatchResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Decisions) != 3 || res.Source != SourceREST {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Decisions[2].Status != model.StatusFraud || res.Summary.Fraud != 1 || res.Summary.Suspicious != 1 {
		t.Fatalf("unexpected statuses %+v", res.Summary)
	}
	if len(eng.CurrentLog()) != 3 {
		t.Fatalf("expected 3 log entries")
	}
}

func TestRESTBatchErrors(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Ingest.REST.MaxBodyBytes = 512
	ts, eng := newTestServer(cfg)
	defer ts.Close()

	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"empty", "", http.StatusBadRequest},
		{"missing columns", "user_id,amount\n1,2\n", http.StatusBadRequest},
		{"invalid amount", "user_id,amount,time,location,merchant,category\n1,abc,10:00,Chennai,A,B\n", http.StatusBadRequest},
		{"bad time", "user_id,amount,time,location,merchant,category\n1,10,25:00,Chennai,A,B\n", http.StatusBadRequest},
		{"huge exponent amount", "user_id,amount,time,location,merchant,category\n1,1e500000000,10:00,Chennai,A,B\n", http.StatusBadRequest},
		{"json row missing merchant", `[{"user_id":"1","amount":"500","time":"12:00","location":"chennai","category":"B"}]`, http.StatusBadRequest},
		{"too large", sampleCSV + strings.Repeat("101,1000,10:00,Chennai,Amazon,Shopping\n", 20), http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/v1/batches", "text/csv", strings.NewReader(tc.body))
			if err != nil {
				t.Fatalf("post: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tc.status {
				t.Fatalf("got status %d, want %d", resp.StatusCode, tc.status)
			}
			var body map[string]string
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body["error"] == "" {
				t.Fatalf("expected error envelope, got %v (%v)", body, err)
			}
		})
	}
	if len(eng.CurrentLog()) != 0 {
		t.Fatalf("rejected batches must not be logged")
	}
}

func TestRESTMethodNotAllowed(t *testing.T) {
	ts, _ := newTestServer(config.DefaultConfig())
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/v1/batches")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
}

func TestRESTHealth(t *testing.T) {
	ts, _ := newTestServer(config.DefaultConfig())
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
}
