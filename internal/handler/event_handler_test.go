package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"sentinel-service/internal/config"
)

const testAPIKey = "test-key"

// fakeSearcher records the last query body and serves canned results.
type fakeSearcher struct {
	results  []map[string]interface{}
	err      error
	lastBody map[string]interface{}
	calls    int
}

func (f *fakeSearcher) SearchEvents(ctx context.Context, index string, body map[string]interface{}) ([]map[string]interface{}, error) {
	f.calls++
	f.lastBody = body
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func testRouter(searcher *fakeSearcher) http.Handler {
	cfg := &config.Config{
		Elasticsearch: config.ElasticsearchConfig{ProcessedIndex: "sentinel-events"},
		API: config.APIConfig{
			Key:               testAPIKey,
			MaxResultSize:     100,
			HighRiskThreshold: 70,
		},
	}
	eventHandler := NewEventHandler(searcher, cfg, zap.NewNop())
	return NewRouter(eventHandler, cfg.API.Key, zap.NewNop())
}

func doRequest(t *testing.T, handler http.Handler, path string, withKey bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if withKey {
		req.Header.Set("X-API-KEY", testAPIKey)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestHealthUnauthenticated(t *testing.T) {
	rec := doRequest(t, testRouter(&fakeSearcher{}), "/health", false)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestMissingAPIKey(t *testing.T) {
	searcher := &fakeSearcher{}
	rec := doRequest(t, testRouter(searcher), "/api/v1/events/latest", false)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if searcher.calls != 0 {
		t.Error("store queried despite missing credentials")
	}
}

func TestInvalidAPIKey(t *testing.T) {
	searcher := &fakeSearcher{}
	handler := testRouter(searcher)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/latest", nil)
	req.Header.Set("X-API-KEY", "wrong-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	if searcher.calls != 0 {
		t.Error("store queried despite bad credentials")
	}
}

func TestLatestEvents(t *testing.T) {
	searcher := &fakeSearcher{results: []map[string]interface{}{
		{"event_type": "cowrie.login.failed", "risk_score": float64(10)},
		{"event_type": "cowrie.login.success", "risk_score": float64(80)},
	}}
	rec := doRequest(t, testRouter(searcher), "/api/v1/events/latest", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	resp := decodeResponse(t, rec)
	if !resp.Success {
		t.Error("success = false, want true")
	}
	data, ok := resp.Data.([]interface{})
	if !ok || len(data) != 2 {
		t.Fatalf("data = %v, want 2 events", resp.Data)
	}

	if searcher.lastBody["size"] != 10 {
		t.Errorf("size = %v, want default 10", searcher.lastBody["size"])
	}
}

func TestHighRiskQueryUsesThreshold(t *testing.T) {
	searcher := &fakeSearcher{}
	rec := doRequest(t, testRouter(searcher), "/api/v1/events/high-risk", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	query := searcher.lastBody["query"].(map[string]interface{})
	rng := query["range"].(map[string]interface{})["risk_score"].(map[string]interface{})
	if rng["gte"] != 70 {
		t.Errorf("risk_score gte = %v, want 70", rng["gte"])
	}
	if searcher.lastBody["size"] != 25 {
		t.Errorf("size = %v, want default 25", searcher.lastBody["size"])
	}
}

func TestLimitAboveCapRejected(t *testing.T) {
	searcher := &fakeSearcher{}
	rec := doRequest(t, testRouter(searcher), "/api/v1/events/latest?limit=500", true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if searcher.calls != 0 {
		t.Error("store queried despite out-of-range limit")
	}
}

func TestLimitNotANumber(t *testing.T) {
	searcher := &fakeSearcher{}
	rec := doRequest(t, testRouter(searcher), "/api/v1/events/latest?limit=lots", true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSearchFilters(t *testing.T) {
	searcher := &fakeSearcher{}
	path := "/api/v1/events/search?source_ip=203.0.113.4&from=2025-06-01T00:00:00Z&to=2025-06-02T00:00:00Z&min_score=50&limit=5"
	rec := doRequest(t, testRouter(searcher), path, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	query := searcher.lastBody["query"].(map[string]interface{})
	boolQuery, ok := query["bool"].(map[string]interface{})
	if !ok {
		t.Fatalf("query = %v, want bool query", query)
	}
	filters := boolQuery["filter"].([]interface{})
	if len(filters) != 3 {
		t.Errorf("filters = %d, want 3 (ip, time range, min score)", len(filters))
	}
	if searcher.lastBody["size"] != 5 {
		t.Errorf("size = %v, want 5", searcher.lastBody["size"])
	}
}

func TestSearchInvalidTimestamp(t *testing.T) {
	searcher := &fakeSearcher{}
	rec := doRequest(t, testRouter(searcher), "/api/v1/events/search?from=yesterday", true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if searcher.calls != 0 {
		t.Error("store queried despite invalid timestamp")
	}
}

func TestSearchInvalidMinScore(t *testing.T) {
	searcher := &fakeSearcher{}
	rec := doRequest(t, testRouter(searcher), "/api/v1/events/search?min_score=200", true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStoreErrorNotLeaked(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("elasticsearch error: [500] shard failure on node es-data-3")}
	rec := doRequest(t, testRouter(searcher), "/api/v1/events/latest", true)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}

	resp := decodeResponse(t, rec)
	if resp.Error != "event store unavailable" {
		t.Errorf("error = %q, want generic message", resp.Error)
	}
}
