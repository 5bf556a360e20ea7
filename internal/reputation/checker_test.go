package reputation

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"sentinel-service/internal/config"
)

func testCheckerConfig(baseURL string) config.ReputationConfig {
	return config.ReputationConfig{
		BaseURL:             baseURL,
		APIKey:              "test-key",
		MaxAgeDays:          90,
		ConfidenceThreshold: 75,
		Timeout:             200 * time.Millisecond,
		CacheTTL:            time.Hour,
	}
}

func reputationServer(t *testing.T, confidence int, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Key"); got != "test-key" {
			t.Errorf("Key header = %q, want %q", got, "test-key")
		}
		if got := r.URL.Query().Get("maxAgeInDays"); got != "90" {
			t.Errorf("maxAgeInDays = %q, want 90", got)
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		fmt.Fprintf(w, `{"data":{"abuseConfidenceScore":%d}}`, confidence)
	}))
}

func TestIsHighRiskAboveThreshold(t *testing.T) {
	srv := reputationServer(t, 90, http.StatusOK)
	defer srv.Close()

	c := NewChecker(testCheckerConfig(srv.URL), nil, zap.NewNop())
	if !c.IsHighRisk(context.Background(), "203.0.113.4") {
		t.Error("IsHighRisk() = false, want true for confidence 90")
	}
}

func TestIsHighRiskBelowThreshold(t *testing.T) {
	srv := reputationServer(t, 40, http.StatusOK)
	defer srv.Close()

	c := NewChecker(testCheckerConfig(srv.URL), nil, zap.NewNop())
	if c.IsHighRisk(context.Background(), "203.0.113.4") {
		t.Error("IsHighRisk() = true, want false for confidence 40")
	}
}

func TestIsHighRiskThresholdBoundary(t *testing.T) {
	srv := reputationServer(t, 75, http.StatusOK)
	defer srv.Close()

	c := NewChecker(testCheckerConfig(srv.URL), nil, zap.NewNop())
	if !c.IsHighRisk(context.Background(), "203.0.113.4") {
		t.Error("IsHighRisk() = false, want true at exactly the threshold")
	}
}

func TestIsHighRiskServerError(t *testing.T) {
	srv := reputationServer(t, 0, http.StatusInternalServerError)
	defer srv.Close()

	c := NewChecker(testCheckerConfig(srv.URL), nil, zap.NewNop())
	if c.IsHighRisk(context.Background(), "203.0.113.4") {
		t.Error("IsHighRisk() = true, want false on server error")
	}
}

func TestIsHighRiskTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewChecker(testCheckerConfig(srv.URL), nil, zap.NewNop())
	if c.IsHighRisk(context.Background(), "203.0.113.4") {
		t.Error("IsHighRisk() = true, want false on timeout")
	}
}

func TestIsHighRiskMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json")
	}))
	defer srv.Close()

	c := NewChecker(testCheckerConfig(srv.URL), nil, zap.NewNop())
	if c.IsHighRisk(context.Background(), "203.0.113.4") {
		t.Error("IsHighRisk() = true, want false on malformed body")
	}
}

func TestIsHighRiskMissingConfiguration(t *testing.T) {
	cfg := testCheckerConfig("https://example.invalid")
	cfg.APIKey = ""
	c := NewChecker(cfg, nil, zap.NewNop())
	if c.IsHighRisk(context.Background(), "203.0.113.4") {
		t.Error("IsHighRisk() = true, want false with no API key")
	}

	c = NewChecker(testCheckerConfig("https://example.invalid"), nil, zap.NewNop())
	if c.IsHighRisk(context.Background(), "") {
		t.Error("IsHighRisk() = true, want false with no address")
	}
}

// memoryCache is an in-process VerdictCache for tests.
type memoryCache struct {
	mu       sync.Mutex
	verdicts map[string]bool
	sets     int
}

func (m *memoryCache) GetVerdict(ctx context.Context, ip string) (bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.verdicts[ip]
	return v, ok, nil
}

func (m *memoryCache) SetVerdict(ctx context.Context, ip string, highRisk bool, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.verdicts == nil {
		m.verdicts = make(map[string]bool)
	}
	m.verdicts[ip] = highRisk
	m.sets++
	return nil
}

func TestIsHighRiskUsesCache(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"data":{"abuseConfidenceScore":95}}`)
	}))
	defer srv.Close()

	cache := &memoryCache{}
	c := NewChecker(testCheckerConfig(srv.URL), cache, zap.NewNop())

	for i := 0; i < 3; i++ {
		if !c.IsHighRisk(context.Background(), "203.0.113.4") {
			t.Fatal("IsHighRisk() = false, want true")
		}
	}

	if calls != 1 {
		t.Errorf("external lookups = %d, want 1 (cached afterwards)", calls)
	}
	if cache.sets != 1 {
		t.Errorf("cache writes = %d, want 1", cache.sets)
	}
}
