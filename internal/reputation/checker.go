package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"sentinel-service/internal/config"
)

// VerdictCache stores per-address verdicts so hot attackers are not looked up
// on every batch. A nil cache disables caching.
type VerdictCache interface {
	GetVerdict(ctx context.Context, ip string) (highRisk bool, found bool, err error)
	SetVerdict(ctx context.Context, ip string, highRisk bool, ttl time.Duration) error
}

// Checker queries an external IP reputation service. Every failure mode
// (missing configuration, transport error, timeout, non-2xx, malformed body,
// open circuit) resolves to "not risky" so scoring always completes.
type Checker struct {
	cfg    config.ReputationConfig
	client *http.Client
	cb     *gobreaker.CircuitBreaker[int]
	cache  VerdictCache
	logger *zap.Logger
}

func NewChecker(cfg config.ReputationConfig, cache VerdictCache, logger *zap.Logger) *Checker {
	cb := gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
		Name:        "reputation-api",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("reputation circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Checker{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		cb:     cb,
		cache:  cache,
		logger: logger,
	}
}

// IsHighRisk reports whether the reputation service flags the address with a
// confidence at or above the configured threshold. It never returns an error:
// any failure is logged and treated as not risky.
func (c *Checker) IsHighRisk(ctx context.Context, ip string) bool {
	if ip == "" || c.cfg.APIKey == "" {
		return false
	}

	if c.cache != nil {
		if verdict, found, err := c.cache.GetVerdict(ctx, ip); err != nil {
			c.logger.Warn("reputation cache read failed", zap.Error(err))
		} else if found {
			return verdict
		}
	}

	confidence, err := c.cb.Execute(func() (int, error) {
		return c.lookup(ctx, ip)
	})
	if err != nil {
		c.logger.Warn("reputation lookup failed",
			zap.String("ip", ip),
			zap.Error(err),
		)
		return false
	}

	verdict := confidence >= c.cfg.ConfidenceThreshold

	if c.cache != nil {
		if err := c.cache.SetVerdict(ctx, ip, verdict, c.cfg.CacheTTL); err != nil {
			c.logger.Warn("reputation cache write failed", zap.Error(err))
		}
	}
	return verdict
}

// lookup performs the outbound GET and extracts the confidence score.
func (c *Checker) lookup(ctx context.Context, ip string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build reputation request: %w", err)
	}

	q := url.Values{}
	q.Set("ipAddress", ip)
	q.Set("maxAgeInDays", strconv.Itoa(c.cfg.MaxAgeDays))
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Key", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("reputation request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return 0, fmt.Errorf("reputation service returned status %d", res.StatusCode)
	}

	var parsed struct {
		Data struct {
			AbuseConfidenceScore int `json:"abuseConfidenceScore"`
		} `json:"data"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("failed to decode reputation response: %w", err)
	}
	return parsed.Data.AbuseConfidenceScore, nil
}
