package config

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.Elasticsearch.SourceIndex != "filebeat-*" {
		t.Errorf("SourceIndex = %q, want filebeat-*", cfg.Elasticsearch.SourceIndex)
	}
	if cfg.Elasticsearch.ProcessedIndex != "sentinel-events" {
		t.Errorf("ProcessedIndex = %q, want sentinel-events", cfg.Elasticsearch.ProcessedIndex)
	}
	if cfg.Processor.PageSize != 500 {
		t.Errorf("PageSize = %d, want 500", cfg.Processor.PageSize)
	}
	if cfg.Processor.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v, want 5s", cfg.Processor.PollInterval)
	}
	if cfg.API.HighRiskThreshold != 70 {
		t.Errorf("HighRiskThreshold = %d, want 70", cfg.API.HighRiskThreshold)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("PROCESSOR_PAGE_SIZE", "50")
	t.Setenv("PROCESSOR_POLL_INTERVAL", "30s")
	t.Setenv("SCORING_RISK_COUNTRIES", "Atlantis, Mordor")

	cfg := LoadConfig()

	if cfg.Processor.PageSize != 50 {
		t.Errorf("PageSize = %d, want 50", cfg.Processor.PageSize)
	}
	if cfg.Processor.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %v, want 30s", cfg.Processor.PollInterval)
	}
	countries := cfg.Scoring.RiskCountries
	if len(countries) != 2 || countries[0] != "Atlantis" || countries[1] != "Mordor" {
		t.Errorf("RiskCountries = %v, want [Atlantis Mordor]", countries)
	}
}

func TestLoadConfigIgnoresMalformedValues(t *testing.T) {
	t.Setenv("PROCESSOR_PAGE_SIZE", "many")
	t.Setenv("PROCESSOR_POLL_INTERVAL", "soon")

	cfg := LoadConfig()

	if cfg.Processor.PageSize != 500 {
		t.Errorf("PageSize = %d, want default 500 on malformed value", cfg.Processor.PageSize)
	}
	if cfg.Processor.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v, want default 5s on malformed value", cfg.Processor.PollInterval)
	}
}

func TestValidate(t *testing.T) {
	cfg := LoadConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults = %v, want nil", err)
	}

	cfg.Elasticsearch.URL = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() with empty ELASTICSEARCH_URL = nil, want error")
	}
}

func TestValidateRejectsDefaultKeyInProduction(t *testing.T) {
	cfg := LoadConfig()
	cfg.Environment = "production"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() in production with default API key = nil, want error")
	}

	cfg.API.Key = "a-real-secret"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with explicit API key = %v, want nil", err)
	}
}
