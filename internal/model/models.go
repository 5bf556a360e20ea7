package model

import "time"

// RawEvent is a single hit returned by the source index. The document body is
// kept loosely typed because honeypot shippers disagree on field names; the
// normalizer is responsible for making sense of it.
type RawEvent struct {
	ID     string                 `json:"_id"`
	Index  string                 `json:"_index"`
	Source map[string]interface{} `json:"_source"`
	Sort   []interface{}          `json:"sort,omitempty"`
}

// NormalizedEvent is the canonical shape of a raw event after field aliasing
// and timestamp parsing. Produced by the normalizer, consumed by the scorer.
type NormalizedEvent struct {
	Timestamp  time.Time
	EventType  string
	SourceIP   string
	SourcePort *int
	Username   string
	Password   string
	SessionID  string
	Message    string
	Command    string
	GeoIP      map[string]interface{}
	Country    string
}

// ProcessedEvent is the enriched record written to the processed index, keyed
// by the source document id so reprocessing overwrites deterministically.
type ProcessedEvent struct {
	Timestamp   time.Time              `json:"timestamp"`
	SourceIP    string                 `json:"source_ip"`
	SourcePort  *int                   `json:"source_port,omitempty"`
	GeoIP       map[string]interface{} `json:"geoip,omitempty"`
	Username    string                 `json:"username,omitempty"`
	Password    string                 `json:"password,omitempty"`
	EventType   string                 `json:"event_type"`
	SessionID   string                 `json:"session_id"`
	Message     string                 `json:"message,omitempty"`
	RiskScore   int                    `json:"risk_score"`
	RiskFactors []string               `json:"risk_factors"`
}

// BulkDoc pairs a destination document with its caller-supplied id.
type BulkDoc struct {
	ID   string
	Body ProcessedEvent
}

// BulkStats summarizes the outcome of one bulk upsert call.
type BulkStats struct {
	Indexed int
	Failed  int
	// ErrorSample holds up to a few item-level failure reasons for logging.
	ErrorSample []string
}

// IngestStats is one row of per-iteration pipeline accounting, written to the
// analytics sink when one is configured.
type IngestStats struct {
	RunID     string
	StartedAt time.Time
	Fetched   int
	Written   int
	Dropped   int
	Failed    int
	Duration  time.Duration
}
