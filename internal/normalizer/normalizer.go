package normalizer

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"sentinel-service/internal/model"
)

// ErrNoTimestamp is returned when a raw event carries no parseable occurrence
// time under any known field name. Such records are skipped by the caller;
// defaulting to the current time would corrupt the watermark.
var ErrNoTimestamp = errors.New("no parseable timestamp")

// Normalize maps a loosely-typed raw honeypot record into the canonical event
// shape, falling back through the field aliases the different log shippers
// use. It performs no scoring and no external calls.
func Normalize(raw model.RawEvent) (*model.NormalizedEvent, error) {
	src := raw.Source

	ts, err := ExtractTimestamp(raw)
	if err != nil {
		return nil, err
	}

	ev := &model.NormalizedEvent{
		Timestamp: ts,
		EventType: stringField(src, "eventid", "event_type"),
		SourceIP:  stringField(src, "src_ip", "source_ip"),
		Username:  stringField(src, "username"),
		Password:  stringField(src, "password"),
		SessionID: stringField(src, "session", "session_id"),
		Message:   stringField(src, "message"),
		Command:   stringField(src, "input", "message"),
	}
	if ev.EventType == "" {
		ev.EventType = "unknown"
	}

	if port, ok := intField(src, "src_port", "source_port"); ok {
		ev.SourcePort = &port
	}

	if geo, ok := src["geoip"].(map[string]interface{}); ok {
		ev.GeoIP = geo
		if country, ok := geo["country_name"].(string); ok {
			ev.Country = country
		}
	}

	return ev, nil
}

// ExtractTimestamp parses the occurrence time from either aliased timestamp
// field. Only RFC 3339 text is accepted; a trailing Z is read as UTC.
func ExtractTimestamp(raw model.RawEvent) (time.Time, error) {
	val := stringField(raw.Source, "timestamp", "@timestamp")
	if val == "" {
		return time.Time{}, ErrNoTimestamp
	}
	ts, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrNoTimestamp, val)
	}
	return ts, nil
}

func stringField(src map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := src[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func intField(src map[string]interface{}, keys ...string) (int, bool) {
	for _, key := range keys {
		switch v := src[key].(type) {
		case float64:
			return int(v), true
		case int:
			return v, true
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}
