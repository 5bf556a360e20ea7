package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"sentinel-service/internal/config"
)

// EventSearcher is the read-only store surface the query API needs.
type EventSearcher interface {
	SearchEvents(ctx context.Context, index string, body map[string]interface{}) ([]map[string]interface{}, error)
}

// EventHandler serves the read-only intelligence endpoints over the processed
// index. It never exposes store errors verbatim.
type EventHandler struct {
	searcher EventSearcher
	cfg      config.APIConfig
	index    string
	logger   *zap.Logger
}

func NewEventHandler(searcher EventSearcher, cfg *config.Config, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		searcher: searcher,
		cfg:      cfg.API,
		index:    cfg.Elasticsearch.ProcessedIndex,
		logger:   logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// RegisterRoutes registers the intelligence routes
func (h *EventHandler) RegisterRoutes(router chi.Router) {
	router.Route("/events", func(r chi.Router) {
		r.Get("/latest", h.GetLatestEvents)
		r.Get("/high-risk", h.GetHighRiskEvents)
		r.Get("/search", h.SearchEvents)
	})
}

// GetLatestEvents returns the most recent processed events, newest first.
func (h *EventHandler) GetLatestEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.limitParam(w, r, 10)
	if !ok {
		return
	}

	body := map[string]interface{}{
		"size":  limit,
		"query": map[string]interface{}{"match_all": map[string]interface{}{}},
		"sort": []interface{}{
			map[string]interface{}{"timestamp": map[string]interface{}{"order": "desc"}},
		},
	}

	h.respondWithSearch(w, r, body)
}

// GetHighRiskEvents returns events at or above the high-risk threshold.
func (h *EventHandler) GetHighRiskEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.limitParam(w, r, 25)
	if !ok {
		return
	}

	body := map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"range": map[string]interface{}{
				"risk_score": map[string]interface{}{"gte": h.cfg.HighRiskThreshold},
			},
		},
		"sort": []interface{}{
			map[string]interface{}{"timestamp": map[string]interface{}{"order": "desc"}},
		},
	}

	h.respondWithSearch(w, r, body)
}

// SearchEvents filters by source address, time range, and minimum score.
func (h *EventHandler) SearchEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.limitParam(w, r, 25)
	if !ok {
		return
	}

	var filters []interface{}

	if ip := r.URL.Query().Get("source_ip"); ip != "" {
		filters = append(filters, map[string]interface{}{
			"term": map[string]interface{}{"source_ip": ip},
		})
	}

	timeRange := map[string]interface{}{}
	if from := r.URL.Query().Get("from"); from != "" {
		ts, err := time.Parse(time.RFC3339, from)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse("invalid 'from' timestamp, expected RFC 3339"))
			return
		}
		timeRange["gte"] = ts.Format(time.RFC3339Nano)
	}
	if to := r.URL.Query().Get("to"); to != "" {
		ts, err := time.Parse(time.RFC3339, to)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse("invalid 'to' timestamp, expected RFC 3339"))
			return
		}
		timeRange["lte"] = ts.Format(time.RFC3339Nano)
	}
	if len(timeRange) > 0 {
		filters = append(filters, map[string]interface{}{
			"range": map[string]interface{}{"timestamp": timeRange},
		})
	}

	if minScore := r.URL.Query().Get("min_score"); minScore != "" {
		score, err := strconv.Atoi(minScore)
		if err != nil || score < 0 || score > 100 {
			writeJSON(w, http.StatusBadRequest, errorResponse("min_score must be an integer in [0,100]"))
			return
		}
		filters = append(filters, map[string]interface{}{
			"range": map[string]interface{}{"risk_score": map[string]interface{}{"gte": score}},
		})
	}

	query := map[string]interface{}{"match_all": map[string]interface{}{}}
	if len(filters) > 0 {
		query = map[string]interface{}{
			"bool": map[string]interface{}{"filter": filters},
		}
	}

	body := map[string]interface{}{
		"size":  limit,
		"query": query,
		"sort": []interface{}{
			map[string]interface{}{"timestamp": map[string]interface{}{"order": "desc"}},
		},
	}

	h.respondWithSearch(w, r, body)
}

// limitParam parses and bounds the limit query parameter, rejecting requests
// above the configured cap before any store query runs.
func (h *EventHandler) limitParam(w http.ResponseWriter, r *http.Request, fallback int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse("limit must be a positive integer"))
		return 0, false
	}
	if limit > h.cfg.MaxResultSize {
		writeJSON(w, http.StatusBadRequest, errorResponse("limit exceeds configured maximum"))
		return 0, false
	}
	return limit, true
}

func (h *EventHandler) respondWithSearch(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
	events, err := h.searcher.SearchEvents(r.Context(), h.index, body)
	if err != nil {
		h.logger.Error("event search failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, errorResponse("event store unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: events})
}

func errorResponse(message string) Response {
	return Response{Success: false, Error: message}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
