package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"

	"sentinel-service/internal/config"
	"sentinel-service/internal/model"
	"sentinel-service/internal/util"
)

// ESClient wraps the Elasticsearch client with the operations the ingestion
// pipeline and the query API need: readiness probing, point-in-time paging,
// bulk upserts, and plain searches.
type ESClient struct {
	Client *elasticsearch.Client
	config *config.ElasticsearchConfig
	logger *zap.Logger
}

func NewElasticsearchClient(cfg *config.Config, logger *zap.Logger) (*ESClient, error) {
	esConfig := cfg.Elasticsearch

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: esConfig.SkipTLSVerify && cfg.IsDevelopment(),
		},
	}

	elasticConfig := elasticsearch.Config{
		Addresses: []string{esConfig.URL},
		Username:  esConfig.Username,
		Password:  esConfig.Password,
		Transport: transport,
	}

	client, err := elasticsearch.NewClient(elasticConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	esClient := &ESClient{
		Client: client,
		config: &esConfig,
		logger: logger,
	}

	util.Info("Elasticsearch client initialized",
		zap.String("url", esConfig.URL),
	)

	return esClient, nil
}

func (e *ESClient) Close() {
	util.Info("Elasticsearch client shutdown")
}

func (e *ESClient) HealthCheck(ctx context.Context) error {
	res, err := e.Client.Info(e.Client.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to get cluster info: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch error: %s", res.String())
	}
	return nil
}

// WaitForReady blocks until the cluster answers an info request or the
// timeout elapses. Used once at startup before the ingestion loop begins.
func (e *ESClient) WaitForReady(ctx context.Context, timeout, interval time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error

	for time.Now().Before(deadline) {
		if err := e.HealthCheck(ctx); err == nil {
			util.Info("Elasticsearch is ready")
			return nil
		} else {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}

	return fmt.Errorf("timed out waiting for Elasticsearch: %w", lastErr)
}

// EnsureIndex creates the index with the processed-event mapping unless it
// already exists.
func (e *ESClient) EnsureIndex(ctx context.Context, index string) error {
	res, err := e.Client.Indices.Exists([]string{index},
		e.Client.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to check index %s: %w", index, err)
	}
	res.Body.Close()

	if res.StatusCode == http.StatusOK {
		return nil
	}

	mapping := `{
		"mappings": {
			"properties": {
				"timestamp":   {"type": "date"},
				"source_ip":   {"type": "keyword"},
				"source_port": {"type": "integer"},
				"username":    {"type": "keyword"},
				"event_type":  {"type": "keyword"},
				"session_id":  {"type": "keyword"},
				"risk_score":  {"type": "integer"},
				"risk_factors": {"type": "keyword"},
				"message":     {"type": "text"}
			}
		}
	}`

	createRes, err := e.Client.Indices.Create(index,
		e.Client.Indices.Create.WithBody(strings.NewReader(mapping)),
		e.Client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", index, err)
	}
	defer createRes.Body.Close()

	if createRes.IsError() {
		// A concurrent create is fine; anything else is not.
		if createRes.StatusCode == http.StatusBadRequest &&
			strings.Contains(createRes.String(), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("failed to create index %s: %s", index, createRes.String())
	}

	util.Info("Created Elasticsearch index", zap.String("index", index))
	return nil
}

// LatestTimestamp returns the most recent value of field in the index. The
// second return value is false when the index is missing or empty.
func (e *ESClient) LatestTimestamp(ctx context.Context, index, field string) (time.Time, bool, error) {
	body := map[string]interface{}{
		"size":  1,
		"query": map[string]interface{}{"match_all": map[string]interface{}{}},
		"sort": []interface{}{
			map[string]interface{}{field: map[string]interface{}{"order": "desc"}},
		},
		"_source": []string{field},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return time.Time{}, false, fmt.Errorf("error encoding query: %w", err)
	}

	res, err := e.Client.Search(
		e.Client.Search.WithContext(ctx),
		e.Client.Search.WithIndex(index),
		e.Client.Search.WithBody(&buf),
	)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("error querying latest timestamp: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return time.Time{}, false, nil
	}
	if res.IsError() {
		return time.Time{}, false, fmt.Errorf("elasticsearch error: %s", res.String())
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return time.Time{}, false, fmt.Errorf("error decoding search response: %w", err)
	}
	if len(parsed.Hits.Hits) == 0 {
		return time.Time{}, false, nil
	}

	raw, ok := parsed.Hits.Hits[0].Source[field].(string)
	if !ok {
		return time.Time{}, false, fmt.Errorf("latest %s is not a string", field)
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("error parsing latest %s: %w", field, err)
	}
	return ts, true, nil
}

// OpenPointInTime opens a snapshot cursor over the index so pagination does
// not miss or duplicate documents under concurrent writes.
func (e *ESClient) OpenPointInTime(ctx context.Context, index string, keepAlive time.Duration) (string, error) {
	res, err := e.Client.OpenPointInTime([]string{index}, esDuration(keepAlive),
		e.Client.OpenPointInTime.WithContext(ctx),
	)
	if err != nil {
		return "", fmt.Errorf("error opening point in time: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return "", fmt.Errorf("elasticsearch error opening point in time: %s", res.String())
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("error decoding point in time response: %w", err)
	}
	return parsed.ID, nil
}

func (e *ESClient) ClosePointInTime(ctx context.Context, pitID string) error {
	body, err := json.Marshal(map[string]string{"id": pitID})
	if err != nil {
		return fmt.Errorf("error encoding close request: %w", err)
	}

	res, err := e.Client.ClosePointInTime(
		e.Client.ClosePointInTime.WithContext(ctx),
		e.Client.ClosePointInTime.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return fmt.Errorf("error closing point in time: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch error closing point in time: %s", res.String())
	}
	return nil
}

// FetchAfter returns one ascending page of raw events with field strictly
// greater than after, resuming from searchAfter when non-nil. The returned
// cursor feeds the next call.
func (e *ESClient) FetchAfter(ctx context.Context, pitID, field string, after time.Time, searchAfter []interface{}, size int) ([]model.RawEvent, []interface{}, error) {
	body := map[string]interface{}{
		"size": size,
		"query": map[string]interface{}{
			"range": map[string]interface{}{
				field: map[string]interface{}{"gt": after.UTC().Format(time.RFC3339Nano)},
			},
		},
		"sort": []interface{}{
			map[string]interface{}{field: map[string]interface{}{"order": "asc"}},
			map[string]interface{}{"_shard_doc": "asc"},
		},
		"pit": map[string]interface{}{"id": pitID},
	}
	if searchAfter != nil {
		body["search_after"] = searchAfter
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, fmt.Errorf("error encoding query: %w", err)
	}

	res, err := e.Client.Search(
		e.Client.Search.WithContext(ctx),
		e.Client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("error executing search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, nil, fmt.Errorf("elasticsearch error: %s", res.String())
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, nil, fmt.Errorf("error decoding search response: %w", err)
	}

	hits := parsed.Hits.Hits
	var cursor []interface{}
	if len(hits) > 0 {
		cursor = hits[len(hits)-1].Sort
	}
	return hits, cursor, nil
}

// BulkUpsert writes the documents keyed by their source ids. Item-level
// failures are reported in the stats, not as an error.
func (e *ESClient) BulkUpsert(ctx context.Context, index string, docs []model.BulkDoc) (model.BulkStats, error) {
	var stats model.BulkStats
	if len(docs) == 0 {
		return stats, nil
	}

	var buf bytes.Buffer
	for _, doc := range docs {
		action := map[string]interface{}{
			"index": map[string]interface{}{"_index": index, "_id": doc.ID},
		}
		if err := json.NewEncoder(&buf).Encode(action); err != nil {
			return stats, fmt.Errorf("error encoding bulk action: %w", err)
		}
		if err := json.NewEncoder(&buf).Encode(doc.Body); err != nil {
			return stats, fmt.Errorf("error encoding bulk document: %w", err)
		}
	}

	res, err := e.Client.Bulk(bytes.NewReader(buf.Bytes()),
		e.Client.Bulk.WithContext(ctx),
		e.Client.Bulk.WithRefresh("false"),
	)
	if err != nil {
		return stats, fmt.Errorf("error executing bulk request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return stats, fmt.Errorf("elasticsearch bulk error: %s", res.String())
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return stats, fmt.Errorf("error decoding bulk response: %w", err)
	}

	for _, item := range parsed.Items {
		for _, op := range item {
			if op.Error != nil {
				stats.Failed++
				if len(stats.ErrorSample) < 3 {
					stats.ErrorSample = append(stats.ErrorSample,
						fmt.Sprintf("%s: %s", op.Error.Type, op.Error.Reason))
				}
			} else {
				stats.Indexed++
			}
		}
	}
	return stats, nil
}

// SearchEvents runs an arbitrary query body against the index and returns the
// document sources. Used by the read-only query API.
func (e *ESClient) SearchEvents(ctx context.Context, index string, body map[string]interface{}) ([]map[string]interface{}, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("error encoding query: %w", err)
	}

	res, err := e.Client.Search(
		e.Client.Search.WithContext(ctx),
		e.Client.Search.WithIndex(index),
		e.Client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("error executing search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch error: %s", res.String())
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("error decoding search response: %w", err)
	}

	sources := make([]map[string]interface{}, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		sources = append(sources, hit.Source)
	}
	return sources, nil
}

type searchResponse struct {
	Hits struct {
		Hits []model.RawEvent `json:"hits"`
	} `json:"hits"`
}

type bulkResponse struct {
	Errors bool                    `json:"errors"`
	Items  []map[string]bulkItemOp `json:"items"`
}

type bulkItemOp struct {
	Status int `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

// esDuration renders a Go duration in Elasticsearch time-unit syntax.
func esDuration(d time.Duration) string {
	return fmt.Sprintf("%ds", int(d.Seconds()))
}
