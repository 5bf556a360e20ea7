package processor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sentinel-service/internal/config"
	"sentinel-service/internal/model"
	"sentinel-service/internal/normalizer"
	"sentinel-service/internal/scoring"
)

// Timestamp field names on the two indices.
const (
	rawTimestampField       = "@timestamp"
	processedTimestampField = "timestamp"
)

// SourceStore is the read side of the pipeline: the raw honeypot index.
type SourceStore interface {
	WaitForReady(ctx context.Context, timeout, interval time.Duration) error
	OpenPointInTime(ctx context.Context, index string, keepAlive time.Duration) (string, error)
	ClosePointInTime(ctx context.Context, pitID string) error
	FetchAfter(ctx context.Context, pitID, field string, after time.Time, searchAfter []interface{}, size int) ([]model.RawEvent, []interface{}, error)
}

// DestinationStore is the write side: the processed index.
type DestinationStore interface {
	EnsureIndex(ctx context.Context, index string) error
	LatestTimestamp(ctx context.Context, index, field string) (time.Time, bool, error)
	BulkUpsert(ctx context.Context, index string, docs []model.BulkDoc) (model.BulkStats, error)
}

// ReputationChecker resolves whether a source address is a known offender.
type ReputationChecker interface {
	IsHighRisk(ctx context.Context, ip string) bool
}

// AlertPublisher forwards high-risk events to an alerting channel. Optional.
type AlertPublisher interface {
	PublishAlerts(ctx context.Context, events []model.ProcessedEvent) error
}

// StatsSink records per-iteration accounting. Optional.
type StatsSink interface {
	InsertIngestStats(ctx context.Context, stats model.IngestStats) error
}

// Processor runs the single-writer ingestion loop: poll the source index from
// the watermark, normalize and score each record, bulk-write the results, and
// advance the watermark.
type Processor struct {
	cfg            config.ProcessorConfig
	sourceIndex    string
	processedIndex string
	alertThreshold int

	source     SourceStore
	dest       DestinationStore
	scorer     *scoring.Scorer
	reputation ReputationChecker
	alerts     AlertPublisher
	stats      StatsSink

	watermark *Watermark
	logger    *zap.Logger
}

func NewProcessor(cfg *config.Config, source SourceStore, dest DestinationStore, scorer *scoring.Scorer, reputation ReputationChecker, logger *zap.Logger) *Processor {
	return &Processor{
		cfg:            cfg.Processor,
		sourceIndex:    cfg.Elasticsearch.SourceIndex,
		processedIndex: cfg.Elasticsearch.ProcessedIndex,
		alertThreshold: cfg.API.HighRiskThreshold,
		source:         source,
		dest:           dest,
		scorer:         scorer,
		reputation:     reputation,
		logger:         logger,
	}
}

// SetAlertPublisher enables alert publication for high-risk events.
func (p *Processor) SetAlertPublisher(pub AlertPublisher) {
	p.alerts = pub
}

// SetStatsSink enables per-iteration statistics recording.
func (p *Processor) SetStatsSink(sink StatsSink) {
	p.stats = sink
}

// Run executes the loop until ctx is canceled or too many consecutive
// iterations fail. The returned error is fatal: the process should exit.
func (p *Processor) Run(ctx context.Context) error {
	if err := p.bootstrap(ctx); err != nil {
		return fmt.Errorf("processor bootstrap failed: %w", err)
	}

	p.logger.Info("event processor started",
		zap.Time("watermark", p.watermark.Value()),
		zap.String("source_index", p.sourceIndex),
		zap.String("processed_index", p.processedIndex),
	)

	consecutiveFailures := 0
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("event processor stopped")
			return ctx.Err()
		default:
		}

		empty, err := p.runIteration(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("event processor stopped")
				return ctx.Err()
			}
			consecutiveFailures++
			p.logger.Error("processor iteration failed",
				zap.Int("consecutive_failures", consecutiveFailures),
				zap.Error(err),
			)
			if consecutiveFailures >= p.cfg.MaxConsecutiveFailures {
				return fmt.Errorf("giving up after %d consecutive iteration failures: %w",
					consecutiveFailures, err)
			}
			if err := sleepCtx(ctx, p.cfg.FailureBackoff); err != nil {
				return err
			}
			continue
		}
		consecutiveFailures = 0

		if empty {
			if err := sleepCtx(ctx, p.cfg.PollInterval); err != nil {
				p.logger.Info("event processor stopped")
				return err
			}
		}
	}
}

func (p *Processor) bootstrap(ctx context.Context) error {
	if err := p.source.WaitForReady(ctx, p.cfg.BootstrapTimeout, p.cfg.BootstrapInterval); err != nil {
		return fmt.Errorf("source store never became ready: %w", err)
	}
	if err := p.dest.EnsureIndex(ctx, p.processedIndex); err != nil {
		return err
	}

	wm, err := BootstrapWatermark(ctx, p.dest, p.processedIndex, processedTimestampField, p.cfg.LookbackWindow)
	if err != nil {
		return err
	}
	p.watermark = wm
	return nil
}

// runIteration performs one fetch, transform, write, checkpoint cycle. It
// reports whether the source had nothing new.
func (p *Processor) runIteration(ctx context.Context) (empty bool, err error) {
	runID := uuid.NewString()
	started := time.Now()

	pitID, err := p.source.OpenPointInTime(ctx, p.sourceIndex, p.cfg.PITKeepAlive)
	if err != nil {
		return false, fmt.Errorf("failed to open point in time: %w", err)
	}
	defer func() {
		// Release the cursor even when the iteration context is gone.
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := p.source.ClosePointInTime(closeCtx, pitID); cerr != nil {
			p.logger.Warn("failed to close point in time", zap.Error(cerr))
		}
	}()

	// The range bound stays fixed for every page of this iteration; pages
	// advance through the snapshot via the search_after cursor.
	since := p.watermark.Value()

	var (
		cursor   []interface{}
		fetched  int
		written  int
		dropped  int
		rejected int
	)

	for {
		hits, next, err := p.source.FetchAfter(ctx, pitID, rawTimestampField, since, cursor, p.cfg.PageSize)
		if err != nil {
			return false, fmt.Errorf("failed to fetch raw events: %w", err)
		}
		if len(hits) == 0 {
			break
		}
		fetched += len(hits)

		// Batch maximum over raw records, before transform drops, so
		// malformed-but-dated records are never retried forever.
		rawMax := maxRawTimestamp(hits)

		docs, pageDropped := p.transform(ctx, hits)
		dropped += pageDropped

		stats, err := p.dest.BulkUpsert(ctx, p.processedIndex, docs)
		if err != nil {
			return false, fmt.Errorf("bulk write failed: %w", err)
		}
		written += stats.Indexed
		rejected += stats.Failed
		if stats.Failed > 0 {
			p.logger.Warn("bulk write completed with rejected documents",
				zap.String("run_id", runID),
				zap.Int("rejected", stats.Failed),
				zap.String("sample", strings.Join(stats.ErrorSample, "; ")),
			)
		}

		// Write-then-checkpoint ordering: only advance once this page
		// is in the destination store.
		if !rawMax.IsZero() {
			p.watermark.Advance(rawMax)
		}

		p.publishAlerts(ctx, docs)

		cursor = next
		if len(hits) < p.cfg.PageSize {
			break
		}
	}

	if fetched > 0 {
		p.logger.Info("processed raw event batch",
			zap.String("run_id", runID),
			zap.Int("fetched", fetched),
			zap.Int("written", written),
			zap.Int("dropped", dropped),
			zap.Int("rejected", rejected),
			zap.Time("watermark", p.watermark.Value()),
			zap.Duration("duration", time.Since(started)),
		)
	}

	if p.stats != nil && fetched > 0 {
		record := model.IngestStats{
			RunID:     runID,
			StartedAt: started.UTC(),
			Fetched:   fetched,
			Written:   written,
			Dropped:   dropped,
			Failed:    rejected,
			Duration:  time.Since(started),
		}
		if err := p.stats.InsertIngestStats(ctx, record); err != nil {
			p.logger.Warn("failed to record ingest stats", zap.Error(err))
		}
	}

	return fetched == 0, nil
}

// transform normalizes and scores the page concurrently, preserving fetch
// order in the result. Records failing normalization are dropped with a
// warning, never retried.
func (p *Processor) transform(ctx context.Context, hits []model.RawEvent) ([]model.BulkDoc, int) {
	results := make([]*model.BulkDoc, len(hits))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.TransformConcurrency)
	for i, raw := range hits {
		g.Go(func() error {
			ev, err := normalizer.Normalize(raw)
			if err != nil {
				p.logger.Warn("dropping malformed record",
					zap.String("id", raw.ID),
					zap.Error(err),
				)
				return nil
			}

			highRisk := p.reputation.IsHighRisk(gctx, ev.SourceIP)
			score, factors := p.scorer.Score(ev, highRisk)

			results[i] = &model.BulkDoc{
				ID: raw.ID,
				Body: model.ProcessedEvent{
					Timestamp:   ev.Timestamp,
					SourceIP:    ev.SourceIP,
					SourcePort:  ev.SourcePort,
					GeoIP:       ev.GeoIP,
					Username:    ev.Username,
					Password:    ev.Password,
					EventType:   ev.EventType,
					SessionID:   ev.SessionID,
					Message:     ev.Message,
					RiskScore:   score,
					RiskFactors: factors,
				},
			}
			return nil
		})
	}
	_ = g.Wait()

	docs := make([]model.BulkDoc, 0, len(hits))
	dropped := 0
	for _, res := range results {
		if res == nil {
			dropped++
			continue
		}
		docs = append(docs, *res)
	}
	return docs, dropped
}

// publishAlerts forwards high-risk documents to the alert channel when one is
// configured. Publication failures never fail the iteration.
func (p *Processor) publishAlerts(ctx context.Context, docs []model.BulkDoc) {
	if p.alerts == nil {
		return
	}
	var highRisk []model.ProcessedEvent
	for _, doc := range docs {
		if doc.Body.RiskScore >= p.alertThreshold {
			highRisk = append(highRisk, doc.Body)
		}
	}
	if len(highRisk) == 0 {
		return
	}
	if err := p.alerts.PublishAlerts(ctx, highRisk); err != nil {
		p.logger.Warn("failed to publish high-risk alerts",
			zap.Int("count", len(highRisk)),
			zap.Error(err),
		)
	}
}

// maxRawTimestamp returns the maximum parseable raw timestamp in the page, or
// the zero time when none parse.
func maxRawTimestamp(hits []model.RawEvent) time.Time {
	var latest time.Time
	for _, hit := range hits {
		ts, err := normalizer.ExtractTimestamp(hit)
		if err != nil {
			continue
		}
		if ts.After(latest) {
			latest = ts
		}
	}
	return latest
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
