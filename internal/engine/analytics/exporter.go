// Package analytics batches page records to an optional ClickHouse sink as
// a crawl runs, and inserts one summary row once the archive has finalized
// successfully. It is entirely optional: a crawl with no clickhouseDSN
// configured never imports this package's cost, and any failure here is
// surfaced as a manifest warning rather than aborting the crawl.
package analytics

import (
	"context"
	"fmt"
	"sync"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/atlascrawl/engine/pkg/types"
)

const (
	defaultBatchSize = 500
	pagesTable       = "atlascrawl_pages"
	crawlsTable      = "atlascrawl_crawls"
)

// Config configures the exporter. DSN is the only field a crawl config
// actually sets (analytics.clickhouseDSN); BatchSize defaults when zero.
type Config struct {
	DSN       string
	BatchSize int
}

// Exporter holds one open ClickHouse connection and the in-flight batch of
// page rows for the current crawl. It is not safe to share across crawls;
// callers create one per crawl and Close it after FinalizeCrawl.
type Exporter struct {
	conn   driver.Conn
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	batch   driver.Batch
	pending int
}

// New opens the ClickHouse connection and prepares the first page batch.
// Returns an error if the DSN is unreachable; callers should treat that as
// a warning and skip analytics for the crawl rather than fail it.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Exporter, error) {
	opts, err := clickhouse.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("analytics: parse clickhouseDSN: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("analytics: open connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("analytics: ping: %w", err)
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	e := &Exporter{conn: conn, cfg: cfg, logger: logger}
	if err := e.openPageBatch(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return e, nil
}

func (e *Exporter) openPageBatch(ctx context.Context) error {
	batch, err := e.conn.PrepareBatch(ctx, fmt.Sprintf(
		"INSERT INTO %s (crawl_id, page_id, url, status_code, depth, content_type, render_ms, fetched_at)",
		pagesTable,
	))
	if err != nil {
		return fmt.Errorf("analytics: prepare page batch: %w", err)
	}
	e.batch = batch
	return nil
}

// InsertPage appends one page row to the current batch, sending (and
// reopening) it once cfg.BatchSize is reached. Called from the page task
// pipeline alongside atlas.Writer.WriteRecord, never in place of it.
func (e *Exporter) InsertPage(ctx context.Context, crawlID string, page types.PageRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.batch.Append(
		crawlID,
		page.PageID,
		page.URLFinal,
		page.StatusCode,
		page.Depth,
		page.ContentType,
		page.RenderMs,
		page.FetchedAt,
	); err != nil {
		return fmt.Errorf("analytics: append page row: %w", err)
	}

	e.pending++
	if e.pending < e.cfg.BatchSize {
		return nil
	}
	if err := e.batch.Send(); err != nil {
		return fmt.Errorf("analytics: send page batch: %w", err)
	}
	e.pending = 0
	return e.openPageBatch(ctx)
}

// FinalizeCrawl flushes any buffered page rows and inserts the crawl's
// summary row. Called once, after internal/atlas.Writer.Finalize succeeds.
func (e *Exporter) FinalizeCrawl(ctx context.Context, crawlID string, summary types.AtlasSummary) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pending > 0 {
		if err := e.batch.Send(); err != nil {
			return fmt.Errorf("analytics: flush final page batch: %w", err)
		}
		e.pending = 0
	}

	summaryBatch, err := e.conn.PrepareBatch(ctx, fmt.Sprintf(
		"INSERT INTO %s (crawl_id, primary_origin, domain, completion_reason, total_pages, total_edges, total_errors, avg_render_ms, max_depth, started_at, finished_at)",
		crawlsTable,
	))
	if err != nil {
		return fmt.Errorf("analytics: prepare summary batch: %w", err)
	}
	if err := summaryBatch.Append(
		crawlID,
		summary.PrimaryOrigin,
		summary.Domain,
		string(summary.CompletionReason),
		summary.Stats.TotalPages,
		summary.Stats.TotalEdges,
		summary.Stats.TotalErrors,
		summary.Performance.AvgRenderMs,
		summary.Performance.MaxDepth,
		summary.StartedAt,
		summary.FinishedAt,
	); err != nil {
		return fmt.Errorf("analytics: append summary row: %w", err)
	}
	if err := summaryBatch.Send(); err != nil {
		return fmt.Errorf("analytics: send summary batch: %w", err)
	}

	e.logger.Info("analytics export finalized",
		zap.String("crawlId", crawlID),
		zap.Int64("totalPages", summary.Stats.TotalPages))
	return nil
}

// Close releases the underlying ClickHouse connection. Safe to call even
// if New never completed a batch.
func (e *Exporter) Close() error {
	return e.conn.Close()
}
