package analytics

import (
	"context"

	"go.uber.org/zap"

	"github.com/atlascrawl/engine/pkg/types"
)

// MaybeOpen opens an Exporter if dsn is non-empty, turning a connection
// failure into a warning rather than an error: analytics is additive, and
// the archive must still finalize even if the ClickHouse sink is down.
// Returns a nil exporter (with no warning) when dsn is empty.
func MaybeOpen(ctx context.Context, dsn string, logger *zap.Logger) (*Exporter, *types.Warning) {
	if dsn == "" {
		return nil, nil
	}
	exp, err := New(ctx, Config{DSN: dsn}, logger)
	if err != nil {
		logger.Warn("analytics export disabled for this crawl", zap.Error(err))
		return nil, &types.Warning{
			Code:     "analytics_unavailable",
			Message:  err.Error(),
			Severity: "warning",
			Count:    1,
		}
	}
	return exp, nil
}
