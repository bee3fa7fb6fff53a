package pipeline

import (
	"database/sql"

	"github.com/ocx/escrow-indexer/internal/cache"
	"github.com/ocx/escrow-indexer/internal/circuitbreaker"
	"github.com/ocx/escrow-indexer/internal/config"
	"github.com/ocx/escrow-indexer/internal/metrics"
)

// Context bundles the shared dependencies every component needs — config,
// the DB pool, circuit breakers, metrics, and an optional cache — instead
// of reaching for module-level singletons. Built once in main and passed
// down explicitly.
type Context struct {
	Config   *config.Config
	DB       *sql.DB
	Cache    *cache.Redis
	Metrics  *metrics.Metrics
	Breakers *circuitbreaker.PipelineBreakers
}
