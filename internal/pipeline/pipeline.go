// Package pipeline sequences the three stages over a shared DuckDB handle:
// split (CSV to typed relations), hierarchy (parent/child roles), and
// flatfile (chunked address variants). Each stage is also runnable on its
// own; the full run is just the stages in dependency order.
package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"abp-pipeline/internal/config"
	"abp-pipeline/internal/duck"
	"abp-pipeline/internal/flatfile"
	"abp-pipeline/internal/hierarchy"
	"abp-pipeline/internal/observability"
	"abp-pipeline/internal/schema"
	"abp-pipeline/internal/split"
)

// Pipeline owns the resources shared by every stage.
type Pipeline struct {
	cfg      *config.Config
	registry *schema.Registry
	db       *sql.DB
	logger   *slog.Logger
	stats    *observability.Stats
}

// New opens the database, loads the schema registry, and builds the run
// logger. Close must be called when done.
func New(cfg *config.Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})).With("run_id", uuid.NewString()[:8])
	for _, warning := range cfg.Warnings {
		logger.Warn(warning)
	}

	registry, err := schema.Load(cfg.SchemaPath)
	if err != nil {
		return nil, err
	}

	db, err := duck.Open()
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:      cfg,
		registry: registry,
		db:       db,
		logger:   logger,
		stats:    &observability.Stats{},
	}, nil
}

// Close releases the database handle.
func (p *Pipeline) Close() error {
	return p.db.Close()
}

// Logger exposes the run logger for callers that log around stage calls.
func (p *Pipeline) Logger() *slog.Logger {
	return p.logger
}

// Split runs the record splitter stage.
func (p *Pipeline) Split(ctx context.Context, force bool) error {
	return p.stage(ctx, "split", force, func(ctx context.Context, force bool) error {
		s := split.New(p.db, p.registry, p.cfg, p.logger.With("component", "split"), p.stats)
		return s.Run(ctx, force)
	})
}

// Hierarchy runs the parent/child classification stage.
func (p *Pipeline) Hierarchy(ctx context.Context, force bool) error {
	return p.stage(ctx, "hierarchy", force, func(ctx context.Context, force bool) error {
		r := hierarchy.New(p.db, p.cfg, p.logger.With("component", "hierarchy"), p.stats)
		return r.Run(ctx, force)
	})
}

// Flatfile runs the chunked variant-generation stage.
func (p *Pipeline) Flatfile(ctx context.Context, force bool) error {
	return p.stage(ctx, "flatfile", force, func(ctx context.Context, force bool) error {
		w := flatfile.NewWriter(p.db, p.registry, p.cfg, p.logger.With("component", "flatfile"), p.stats)
		return w.Run(ctx, force)
	})
}

// Run executes all stages in order and reports the run counters.
func (p *Pipeline) Run(ctx context.Context, force bool) error {
	start := time.Now()
	if err := p.Split(ctx, force); err != nil {
		return err
	}
	if err := p.Hierarchy(ctx, force); err != nil {
		return err
	}
	if err := p.Flatfile(ctx, force); err != nil {
		return err
	}
	p.stats.Report(p.logger)
	p.logger.Info("pipeline complete", "elapsed", time.Since(start))
	return nil
}

func (p *Pipeline) stage(ctx context.Context, name string, force bool, fn func(context.Context, bool) error) error {
	start := time.Now()
	p.logger.Info("stage starting", "stage", name, "force", force)
	if err := fn(ctx, force); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	p.logger.Info("stage finished", "stage", name, "elapsed", time.Since(start))
	return nil
}
