package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig holds database tracing settings.
type DBTracingConfig struct {
	Enabled         bool
	DBName          string
	WithVariables   bool
	SlowQueryThresh time.Duration
}

// RegisterDBTracing installs otelgorm on db and adds span attributes for
// slow queries and row-lock statements.
func RegisterDBTracing(db *gorm.DB, cfg DBTracingConfig, logger *zap.Logger) error {
	if !cfg.Enabled {
		return nil
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(cfg.DBName)}
	if !cfg.WithVariables {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	thresh := cfg.SlowQueryThresh
	if thresh == 0 {
		thresh = 200 * time.Millisecond
	}
	if err := registerStatementCallbacks(db, thresh); err != nil {
		return err
	}

	logger.Info("Database tracing enabled", zap.String("db_name", cfg.DBName))
	return nil
}

type queryStartKey struct{}

func registerStatementCallbacks(db *gorm.DB, thresh time.Duration) error {
	cb := db.Callback()
	before := func(tx *gorm.DB) {
		if tx.Statement.Context != nil {
			tx.Statement.Context = context.WithValue(tx.Statement.Context, queryStartKey{}, time.Now())
		}
	}
	after := func(tx *gorm.DB) { annotateStatement(tx, thresh) }

	steps := []struct {
		op string
		fn func() error
	}{
		{"create", func() error { return cb.Create().Before("gorm:create").Register("farm:before_create", before) }},
		{"query", func() error { return cb.Query().Before("gorm:query").Register("farm:before_query", before) }},
		{"update", func() error { return cb.Update().Before("gorm:update").Register("farm:before_update", before) }},
		{"delete", func() error { return cb.Delete().Before("gorm:delete").Register("farm:before_delete", before) }},
		{"raw", func() error { return cb.Raw().Before("gorm:raw").Register("farm:before_raw", before) }},
		{"create", func() error { return cb.Create().After("gorm:create").Register("farm:after_create", after) }},
		{"query", func() error { return cb.Query().After("gorm:query").Register("farm:after_query", after) }},
		{"update", func() error { return cb.Update().After("gorm:update").Register("farm:after_update", after) }},
		{"delete", func() error { return cb.Delete().After("gorm:delete").Register("farm:after_delete", after) }},
		{"raw", func() error { return cb.Raw().After("gorm:raw").Register("farm:after_raw", after) }},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			return fmt.Errorf("register %s callback: %w", step.op, err)
		}
	}
	return nil
}

func annotateStatement(tx *gorm.DB, thresh time.Duration) {
	ctx := tx.Statement.Context
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	if tx.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", tx.Statement.Table))
	}
	span.SetAttributes(attribute.Int64("db.rows_affected", tx.Statement.RowsAffected))
	if strings.Contains(strings.ToUpper(tx.Statement.SQL.String()), "FOR UPDATE") {
		span.SetAttributes(attribute.Bool("db.row_lock", true))
	}

	if tx.Error != nil && !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		span.RecordError(tx.Error)
		span.SetStatus(codes.Error, tx.Error.Error())
	}

	if start, ok := ctx.Value(queryStartKey{}).(time.Time); ok {
		if elapsed := time.Since(start); elapsed > thresh {
			span.SetAttributes(
				attribute.Bool("db.slow_query", true),
				attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
			)
		}
	}
}
