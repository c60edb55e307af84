// Package store is the Postgres persistence layer behind every port in
// internal/ports/store.go, following the teacher's PostgresRepository
// shape: a *sql.DB wrapped with small per-entity methods, JSON columns
// marshaled by hand, and fmt.Errorf-wrapped failures.
package store

import (
	"context"
	_ "embed"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/safe-global/safe-transaction-service-sub001/internal/config"
)

//go:embed schema.sql
var schemaSQL string

// Postgres is the shared connection handle behind every repository in
// this package. Each repository (BlockRepo, SafeRepo, ...) embeds it.
type Postgres struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens the connection pool described by cfg and verifies it with
// a ping, mirroring the teacher's NewPostgresRepository.
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("connected to postgres",
		zap.String("database", cfg.Database),
		zap.String("host", cfg.Host))

	return &Postgres{db: db, logger: logger}, nil
}

// Close closes the underlying connection pool.
func (p *Postgres) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// InitSchema applies the embedded schema.sql, split on blank-line
// boundaries so each CREATE/INDEX statement runs as its own exec, same
// as the teacher's InitSchema loop over a query slice.
func (p *Postgres) InitSchema(ctx context.Context) error {
	statements := splitStatements(schemaSQL)
	for _, stmt := range statements {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	p.logger.Info("database schema initialized")
	return nil
}

func splitStatements(sqlText string) []string {
	var out []string
	var current []byte
	flush := func() {
		stmt := trimSpace(string(current))
		if stmt != "" {
			out = append(out, stmt)
		}
		current = current[:0]
	}
	for i := 0; i < len(sqlText); i++ {
		c := sqlText[i]
		current = append(current, c)
		if c == ';' {
			flush()
		}
	}
	flush()
	return out
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpaceOrComment(s, start) {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\n' || s[end-1] == '\t' || s[end-1] == '\r') {
		end--
	}
	return s[start:end]
}

func isSpaceOrComment(s string, i int) bool {
	c := s[i]
	return c == ' ' || c == '\n' || c == '\t' || c == '\r'
}
