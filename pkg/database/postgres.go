package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sony/gobreaker"

	"github.com/davidmoltin/leadflow/pkg/config"
	"github.com/davidmoltin/leadflow/pkg/logger"
	"github.com/davidmoltin/leadflow/pkg/metrics"
)

// ErrCircuitOpen is returned by HealthCheck while the breaker rejects queries
var ErrCircuitOpen = errors.New("database circuit breaker is open")

// PostgresDB is the *sql.DB the repositories share. Queries pass through a
// circuit breaker that only counts connectivity failures.
type PostgresDB struct {
	DB             *sql.DB
	circuitBreaker *gobreaker.CircuitBreaker
	logger         *logger.Logger
}

// NewPostgresDB opens the pool and pings it with exponential backoff.
// Breaker state changes are reported to m, which may be nil.
func NewPostgresDB(cfg *config.Config, log *logger.Logger, m *metrics.Metrics) (*PostgresDB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	attempts, err := pingWithRetry("postgres", db.PingContext, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	log.Info("PostgreSQL connection established",
		logger.String("host", cfg.Database.Host),
		logger.Int("port", cfg.Database.Port),
		logger.String("database", cfg.Database.Database),
		logger.Int("attempts", attempts),
	)

	return &PostgresDB{
		DB:             db,
		circuitBreaker: newCircuitBreaker(log, m),
		logger:         log,
	}, nil
}

func newCircuitBreaker(log *logger.Logger, m *metrics.Metrics) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "database",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			if counts.Requests >= 3 && failureRatio >= 0.6 {
				log.Errorf("Database circuit breaker tripping: requests=%d failures=%d", counts.Requests, counts.TotalFailures)
				return true
			}
			return false
		},
		IsSuccessful: isHealthyResult,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warnf("Database circuit breaker %s -> %s", from, to)
			m.SetCircuitBreakerState(name, float64(to))
		},
	})
}

// isHealthyResult treats errors the database answered with as successes.
// Dedup-key and unique (workflow, event) conflicts are routine, and a
// cancelled request says nothing about the server.
func isHealthyResult(err error) bool {
	if err == nil || errors.Is(err, sql.ErrNoRows) || errors.Is(err, context.Canceled) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// class 08 is connection exception, 53 insufficient resources, 57 operator intervention
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			return false
		}
		return true
	}
	return false
}

// Close closes the database connection
func (p *PostgresDB) Close() error {
	return p.DB.Close()
}

// HealthCheck pings the server, bypassing the breaker, and fails while the
// breaker is open so readiness reflects what queries would see.
func (p *PostgresDB) HealthCheck(ctx context.Context) error {
	if p.circuitBreaker.State() == gobreaker.StateOpen {
		return ErrCircuitOpen
	}
	return p.DB.PingContext(ctx)
}

// ExecContext executes a statement through the circuit breaker
func (p *PostgresDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	result, err := p.circuitBreaker.Execute(func() (interface{}, error) {
		return p.DB.ExecContext(ctx, query, args...)
	})
	if err != nil {
		return nil, err
	}
	return result.(sql.Result), nil
}

// QueryContext runs a query through the circuit breaker
func (p *PostgresDB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	result, err := p.circuitBreaker.Execute(func() (interface{}, error) {
		return p.DB.QueryContext(ctx, query, args...)
	})
	if err != nil {
		return nil, err
	}
	return result.(*sql.Rows), nil
}

// QueryRowContext defers its error to Scan, so it bypasses the breaker
func (p *PostgresDB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return p.DB.QueryRowContext(ctx, query, args...)
}

// BeginTx starts a transaction through the circuit breaker
func (p *PostgresDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	result, err := p.circuitBreaker.Execute(func() (interface{}, error) {
		return p.DB.BeginTx(ctx, opts)
	})
	if err != nil {
		return nil, err
	}
	return result.(*sql.Tx), nil
}
