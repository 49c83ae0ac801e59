package gorm

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	// Pure-Go SQLite driver registered as "sqlite".
	_ "modernc.org/sqlite"
)

// Store represents the GORM database connection.
type Store struct {
	healthCacheTime time.Time
	DB              *gorm.DB
	sqlDB           *sql.DB
	cachedHealth    *HealthInfo
	dialect         string
	healthCacheTTL  time.Duration
	slowQuery       time.Duration
	healthCacheMu   sync.RWMutex
}

// Config holds database configuration.
type Config struct {
	DSN      string          // PostgreSQL DSN; takes precedence over Path
	Path     string          // SQLite database file
	MaxConns int             // Maximum number of open connections (default: 10 postgres, 1 sqlite)
	LogLevel logger.LogLevel // GORM log level (logger.Silent for production)
}

// NewStore opens the database and runs migrations.
func NewStore(cfg Config) (*Store, error) {
	// 1. Pick the dialect
	var dialector gorm.Dialector
	dialect := "postgres"
	switch {
	case cfg.DSN != "":
		dialector = postgres.Open(cfg.DSN)
	case cfg.Path != "":
		dialect = "sqlite"
		dialector = sqlite.New(sqlite.Config{
			DriverName: "sqlite",
			DSN:        cfg.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		})
	default:
		return nil, fmt.Errorf("open gorm: neither dsn nor path configured")
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:      logger.Default.LogMode(cfg.LogLevel),
		PrepareStmt: true,
		NowFunc:     func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm %s: %w", dialect, err)
	}

	// 2. Get underlying *sql.DB for pool configuration
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	// 3. Configure connection pool. SQLite serializes writers, so one
	// connection avoids busy errors under concurrent saves.
	maxConns := cfg.MaxConns
	if dialect == "sqlite" {
		maxConns = 1
	} else if maxConns <= 0 {
		maxConns = 10
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(max(1, maxConns/2))
	sqlDB.SetConnMaxLifetime(1 * time.Hour)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	// 4. Verify connection
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}

	// 5. Run migrations
	if err := runMigrations(db); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	log.Debug().Str("dialect", dialect).Int("max_conns", maxConns).Msg("Record store opened")

	return &Store{
		DB:             db,
		sqlDB:          sqlDB,
		dialect:        dialect,
		healthCacheTTL: 5 * time.Second, // Cache health checks for 5 seconds
		slowQuery:      slowQueryThreshold(dialect),
	}, nil
}

// slowQueryThreshold is the SELECT 1 latency above which the store reports
// itself degraded. A local SQLite file answers far faster than a network
// round trip to Postgres.
func slowQueryThreshold(dialect string) time.Duration {
	if dialect == "sqlite" {
		return 10 * time.Millisecond
	}
	return 50 * time.Millisecond
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// Dialect returns "postgres" or "sqlite".
func (s *Store) Dialect() string {
	return s.dialect
}

// Health statuses reported by HealthCheck.
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// Ping runs the cached health check and fails only when the database cannot
// answer a query. A degraded pool still serves traffic.
func (s *Store) Ping(ctx context.Context) error {
	info := s.HealthCheck(ctx)
	if info.Status == HealthUnhealthy {
		return fmt.Errorf("%s: %s", s.dialect, info.Error)
	}
	return nil
}

// HealthCheck measures query latency and pool pressure. Results are cached for
// healthCacheTTL so frequent health requests do not load the database.
func (s *Store) HealthCheck(ctx context.Context) *HealthInfo {
	s.healthCacheMu.RLock()
	if s.cachedHealth != nil && time.Since(s.healthCacheTime) < s.healthCacheTTL {
		cached := s.cachedHealth
		s.healthCacheMu.RUnlock()
		return cached
	}
	s.healthCacheMu.RUnlock()

	info := s.performHealthCheck(ctx)

	s.healthCacheMu.Lock()
	s.cachedHealth = info
	s.healthCacheTime = time.Now()
	s.healthCacheMu.Unlock()

	return info
}

func (s *Store) performHealthCheck(ctx context.Context) *HealthInfo {
	stats := s.sqlDB.Stats()
	info := &HealthInfo{
		Status:    HealthHealthy,
		Dialect:   s.dialect,
		Timestamp: time.Now().UTC(),
		PoolStats: PoolStats{
			MaxOpen:         stats.MaxOpenConnections,
			OpenConnections: stats.OpenConnections,
			InUse:           stats.InUse,
			Idle:            stats.Idle,
			WaitCount:       stats.WaitCount,
			WaitDuration:    stats.WaitDuration,
		},
	}

	start := time.Now()
	var one int
	err := s.sqlDB.QueryRowContext(ctx, "SELECT 1").Scan(&one)
	info.QueryLatency = time.Since(start)
	if err != nil {
		info.Status = HealthUnhealthy
		info.Error = err.Error()
		return info
	}

	// Sweeps and saves queue on the pool; sustained waiting means the
	// connection limit is too low for the ingest rate.
	if stats.WaitCount > 100 && stats.WaitDuration > 100*time.Millisecond {
		info.Status = HealthDegraded
		info.Warning = "connection pool contention"
	}
	if info.QueryLatency > s.slowQuery {
		info.Status = HealthDegraded
		info.Warning = fmt.Sprintf("slow query latency: %v", info.QueryLatency)
	}
	return info
}

// HealthInfo is the record database status reported on /stats.
type HealthInfo struct {
	Timestamp    time.Time     `json:"timestamp"`
	Status       string        `json:"status"`
	Dialect      string        `json:"dialect"`
	Error        string        `json:"error,omitempty"`
	Warning      string        `json:"warning,omitempty"`
	PoolStats    PoolStats     `json:"pool_stats"`
	QueryLatency time.Duration `json:"query_latency_ns"`
}

// PoolStats is a snapshot of the connection pool.
type PoolStats struct {
	MaxOpen         int           `json:"max_open"`
	OpenConnections int           `json:"open_connections"`
	InUse           int           `json:"in_use"`
	Idle            int           `json:"idle"`
	WaitCount       int64         `json:"wait_count"`
	WaitDuration    time.Duration `json:"wait_duration_ns"`
}

// QueryTimeout constants for different query types.
const (
	// DefaultQueryTimeout is the default timeout for regular queries.
	DefaultQueryTimeout = 5 * time.Second
	// SlowQueryTimeout is for scans over all records.
	SlowQueryTimeout = 30 * time.Second
)

// WithTimeout wraps a context with the given timeout and logs slow queries.
// Returns the wrapped context and a cancel function that should be called when done.
func (s *Store) WithTimeout(ctx context.Context, timeout time.Duration, operation string) (context.Context, context.CancelFunc) {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	start := time.Now()

	return timeoutCtx, func() {
		elapsed := time.Since(start)
		cancel()

		// Log slow queries (> 100ms)
		if elapsed > 100*time.Millisecond {
			log.Warn().
				Str("operation", operation).
				Dur("elapsed", elapsed).
				Dur("timeout", timeout).
				Msg("Slow database operation")
		}
	}
}
