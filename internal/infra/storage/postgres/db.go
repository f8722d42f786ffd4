package postgres

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"

	"github.com/vietddude/writer/internal/metrics"
)

// Config locates the records database and sizes its pool.
type Config struct {
	URL string `yaml:"url"`
	// MaxOpenConns caps concurrent status writes across engine workers.
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

const (
	defaultMaxOpenConns    = 16
	defaultMaxIdleConns    = 4
	defaultConnMaxLifetime = 30 * time.Minute
)

// DB is the records database handle.
type DB struct {
	*sqlx.DB
}

// NewDB connects to the records database and exports its pool stats.
func NewDB(ctx context.Context, cfg Config) (*DB, error) {
	conn, err := sqlx.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open records database: %w", err)
	}
	db := &DB{DB: conn}
	db.configurePool(cfg)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach records database: %w", err)
	}
	if err := metrics.RegisterDBStats(db.DB.DB, "records"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) configurePool(cfg Config) {
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConns
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdleConns
	}
	maxIdle = min(maxIdle, maxOpen)
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = defaultConnMaxLifetime
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)
}

// Health reports whether the records database answers.
func (db *DB) Health(ctx context.Context) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("records database: %w", err)
	}
	return nil
}
