package implementations

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/parametriq/settlement-core/internal/logger"
)

// Open dials postgres and verifies the connection before handing it out.
// Pool sizing covers the HTTP controllers plus the two polling workers;
// a settlement cycle holds at most a handful of connections at a time.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxIdleTime(10 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Info("postgres connection established", nil)
	return db, nil
}
