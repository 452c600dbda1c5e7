// Package postgres holds the connection setup and read-side repositories
// backing the core's own tables (retailers, orders). It does not own the
// product or vendor catalog tables that selector/scorer/ledger query
// directly with hand-written SQL — those packages are the single owner of
// their own persistence the same way the teacher's stock service owns
// store_reservations.go end to end.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Connect opens a pooled connection and verifies it with Ping before
// returning, mirroring the teacher's NewPostgresStore shape.
func Connect(connectionString string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return db, nil
}
