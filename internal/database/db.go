// Package database opens the MySQL connection the admission path's
// row locks and Store.Transaction retries run against.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Open dials MySQL and blocks until the connection is verified with a
// ping, so a bad DSN or unreachable host fails fast at startup rather
// than surfacing as a mystery error on the first checkout request.
func Open(user, pass, host, port, name string) (*sql.DB, error) {
	credentials := user
	if pass != "" {
		credentials = fmt.Sprintf("%s:%s", user, pass)
	}
	// parseTime=true scans DATETIME columns into time.Time; loc=UTC
	// keeps hold/order expiry comparisons consistent regardless of the
	// server's session timezone.
	dsn := fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		credentials, host, port, name)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	// Flash-sale traffic is bursty, so the pool is sized to the
	// instance's admission concurrency rather than left at the driver
	// default; idle conns match max so a burst doesn't pay dial cost on
	// every request.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return db, nil
}
