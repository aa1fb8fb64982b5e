package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the database struct.
type DB struct {
	db *sql.DB
}

const maxBusyRetries = 5

// Open connects to the sqlite file at path and applies connection pragmas.
// Pragmas go into the DSN so every pooled connection gets them.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	var journalMode string
	if err := sqlDB.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to query journal mode: %w", err)
	}
	log.Printf("Database %s opened (journal mode: %s, max 25 connections)", path, journalMode)

	return &DB{db: sqlDB}, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// wrapTransaction runs f inside a transaction and commits it. When sqlite
// reports SQLITE_BUSY the whole transaction is rolled back and replayed.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxBusyRetries; attempt++ {
		err = db.runTransaction(f)
		if err == nil || !isBusy(err) {
			return err
		}
		log.Printf("Database busy (attempt %d/%d), retrying transaction", attempt, maxBusyRetries)
		time.Sleep(time.Duration(attempt*20) * time.Millisecond)
	}
	return err
}

func (db *DB) runTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("error starting transaction: %s", err)
		return err
	}

	if err := f(tx); err != nil {
		tx.Rollback()
		if !isConstraint(err) && !isBusy(err) {
			log.Printf("error in transaction: %s", err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		log.Printf("error committing transaction: %s", err)
		return err
	}
	return nil
}

func isBusy(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		code := serr.Code() & 0xff
		return code == sqlitelib.SQLITE_BUSY || code == sqlitelib.SQLITE_LOCKED
	}
	return false
}

func isConstraint(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		return serr.Code()&0xff == sqlitelib.SQLITE_CONSTRAINT
	}
	return false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
