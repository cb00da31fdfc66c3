package storage

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// NewSQLite opens the embedded store at the given path. This is the default
// backend: no external service, one file next to the binary.
func NewSQLite(path string, logger *zap.Logger) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// The event log is the only writer; a single connection avoids
	// SQLITE_BUSY under concurrent dashboard reads.
	db.SetMaxOpenConns(1)

	err = db.Ping()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	logger.Info("sqlite-storage-opened", zap.String("path", path))

	return &sqlStore{db: db, dialect: dialectSQLite, logger: logger}, nil
}
