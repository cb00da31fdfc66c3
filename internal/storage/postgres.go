package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/crossvenue/kalshi-poly-arb/pkg/config"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// NewPostgres opens the shared-database backend, for deployments where the
// trail must outlive the host running the bot.
func NewPostgres(cfg *config.Config, logger *zap.Logger) (Store, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser,
		cfg.PostgresPass, cfg.PostgresDB, cfg.PostgresSSL)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	err = db.Ping()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Info("postgres-storage-opened",
		zap.String("host", cfg.PostgresHost),
		zap.String("database", cfg.PostgresDB))

	return &sqlStore{db: db, dialect: dialectPostgres, logger: logger}, nil
}
