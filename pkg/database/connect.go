package database

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// ConnectConfig holds postgres connection settings
type ConnectConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationPath   string
}

func (c ConnectConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// Connect opens a postgres connection pool, applies migrations, and returns
// the wrapped DB.
func Connect(ctx context.Context, cfg ConnectConfig, logger ectologger.Logger) (DB, error) {
	sqlxDB, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres at %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlxDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlxDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlxDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if cfg.MigrationPath != "" {
		driver, err := migratepg.WithInstance(sqlxDB.DB, &migratepg.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to create migration driver: %w", err)
		}

		ms := NewMigrationService(logger, &MigrationConfig{MigrationFolderPath: cfg.MigrationPath})
		if err := ms.Migrate(cfg.Name, driver); err != nil {
			return nil, err
		}
	}

	logger.Infof("Connected to postgres at %s:%d/%s", cfg.Host, cfg.Port, cfg.Name)

	return NewDatabaseInstance(sqlxDB, logger), nil
}
