// Package storage keeps a best-effort audit log of generation
// invocations. Conversations themselves are never persisted; the log
// records only per-invocation metadata for operations work.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bitnetgo/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the configured audit database.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			dbCfg.Username,
			dbCfg.Password,
			dbCfg.Host,
			dbCfg.Port,
			dbCfg.DBName,
			dbCfg.Params,
		)
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the invocations table is present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS invocations (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				endpoint TEXT NOT NULL,
				conversation_id TEXT,
				prompt_chars INTEGER NOT NULL,
				output_chars INTEGER NOT NULL,
				finish_reason TEXT NOT NULL,
				duration_ms INTEGER NOT NULL,
				created_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_invocations_created_at ON invocations(created_at)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS invocations (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				endpoint VARCHAR(100) NOT NULL,
				conversation_id VARCHAR(100),
				prompt_chars BIGINT NOT NULL,
				output_chars BIGINT NOT NULL,
				finish_reason VARCHAR(50) NOT NULL,
				duration_ms BIGINT NOT NULL,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_invocations_created_at (created_at)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}

// Invocation is one audit row.
type Invocation struct {
	Endpoint       string
	ConversationID string
	PromptChars    int
	OutputChars    int
	FinishReason   string
	Duration       time.Duration
}

// AuditLog writes invocation rows. A nil *AuditLog is a no-op, so the
// handlers never branch on whether auditing is configured.
type AuditLog struct {
	db  *sql.DB
	log zerolog.Logger
}

func NewAuditLog(db *sql.DB, log zerolog.Logger) *AuditLog {
	return &AuditLog{db: db, log: log.With().Str("component", "audit").Logger()}
}

// Record inserts one row. Failures are logged and swallowed; auditing
// must never fail a client request.
func (a *AuditLog) Record(ctx context.Context, inv Invocation) {
	if a == nil || a.db == nil {
		return
	}
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO invocations
			(endpoint, conversation_id, prompt_chars, output_chars, finish_reason, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inv.Endpoint,
		inv.ConversationID,
		inv.PromptChars,
		inv.OutputChars,
		inv.FinishReason,
		inv.Duration.Milliseconds(),
		time.Now().UTC(),
	)
	if err != nil {
		a.log.Warn().Err(err).Str("endpoint", inv.Endpoint).Msg("audit insert failed")
	}
}
