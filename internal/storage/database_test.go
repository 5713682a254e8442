package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitnetgo/internal/config"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := Open("sqlite3", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(db, "sqlite3"))
	return db
}

func TestRecordInvocation(t *testing.T) {
	db := openTestDB(t)
	audit := NewAuditLog(db, zerolog.Nop())

	audit.Record(context.Background(), Invocation{
		Endpoint:       "/completion",
		ConversationID: "",
		PromptChars:    12,
		OutputChars:    34,
		FinishReason:   "stop",
		Duration:       1500 * time.Millisecond,
	})

	var (
		count    int
		duration int64
	)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*), COALESCE(MAX(duration_ms), 0) FROM invocations`).Scan(&count, &duration))
	assert.Equal(t, 1, count)
	assert.EqualValues(t, 1500, duration)
}

func TestNilAuditLogIsNoop(t *testing.T) {
	var audit *AuditLog
	audit.Record(context.Background(), Invocation{Endpoint: "/completion"})
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("postgres", &config.Config{Databases: map[string]config.DatabaseConfig{
		"postgres": {DSN: "x"},
	}})
	assert.Error(t, err)
}
