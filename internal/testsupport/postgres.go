package testsupport

import (
	"testing"

	"github.com/jmoiron/sqlx"

	"stockpulse/internal/adapters/config"
	"stockpulse/internal/adapters/postgres"
)

// NewPostgresDB opens a database handle for integration tests. The reports
// table is truncated before the test and again on cleanup so runs do not
// leak state into each other.
func NewPostgresDB(t *testing.T, cfg config.PostgresConfig) *sqlx.DB {
	t.Helper()

	client, err := postgres.NewClient(cfg)
	if err != nil {
		t.Fatalf("failed to connect to postgres: %v", err)
	}

	truncate := func() {
		_, _ = client.DB().Exec(`TRUNCATE TABLE analysis_reports`)
	}
	truncate()

	t.Cleanup(func() {
		truncate()
		_ = client.Close()
	})

	return client.DB()
}
