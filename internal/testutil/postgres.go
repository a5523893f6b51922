// Package testutil starts throwaway infrastructure for integration tests.
package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/santosh227/airline-booking-service/internal/config"
	"github.com/santosh227/airline-booking-service/internal/database"
	"github.com/santosh227/airline-booking-service/internal/migrations"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

const postgresImage = "postgres:16-alpine"

// NewPostgres starts a Postgres container, applies the migrations and returns
// a connected pool. The container is removed when the test ends.
// TEST_DATABASE_URL points the tests at an existing database instead.
func NewPostgres(t testing.TB) *sqlx.DB {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		dsn = startContainer(ctx, t)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	db, err := database.NewConnection(ctx, config.DatabaseConfig{
		URL:                dsn,
		MaxConnections:     20,
		MaxIdleConnections: 5,
		ConnMaxLifetime:    time.Minute,
	}, logger)
	require.NoError(t, err, "connect to test database")
	t.Cleanup(func() { db.Close() })

	require.NoError(t, migrations.Apply(ctx, db, logger), "apply migrations")
	return db
}

func startContainer(ctx context.Context, t testing.TB) string {
	t.Helper()

	ctr, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase("bookings"),
		postgres.WithUsername("bookings"),
		postgres.WithPassword("bookings"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "start postgres container")

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}
