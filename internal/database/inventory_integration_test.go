//go:build integration

package database_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/santosh227/airline-booking-service/internal/database"
	"github.com/santosh227/airline-booking-service/internal/migrations"
	"github.com/santosh227/airline-booking-service/internal/models"
	"github.com/santosh227/airline-booking-service/internal/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedFlight(t *testing.T, repo *database.InventoryRepository, seats int) uuid.UUID {
	t.Helper()
	flight, err := repo.Upsert(context.Background(), &models.FlightInventory{
		FlightID:         uuid.New(),
		FlightNumber:     "AB123",
		DepartureAirport: "CMB",
		ArrivalAirport:   "DXB",
		DepartureAt:      time.Now().Add(72 * time.Hour).UTC(),
		PricePerSeat:     25000,
		Currency:         "USD",
		TotalSeats:       seats,
		AvailableSeats:   seats,
	})
	require.NoError(t, err)
	return flight.FlightID
}

func TestInventoryRepository_ConcurrentReservationsNeverOversell(t *testing.T) {
	db := testutil.NewPostgres(t)
	repo := database.NewInventoryRepository(db)
	flightID := seedFlight(t, repo, 10)

	const workers = 25
	var granted, refused atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Reserve(context.Background(), flightID, 1)
			switch {
			case err == nil:
				granted.Add(1)
			case errors.Is(err, database.ErrInsufficientCapacity):
				refused.Add(1)
			default:
				t.Errorf("unexpected reserve error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 10, granted.Load())
	assert.EqualValues(t, workers-10, refused.Load())

	flight, err := repo.Get(context.Background(), flightID)
	require.NoError(t, err)
	assert.Equal(t, 0, flight.AvailableSeats)
}

func TestInventoryRepository_ReleaseIsClampedToCapacity(t *testing.T) {
	db := testutil.NewPostgres(t)
	repo := database.NewInventoryRepository(db)
	ctx := context.Background()
	flightID := seedFlight(t, repo, 4)

	_, err := repo.Reserve(ctx, flightID, 3)
	require.NoError(t, err)

	flight, err := repo.Release(ctx, flightID, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, flight.AvailableSeats)

	flight, err = repo.Release(ctx, flightID, 5)
	require.NoError(t, err)
	assert.Equal(t, 4, flight.AvailableSeats)

	_, err = repo.Release(ctx, uuid.New(), 1)
	assert.ErrorIs(t, err, database.ErrFlightNotFound)

	_, err = repo.Reserve(ctx, uuid.New(), 1)
	assert.ErrorIs(t, err, database.ErrFlightNotFound)
}

func TestInventoryRepository_ShrinkBelowReservedIsRefused(t *testing.T) {
	db := testutil.NewPostgres(t)
	repo := database.NewInventoryRepository(db)
	ctx := context.Background()
	flightID := seedFlight(t, repo, 5)

	_, err := repo.Reserve(ctx, flightID, 4)
	require.NoError(t, err)

	flight, err := repo.Get(ctx, flightID)
	require.NoError(t, err)
	flight.TotalSeats = 3
	_, err = repo.Upsert(ctx, flight)
	assert.ErrorIs(t, err, database.ErrCapacityBelowReserved)

	flight.TotalSeats = 8
	resized, err := repo.Upsert(ctx, flight)
	require.NoError(t, err)
	assert.Equal(t, 8, resized.TotalSeats)
	assert.Equal(t, 4, resized.AvailableSeats)
}

func TestMigrations_ApplyIsRepeatable(t *testing.T) {
	db := testutil.NewPostgres(t)
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	require.NoError(t, migrations.Apply(context.Background(), db, logger))

	var applied int
	require.NoError(t, db.Get(&applied, `SELECT COUNT(*) FROM schema_migrations`))
	assert.Equal(t, 5, applied)
}
