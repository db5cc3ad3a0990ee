//go:build integration

package repository_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Freeeeeet/space_booking/internal/model"
	"github.com/Freeeeeet/space_booking/internal/repository"
	"github.com/Freeeeeet/space_booking/internal/repository/migrations"
)

// Запуск: TEST_DB_DSN=postgres://... go test -tags integration ./internal/repository/...
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN is not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, goose.SetDialect("postgres"))
	goose.SetBaseFS(migrations.FS)
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	require.NoError(t, goose.UpContext(ctx, db, "."))

	return pool
}

func createProperty(t *testing.T, pool *pgxpool.Pool) *model.Property {
	t.Helper()

	p := &model.Property{
		ID:         uuid.New(),
		HostID:     "host-it",
		Name:       "Integration Yard",
		HourlyRate: 2500,
		Currency:   "usd",
		Timezone:   "UTC",
	}
	require.NoError(t, repository.NewPropertyRepository(pool).Create(context.Background(), p))

	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = pool.Exec(ctx, `DELETE FROM bookings WHERE property_id = $1`, p.ID)
		_, _ = pool.Exec(ctx, `DELETE FROM availability_rules WHERE property_id = $1`, p.ID)
		_, _ = pool.Exec(ctx, `DELETE FROM properties WHERE id = $1`, p.ID)
	})
	return p
}

func newBooking(propertyID uuid.UUID, userID string, start time.Time) *model.Booking {
	return &model.Booking{
		ID:             uuid.New(),
		PropertyID:     propertyID,
		UserID:         userID,
		StartTime:      start,
		EndTime:        start.Add(time.Hour),
		Status:         model.BookingStatusPending,
		NumberOfDogs:   1,
		DogNames:       []string{"Rex"},
		ContactAddress: "renter@example.com",
		PaymentID:      "pi_" + userID,
		TotalAmount:    2500,
		Currency:       "usd",
	}
}

var slotStart = time.Date(2030, 1, 7, 10, 0, 0, 0, time.UTC)

func TestBookingRepository_ConcurrentCheckAndInsert(t *testing.T) {
	pool := testPool(t)
	property := createProperty(t, pool)
	bookings := repository.NewBookingRepository(pool)

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx := context.Background()

			tx, err := bookings.BeginPropertyTx(ctx, property.ID)
			if !assert.NoError(t, err) {
				return
			}
			defer func() { _ = tx.Rollback(ctx) }()

			busy, err := tx.HasActiveOverlap(ctx, slotStart, slotStart.Add(time.Hour))
			if !assert.NoError(t, err) {
				return
			}

			mu.Lock()
			defer mu.Unlock()
			if busy {
				conflicts++
				return
			}
			if assert.NoError(t, tx.Insert(ctx, newBooking(property.ID, fmt.Sprintf("user-%d", i), slotStart))) &&
				assert.NoError(t, tx.Commit(ctx)) {
				successes++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)

	active, err := bookings.ListActiveInRange(context.Background(), property.ID, slotStart, slotStart.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestBookingRepository_ExclusionConstraintIsSlotUnavailable(t *testing.T) {
	pool := testPool(t)
	property := createProperty(t, pool)
	bookings := repository.NewBookingRepository(pool)
	ctx := context.Background()

	first, err := bookings.BeginPropertyTx(ctx, property.ID)
	require.NoError(t, err)
	require.NoError(t, first.Insert(ctx, newBooking(property.ID, "user-1", slotStart)))
	require.NoError(t, first.Commit(ctx))

	// вставка в обход HasActiveOverlap упирается в ограничение bookings_no_overlap
	second, err := bookings.BeginPropertyTx(ctx, property.ID)
	require.NoError(t, err)
	defer func() { _ = second.Rollback(ctx) }()

	err = second.Insert(ctx, newBooking(property.ID, "user-2", slotStart.Add(30*time.Minute)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrSlotUnavailable))

	// смежный интервал допустим
	third, err := bookings.BeginPropertyTx(ctx, property.ID)
	require.NoError(t, err)
	require.NoError(t, third.Insert(ctx, newBooking(property.ID, "user-3", slotStart.Add(time.Hour))))
	require.NoError(t, third.Commit(ctx))
}

func TestAvailabilityRules_ReplaceWaitsForPropertyLock(t *testing.T) {
	pool := testPool(t)
	property := createProperty(t, pool)
	bookings := repository.NewBookingRepository(pool)
	rules := repository.NewAvailabilityRuleRepository(pool)
	ctx := context.Background()

	tx, err := bookings.BeginPropertyTx(ctx, property.ID)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- rules.ReplaceForProperty(ctx, property.ID, []model.AvailabilityRule{
			{DayOfWeek: 1, StartTime: model.MustClock("09:00"), EndTime: model.MustClock("17:00"), IsAvailable: true},
		})
	}()

	select {
	case err := <-done:
		t.Fatalf("rules replaced while the property lock was held: %v", err)
	case <-time.After(300 * time.Millisecond):
	}

	require.NoError(t, tx.Rollback(ctx))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("rules replacement did not finish after the lock was released")
	}

	stored, err := rules.ListByProperty(ctx, property.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, model.MustClock("09:00"), stored[0].StartTime)
}
