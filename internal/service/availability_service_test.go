package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Freeeeeet/space_booking/internal/availability"
	"github.com/Freeeeeet/space_booking/internal/model"
)

func TestGetAvailability_MarksBookedSlots(t *testing.T) {
	f := newFixture(t, DefaultBookingLimits())
	f.create(t, "user-1", "10:00", "11:00")

	days, err := f.availability.GetAvailability(context.Background(), f.property.ID, testMonday, testMonday)
	require.NoError(t, err)
	require.Len(t, days, 1)

	slots := days[0].TimeSlots
	require.Len(t, slots, 8)
	for _, s := range slots {
		booked := s.StartTime.Equal(at(testMonday, "10:00"))
		assert.Equal(t, !booked, s.IsAvailable, "slot %s", s.StartTime.Format("15:04"))
	}
	assert.False(t, days[0].IsFullyBooked)
}

func TestGetAvailability_IgnoresCancelledBookings(t *testing.T) {
	f := newFixture(t, DefaultBookingLimits())
	b := f.create(t, "user-1", "10:00", "11:00")
	_, err := f.service.UpdateStatus(context.Background(), b.ID, model.BookingStatusCancelled)
	require.NoError(t, err)

	days, err := f.availability.GetAvailability(context.Background(), f.property.ID, testMonday, testMonday)
	require.NoError(t, err)
	for _, s := range days[0].TimeSlots {
		assert.True(t, s.IsAvailable)
	}
}

func TestGetAvailability_PropertyTimezone(t *testing.T) {
	f := newFixture(t, DefaultBookingLimits())
	p, err := f.availability.CreateProperty(context.Background(), "host-2", model.Property{
		Name:       "Berlin Meadow",
		HourlyRate: 1000,
		Currency:   "EUR",
		Timezone:   "Europe/Berlin",
	})
	require.NoError(t, err)

	_, err = f.availability.PublishRules(context.Background(), p.ID, "host-2", []model.AvailabilityRule{
		{DayOfWeek: 1, StartTime: model.MustClock("09:00"), EndTime: model.MustClock("10:00"), IsAvailable: true},
	})
	require.NoError(t, err)

	days, err := f.availability.GetAvailability(context.Background(), p.ID, testMonday, testMonday)
	require.NoError(t, err)
	require.Len(t, days, 1)
	require.Len(t, days[0].TimeSlots, 1)

	// 09:00 в Берлине зимой - 08:00 UTC
	assert.True(t, days[0].TimeSlots[0].StartTime.Equal(time.Date(2030, 1, 7, 8, 0, 0, 0, time.UTC)))
}

func TestGetAvailability_Validation(t *testing.T) {
	f := newFixture(t, DefaultBookingLimits())
	ctx := context.Background()

	_, err := f.availability.GetAvailability(ctx, f.property.ID, testMonday, testMonday.AddDate(0, 0, -1))
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = f.availability.GetAvailability(ctx, f.property.ID, testMonday, testMonday.AddDate(1, 0, 0))
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = f.availability.GetAvailability(ctx, uuid.New(), testMonday, testMonday)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRules_CachedAndInvalidatedOnPublish(t *testing.T) {
	f := newFixture(t, DefaultBookingLimits())
	ctx := context.Background()

	_, err := f.availability.Rules(ctx, f.property.ID)
	require.NoError(t, err)
	_, err = f.availability.Rules(ctx, f.property.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.rules.loadCount())

	published, err := f.availability.PublishRules(ctx, f.property.ID, "host-1", []model.AvailabilityRule{
		{DayOfWeek: 1, StartTime: model.MustClock("08:00"), EndTime: model.MustClock("12:00"), IsAvailable: true},
		{DayOfWeek: 1, StartTime: model.MustClock("12:00"), EndTime: model.MustClock("13:00"), IsAvailable: false},
	})
	require.NoError(t, err)
	require.Len(t, published, 2)
	assert.Equal(t, f.property.ID, published[0].PropertyID)

	rules, err := f.availability.Rules(ctx, f.property.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, f.rules.loadCount())
	require.Len(t, rules, 2)
	assert.Equal(t, model.MustClock("08:00"), rules[0].StartTime)

	// бронь в новом окне сразу проходит проверку покрытия
	f.create(t, "user-1", "08:00", "09:00")

	// заблокированное окно не покрывает бронь
	_, err = f.service.CreateBooking(ctx, f.property.ID, "user-1", at(testMonday, "12:00"), at(testMonday, "13:00"), details())
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestPublishRules_Rejects(t *testing.T) {
	f := newFixture(t, DefaultBookingLimits())
	ctx := context.Background()

	_, err := f.availability.PublishRules(ctx, f.property.ID, "someone-else", nil)
	assert.ErrorIs(t, err, model.ErrForbidden)

	_, err = f.availability.PublishRules(ctx, f.property.ID, "host-1", []model.AvailabilityRule{
		{DayOfWeek: 1, StartTime: model.MustClock("09:00"), EndTime: model.MustClock("12:00"), IsAvailable: true},
		{DayOfWeek: 1, StartTime: model.MustClock("11:00"), EndTime: model.MustClock("13:00"), IsAvailable: true},
	})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = f.availability.PublishRules(ctx, f.property.ID, "host-1", []model.AvailabilityRule{
		{DayOfWeek: 7, StartTime: model.MustClock("09:00"), EndTime: model.MustClock("12:00"), IsAvailable: true},
	})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = f.availability.PublishRules(ctx, uuid.New(), "host-1", nil)
	assert.ErrorIs(t, err, model.ErrNotFound)

	// старые правила не тронуты
	rules, err := f.availability.Rules(ctx, f.property.ID)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, model.MustClock("09:00"), rules[0].StartTime)
}

func TestCreateProperty_Validation(t *testing.T) {
	f := newFixture(t, DefaultBookingLimits())
	ctx := context.Background()

	tests := []struct {
		name string
		host string
		p    model.Property
	}{
		{"no host", "", model.Property{Name: "x", HourlyRate: 100, Currency: "usd"}},
		{"no name", "h", model.Property{HourlyRate: 100, Currency: "usd"}},
		{"zero rate", "h", model.Property{Name: "x", Currency: "usd"}},
		{"bad currency", "h", model.Property{Name: "x", HourlyRate: 100, Currency: "dollars"}},
		{"bad timezone", "h", model.Property{Name: "x", HourlyRate: 100, Currency: "usd", Timezone: "Mars/Olympus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.availability.CreateProperty(ctx, tt.host, tt.p)
			assert.ErrorIs(t, err, model.ErrValidation)
		})
	}

	p, err := f.availability.CreateProperty(ctx, "h", model.Property{Name: " Yard ", HourlyRate: 100, Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, "Yard", p.Name)
	assert.Equal(t, "usd", p.Currency)
	assert.Equal(t, "UTC", p.Timezone)

	list, err := f.availability.ListHostProperties(ctx, "h")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

// gatedRules задерживает первое чтение правил уже после того, как оно прочитало старую версию
type gatedRules struct {
	*memRules
	once    sync.Once
	loaded  chan struct{}
	release chan struct{}
}

func (g *gatedRules) ListByProperty(ctx context.Context, propertyID uuid.UUID) ([]model.AvailabilityRule, error) {
	rules, err := g.memRules.ListByProperty(ctx, propertyID)
	g.once.Do(func() {
		close(g.loaded)
		<-g.release
	})
	return rules, err
}

func TestRules_LoadRacingPublishNotCached(t *testing.T) {
	f := newFixture(t, DefaultBookingLimits())
	ctx := context.Background()

	gated := &gatedRules{memRules: f.rules, loaded: make(chan struct{}), release: make(chan struct{})}
	cache, err := availability.NewRulesCache(16, time.Minute, zap.NewNop())
	require.NoError(t, err)
	svc := NewAvailabilityService(f.properties, gated, f.bookingsDB, cache, availability.NewCalculator(time.Hour), zap.NewNop())

	stale := make(chan []model.AvailabilityRule, 1)
	go func() {
		rules, err := svc.Rules(ctx, f.property.ID)
		assert.NoError(t, err)
		stale <- rules
	}()
	<-gated.loaded

	_, err = svc.PublishRules(ctx, f.property.ID, "host-1", []model.AvailabilityRule{
		{DayOfWeek: 1, StartTime: model.MustClock("13:00"), EndTime: model.MustClock("17:00"), IsAvailable: true},
	})
	require.NoError(t, err)
	close(gated.release)

	old := <-stale
	require.Len(t, old, 1)
	assert.Equal(t, model.MustClock("09:00"), old[0].StartTime)

	// загрузка, начатая до публикации, не попала в кеш
	rules, err := svc.Rules(ctx, f.property.ID)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, model.MustClock("13:00"), rules[0].StartTime)
}
