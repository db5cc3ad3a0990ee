package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Freeeeeet/space_booking/internal/availability"
	"github.com/Freeeeeet/space_booking/internal/model"
)

// maxAvailabilityRange ограничивает запрос доступности примерно тремя месяцами
const maxAvailabilityRange = 92 * 24 * time.Hour

// AvailabilityService отвечает на запросы доступности и управляет площадками и их правилами
type AvailabilityService struct {
	properties PropertyStore
	rules      RuleStore
	bookings   BookingStore
	cache      *availability.RulesCache
	calculator *availability.Calculator
	group      singleflight.Group
	logger     *zap.Logger
}

func NewAvailabilityService(
	properties PropertyStore,
	rules RuleStore,
	bookings BookingStore,
	cache *availability.RulesCache,
	calculator *availability.Calculator,
	logger *zap.Logger,
) *AvailabilityService {
	return &AvailabilityService{
		properties: properties,
		rules:      rules,
		bookings:   bookings,
		cache:      cache,
		calculator: calculator,
		logger:     logger,
	}
}

// CreateProperty регистрирует площадку хоста
func (s *AvailabilityService) CreateProperty(ctx context.Context, hostID string, p model.Property) (*model.Property, error) {
	p.HostID = strings.TrimSpace(hostID)
	p.Name = strings.TrimSpace(p.Name)
	p.Currency = strings.ToLower(strings.TrimSpace(p.Currency))
	if p.Timezone == "" {
		p.Timezone = "UTC"
	}

	switch {
	case p.HostID == "":
		return nil, model.NewValidationError("host id is required")
	case p.Name == "" || len(p.Name) > 200:
		return nil, model.NewValidationError("name must be 1-200 characters")
	case p.HourlyRate <= 0:
		return nil, model.NewValidationError("hourly rate must be positive")
	case len(p.Currency) != 3:
		return nil, model.NewValidationError("currency must be a 3-letter ISO code")
	}
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		return nil, model.NewValidationError(fmt.Sprintf("unknown timezone %q", p.Timezone))
	}

	p.ID = uuid.New()
	if err := s.properties.Create(ctx, &p); err != nil {
		return nil, fmt.Errorf("create property: %w", err)
	}

	s.logger.Info("Property created",
		zap.String("property_id", p.ID.String()),
		zap.String("host_id", p.HostID),
		zap.Int64("hourly_rate", p.HourlyRate),
	)
	return &p, nil
}

// GetProperty получает площадку по ID
func (s *AvailabilityService) GetProperty(ctx context.Context, id uuid.UUID) (*model.Property, error) {
	p, err := s.properties.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get property: %w", err)
	}
	if p == nil {
		return nil, model.NewNotFoundError(fmt.Sprintf("property %s not found", id))
	}
	return p, nil
}

// ListHostProperties получает площадки хоста
func (s *AvailabilityService) ListHostProperties(ctx context.Context, hostID string) ([]*model.Property, error) {
	properties, err := s.properties.ListByHost(ctx, hostID)
	if err != nil {
		return nil, fmt.Errorf("list host properties: %w", err)
	}
	return properties, nil
}

// Rules возвращает правила площадки, по возможности из кэша.
// Одновременные промахи по одной площадке читают БД один раз.
func (s *AvailabilityService) Rules(ctx context.Context, propertyID uuid.UUID) ([]model.AvailabilityRule, error) {
	if rules, ok := s.cache.Get(propertyID); ok {
		return rules, nil
	}

	v, err, _ := s.group.Do(propertyID.String(), func() (any, error) {
		generation := s.cache.Generation(propertyID)
		rules, err := s.LoadRules(ctx, propertyID)
		if err != nil {
			return nil, err
		}
		s.cache.PutIfCurrent(propertyID, rules, generation)
		return rules, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]model.AvailabilityRule(nil), v.([]model.AvailabilityRule)...), nil
}

// LoadRules читает правила из БД в обход кэша. Бронирование проверяет покрытие только по ним.
func (s *AvailabilityService) LoadRules(ctx context.Context, propertyID uuid.UUID) ([]model.AvailabilityRule, error) {
	rules, err := s.rules.ListByProperty(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("load availability rules: %w", err)
	}
	return rules, nil
}

// PublishRules атомарно заменяет недельные правила площадки. Менять правила может только её хост.
func (s *AvailabilityService) PublishRules(ctx context.Context, propertyID uuid.UUID, hostID string, rules []model.AvailabilityRule) ([]model.AvailabilityRule, error) {
	property, err := s.GetProperty(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	if property.HostID != hostID {
		return nil, model.NewForbiddenError("only the property host can publish availability")
	}

	if err := model.ValidateRules(rules); err != nil {
		return nil, err
	}

	normalized := make([]model.AvailabilityRule, 0, len(rules))
	for _, r := range rules {
		r.ID = 0
		r.PropertyID = propertyID
		normalized = append(normalized, r)
	}

	if err := s.rules.ReplaceForProperty(ctx, propertyID, normalized); err != nil {
		return nil, fmt.Errorf("replace availability rules: %w", err)
	}
	s.cache.Invalidate(propertyID)

	s.logger.Info("Availability rules published",
		zap.String("property_id", propertyID.String()),
		zap.Int("rules", len(normalized)),
	)
	return normalized, nil
}

// GetAvailability считает слоты по дням [from, to] в часовом поясе площадки.
// Брони читаются свежими на каждый запрос; результат справочный, окончательно решает ConflictDetector.
func (s *AvailabilityService) GetAvailability(ctx context.Context, propertyID uuid.UUID, from, to time.Time) ([]model.DayAvailability, error) {
	if from.IsZero() || to.IsZero() {
		return nil, model.NewValidationError("from and to dates are required")
	}
	if to.Before(from) {
		return nil, model.NewValidationError("to must not be before from")
	}
	if to.Sub(from) > maxAvailabilityRange {
		return nil, model.NewValidationError("availability range must not exceed 92 days")
	}

	property, err := s.GetProperty(ctx, propertyID)
	if err != nil {
		return nil, err
	}

	rules, err := s.Rules(ctx, propertyID)
	if err != nil {
		return nil, err
	}

	loc := property.Location()
	from, to = from.In(loc), to.In(loc)
	windowStart := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	windowEnd := time.Date(to.Year(), to.Month(), to.Day()+1, 0, 0, 0, 0, loc)

	bookings, err := s.bookings.ListActiveInRange(ctx, propertyID, windowStart, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("load bookings: %w", err)
	}

	return s.calculator.Calculate(from, to, rules, bookings), nil
}
