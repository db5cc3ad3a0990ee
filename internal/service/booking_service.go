package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Freeeeeet/space_booking/internal/availability"
	"github.com/Freeeeeet/space_booking/internal/model"
	"github.com/Freeeeeet/space_booking/internal/notification"
	"github.com/Freeeeeet/space_booking/internal/payment"
	"github.com/Freeeeeet/space_booking/internal/ratelimit"
	"github.com/Freeeeeet/space_booking/internal/saga"
)

const (
	maxDogsPerBooking  = 10
	maxDogNameLength   = 50
	maxSpecialRequests = 1000
)

// Шаги саги создания брони
const (
	stepConflictCheck = "conflict_check"
	stepCharge        = "charge"
	stepPersist       = "persist"
)

// BookingLimits - ограничения частоты операций с бронями
type BookingLimits struct {
	CreatePerUser    int
	CreateWindow     time.Duration
	StatusPerBooking int
	StatusWindow     time.Duration
}

func DefaultBookingLimits() BookingLimits {
	return BookingLimits{
		CreatePerUser:    5,
		CreateWindow:     time.Minute,
		StatusPerBooking: 10,
		StatusWindow:     time.Minute,
	}
}

// BookingService реализует жизненный цикл брони: создание с оплатой и смену статуса с возвратом
type BookingService struct {
	bookings       BookingStore
	properties     PropertyStore
	availability   *AvailabilityService
	detector       *ConflictDetector
	payments       PaymentCoordinator
	reconciliation ReconciliationStore
	limiter        ratelimit.Limiter
	notifier       Notifier
	limits         BookingLimits
	now            func() time.Time
	logger         *zap.Logger
}

func NewBookingService(
	bookings BookingStore,
	properties PropertyStore,
	availabilityService *AvailabilityService,
	detector *ConflictDetector,
	payments PaymentCoordinator,
	reconciliation ReconciliationStore,
	limiter ratelimit.Limiter,
	notifier Notifier,
	limits BookingLimits,
	logger *zap.Logger,
) *BookingService {
	return &BookingService{
		bookings:       bookings,
		properties:     properties,
		availability:   availabilityService,
		detector:       detector,
		payments:       payments,
		reconciliation: reconciliation,
		limiter:        limiter,
		notifier:       notifier,
		limits:         limits,
		now:            time.Now,
		logger:         logger,
	}
}

// CreateBooking бронирует площадку: проверка пересечений -> списание -> сохранение.
// Проверка и сохранение идут под одной блокировкой площадки. Если после списания
// бронь сохранить не удалось, деньги возвращаются до выхода из метода.
func (s *BookingService) CreateBooking(
	ctx context.Context,
	propertyID uuid.UUID,
	userID string,
	startTime, endTime time.Time,
	details model.BookingDetails,
) (*model.Booking, error) {
	if err := s.validateCreate(userID, startTime, endTime, details); err != nil {
		return nil, err
	}

	if err := s.allow(ctx, "booking:user:"+userID, s.limits.CreatePerUser, s.limits.CreateWindow); err != nil {
		return nil, err
	}

	property, err := s.properties.GetByID(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("get property: %w", err)
	}
	if property == nil {
		return nil, model.NewNotFoundError(fmt.Sprintf("property %s not found", propertyID))
	}

	loc := property.Location()
	startTime, endTime = startTime.In(loc), endTime.In(loc)

	amount := property.PriceFor(startTime, endTime)
	if amount <= 0 {
		return nil, model.NewValidationError("booking amount must be positive")
	}

	booking := &model.Booking{
		ID:                  uuid.New(),
		PropertyID:          propertyID,
		UserID:              userID,
		StartTime:           startTime,
		EndTime:             endTime,
		Status:              model.BookingStatusPending,
		NumberOfDogs:        details.NumberOfDogs,
		DogNames:            normalizeDogNames(details.DogNames),
		SpecialRequirements: details.SpecialRequirements,
		ContactAddress:      strings.TrimSpace(details.ContactAddress),
		TotalAmount:         amount,
		Currency:            property.Currency,
	}

	tx, err := s.bookings.BeginPropertyTx(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("begin booking transaction: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	var refund *model.RefundOutcome

	err = saga.New("create_booking", s.logger).
		Step(stepConflictCheck, func(ctx context.Context) error {
			// Правила читаются из БД под блокировкой площадки: публикация правил берёт ту же блокировку
			rules, err := s.availability.LoadRules(ctx, propertyID)
			if err != nil {
				return err
			}
			if !availability.CoveredByRule(rules, startTime, endTime) {
				return model.NewValidationError("requested time is outside the property's available hours")
			}

			res, err := s.detector.Check(ctx, tx, propertyID, startTime, endTime)
			if err != nil {
				return err
			}
			if res == Conflict {
				return model.NewSlotUnavailableError(propertyID, startTime, endTime)
			}
			return nil
		}, nil).
		Step(stepCharge, func(ctx context.Context) error {
			res, err := s.payments.Charge(ctx, chargeRequest(booking, details.PaymentMethod))
			if err != nil {
				if model.KindOf(err) == model.ErrExternalService {
					s.recordAmbiguousCharge(ctx, booking, details.PaymentMethod, err)
				}
				return err
			}
			booking.PaymentID = res.PaymentID
			return nil
		}, func(ctx context.Context) error {
			var err error
			refund, err = s.compensateCharge(ctx, booking)
			return err
		}).
		Step(stepPersist, func(ctx context.Context) error {
			if err := tx.Insert(ctx, booking); err != nil {
				return err
			}
			return tx.Commit(ctx)
		}, nil).
		Run(ctx)
	if err != nil {
		return nil, s.createFailure(booking, refund, err)
	}

	s.logger.Info("Booking created",
		zap.String("booking_id", booking.ID.String()),
		zap.String("property_id", propertyID.String()),
		zap.String("user_id", userID),
		zap.String("payment_id", booking.PaymentID),
		zap.Int64("amount", amount),
		zap.Time("start_time", startTime),
		zap.Time("end_time", endTime),
	)

	booking.Property = property
	s.notify(booking, notification.TemplateBookingCreated, "")

	return booking, nil
}

// createFailure переводит сбой саги в ошибку таксономии
func (s *BookingService) createFailure(booking *model.Booking, refund *model.RefundOutcome, err error) error {
	var sagaErr *saga.Error
	if !errors.As(err, &sagaErr) {
		return err
	}

	switch sagaErr.Step {
	case stepConflictCheck:
		return sagaErr.Err
	case stepCharge:
		// брони нет; ошибка шлюза получает id брони для сверки
		var be *model.BookingError
		if !errors.As(sagaErr.Err, &be) {
			return sagaErr.Err
		}
		withBooking := *be
		withBooking.BookingID = booking.ID
		if withBooking.Amount == 0 {
			withBooking.Amount = booking.TotalAmount
		}
		if withBooking.PaymentStatus == payment.StatusUnknown {
			withBooking.Message = "the payment gateway did not confirm the charge; if it went through it will be refunded automatically, check your card statement before booking again"
		}
		return &withBooking
	}

	s.logger.Error("Booking persist failed after charge",
		zap.String("booking_id", booking.ID.String()),
		zap.String("payment_id", booking.PaymentID),
		zap.Int64("amount", booking.TotalAmount),
		zap.Bool("refunded", refund != nil && refund.Succeeded),
		zap.Error(sagaErr.Err),
	)

	msg := "booking could not be saved; the charge has been refunded, please check availability and try again"
	if refund == nil || !refund.Succeeded {
		msg = "booking could not be saved and the automatic refund did not complete; it is queued for reconciliation, contact support with the booking id"
	}

	return &model.BookingError{
		Kind:      model.ErrBookingPersistFail,
		Message:   msg,
		BookingID: booking.ID,
		PaymentID: booking.PaymentID,
		Amount:    booking.TotalAmount,
		Refund:    refund,
		Err:       sagaErr.Err,
	}
}

// chargeRequest собирает запрос списания за бронь. Повтор с тем же ключом
// должен нести те же параметры, поэтому сверка строит запрос этой же функцией.
func chargeRequest(b *model.Booking, paymentMethod string) payment.ChargeRequest {
	return payment.ChargeRequest{
		Amount:         b.TotalAmount,
		Currency:       b.Currency,
		PaymentMethod:  paymentMethod,
		IdempotencyKey: payment.ChargeKey(b.ID),
		Metadata: map[string]string{
			"booking_id":  b.ID.String(),
			"property_id": b.PropertyID.String(),
			"user_id":     b.UserID,
		},
	}
}

// recordAmbiguousCharge ставит неподтверждённое списание в очередь сверки
func (s *BookingService) recordAmbiguousCharge(ctx context.Context, booking *model.Booking, paymentMethod string, cause error) {
	item := &model.ReconciliationItem{
		Kind:           model.ReconciliationAmbiguousCharge,
		BookingID:      booking.ID,
		PropertyID:     booking.PropertyID,
		UserID:         booking.UserID,
		PaymentMethod:  paymentMethod,
		Amount:         booking.TotalAmount,
		Currency:       booking.Currency,
		IdempotencyKey: payment.ChargeKey(booking.ID),
		LastError:      cause.Error(),
	}
	if err := s.reconciliation.Record(context.WithoutCancel(ctx), item); err != nil {
		s.logger.Error("Failed to record ambiguous charge",
			zap.String("booking_id", booking.ID.String()),
			zap.Int64("amount", booking.TotalAmount),
			zap.String("idempotency_key", item.IdempotencyKey),
			zap.Error(err),
		)
		return
	}
	s.logger.Warn("Charge outcome unknown, queued for reconciliation",
		zap.String("booking_id", booking.ID.String()),
		zap.Int64("amount", booking.TotalAmount),
		zap.Int64("item_id", item.ID),
	)
}

// compensateCharge возвращает деньги за несохранённую бронь.
// Запись сверки создаётся до вызова шлюза, поэтому незавершённый возврат не теряется.
func (s *BookingService) compensateCharge(ctx context.Context, booking *model.Booking) (*model.RefundOutcome, error) {
	key := payment.RefundKey(booking.ID)

	item := &model.ReconciliationItem{
		Kind:           model.ReconciliationOrphanCharge,
		BookingID:      booking.ID,
		PropertyID:     booking.PropertyID,
		PaymentID:      booking.PaymentID,
		Amount:         booking.TotalAmount,
		Currency:       booking.Currency,
		IdempotencyKey: key,
	}
	if err := s.reconciliation.Record(ctx, item); err != nil {
		s.logger.Error("Failed to record reconciliation item",
			zap.String("booking_id", booking.ID.String()),
			zap.String("payment_id", booking.PaymentID),
			zap.Int64("amount", booking.TotalAmount),
			zap.Error(err),
		)
	}

	res, err := s.payments.Refund(ctx, payment.RefundRequest{
		PaymentID:      booking.PaymentID,
		Amount:         booking.TotalAmount,
		IdempotencyKey: key,
	})
	if err != nil {
		if item.ID != 0 {
			if markErr := s.reconciliation.MarkAttempt(ctx, item.ID, err.Error()); markErr != nil {
				s.logger.Warn("Failed to mark reconciliation attempt", zap.Int64("item_id", item.ID), zap.Error(markErr))
			}
		}
		s.logger.Error("Compensating refund failed",
			zap.String("booking_id", booking.ID.String()),
			zap.String("payment_id", booking.PaymentID),
			zap.Int64("amount", booking.TotalAmount),
			zap.String("idempotency_key", key),
			zap.Error(err),
		)
		return &model.RefundOutcome{Attempted: true, Error: err.Error()}, err
	}

	if err := s.reconciliation.Resolve(ctx, key, res.RefundID); err != nil {
		s.logger.Warn("Failed to resolve reconciliation item", zap.String("idempotency_key", key), zap.Error(err))
	}

	return &model.RefundOutcome{Attempted: true, Succeeded: true, RefundID: res.RefundID}, nil
}

// UpdateStatus переводит бронь в новый статус.
// Отмена оплаченной брони сначала оформляет возврат; без возврата статус не меняется.
func (s *BookingService) UpdateStatus(ctx context.Context, bookingID uuid.UUID, newStatus model.BookingStatus) (*model.Booking, error) {
	if !newStatus.Valid() {
		return nil, model.NewValidationError(fmt.Sprintf("unknown booking status %q", newStatus))
	}

	if err := s.allow(ctx, "status:booking:"+bookingID.String(), s.limits.StatusPerBooking, s.limits.StatusWindow); err != nil {
		return nil, err
	}

	tx, err := s.bookings.BeginBookingTx(ctx, bookingID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("lock booking: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	booking := tx.Booking()
	previous := booking.Status

	if !previous.CanTransitionTo(newStatus) {
		return nil, model.NewInvalidTransitionError(bookingID, previous, newStatus)
	}

	var refundID *string
	if newStatus == model.BookingStatusCancelled && booking.NeedsRefund() {
		id, err := s.refundCancellation(ctx, booking)
		if err != nil {
			return nil, err
		}
		refundID = &id
	}

	if err := tx.UpdateStatus(ctx, newStatus, refundID); err != nil {
		return nil, s.statusPersistFailure(booking, refundID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, s.statusPersistFailure(booking, refundID, err)
	}

	s.logger.Info("Booking status updated",
		zap.String("booking_id", bookingID.String()),
		zap.String("from", string(previous)),
		zap.String("to", string(newStatus)),
		zap.Bool("refunded", refundID != nil),
	)

	s.attachProperty(ctx, booking)
	s.notify(booking, notification.TemplateBookingStatusChanged, previous)

	return booking, nil
}

// refundCancellation возвращает оплату отменяемой брони.
// Ключ идемпотентности привязан к брони, поэтому повторная отмена не создаёт второй возврат.
func (s *BookingService) refundCancellation(ctx context.Context, booking *model.Booking) (string, error) {
	key := payment.RefundKey(booking.ID)

	res, err := s.payments.Refund(ctx, payment.RefundRequest{
		PaymentID:      booking.PaymentID,
		Amount:         booking.TotalAmount,
		IdempotencyKey: key,
	})
	if err != nil {
		recCtx := context.WithoutCancel(ctx)
		item := &model.ReconciliationItem{
			Kind:           model.ReconciliationCancellationRefund,
			BookingID:      booking.ID,
			PropertyID:     booking.PropertyID,
			PaymentID:      booking.PaymentID,
			Amount:         booking.TotalAmount,
			Currency:       booking.Currency,
			IdempotencyKey: key,
			LastError:      err.Error(),
		}
		if recErr := s.reconciliation.Record(recCtx, item); recErr != nil {
			s.logger.Error("Failed to record reconciliation item", zap.String("booking_id", booking.ID.String()), zap.Error(recErr))
		} else if markErr := s.reconciliation.MarkAttempt(recCtx, item.ID, err.Error()); markErr != nil {
			s.logger.Warn("Failed to mark reconciliation attempt", zap.Int64("item_id", item.ID), zap.Error(markErr))
		}

		s.logger.Error("Cancellation refund failed",
			zap.String("booking_id", booking.ID.String()),
			zap.String("payment_id", booking.PaymentID),
			zap.Int64("amount", booking.TotalAmount),
			zap.String("idempotency_key", key),
			zap.Error(err),
		)

		return "", &model.BookingError{
			Kind: model.ErrRefundFailed,
			Message: fmt.Sprintf("refund could not be issued, booking stays %s; retry the cancellation later or contact support with the booking id",
				booking.Status),
			BookingID: booking.ID,
			PaymentID: booking.PaymentID,
			Amount:    booking.TotalAmount,
			Refund:    &model.RefundOutcome{Attempted: true, Error: err.Error()},
			Err:       err,
		}
	}

	if err := s.reconciliation.Resolve(ctx, key, res.RefundID); err != nil {
		s.logger.Warn("Failed to resolve reconciliation item", zap.String("idempotency_key", key), zap.Error(err))
	}
	return res.RefundID, nil
}

func (s *BookingService) statusPersistFailure(booking *model.Booking, refundID *string, err error) error {
	if refundID == nil {
		return fmt.Errorf("update booking status: %w", err)
	}

	s.logger.Error("Refund issued but booking status not saved",
		zap.String("booking_id", booking.ID.String()),
		zap.String("payment_id", booking.PaymentID),
		zap.String("refund_id", *refundID),
		zap.Int64("amount", booking.TotalAmount),
		zap.Error(err),
	)

	return &model.BookingError{
		Kind:      model.ErrBookingPersistFail,
		Message:   "refund was issued but the cancellation was not saved; retry the cancellation, no second refund will be made",
		BookingID: booking.ID,
		PaymentID: booking.PaymentID,
		Amount:    booking.TotalAmount,
		Refund:    &model.RefundOutcome{Attempted: true, Succeeded: true, RefundID: *refundID},
		Err:       err,
	}
}

// GetBooking получает бронь по ID
func (s *BookingService) GetBooking(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	booking, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	if booking == nil {
		return nil, model.NewNotFoundError(fmt.Sprintf("booking %s not found", id))
	}
	return booking, nil
}

// ListUserBookings получает брони арендатора
func (s *BookingService) ListUserBookings(ctx context.Context, userID string) ([]*model.Booking, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, model.NewValidationError("user id is required")
	}
	bookings, err := s.bookings.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user bookings: %w", err)
	}
	return bookings, nil
}

// ListPropertyBookings получает брони площадки любого статуса в интервале
func (s *BookingService) ListPropertyBookings(ctx context.Context, propertyID uuid.UUID, from, to time.Time) ([]*model.Booking, error) {
	if !from.Before(to) {
		return nil, model.NewValidationError("from must be before to")
	}
	bookings, err := s.bookings.ListByProperty(ctx, propertyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list property bookings: %w", err)
	}
	return bookings, nil
}

func (s *BookingService) validateCreate(userID string, start, end time.Time, d model.BookingDetails) error {
	switch {
	case strings.TrimSpace(userID) == "":
		return model.NewValidationError("user id is required")
	case start.IsZero() || end.IsZero():
		return model.NewValidationError("start and end time are required")
	case !start.Before(end):
		return model.NewValidationError("start time must be before end time")
	case !start.After(s.now()):
		return model.NewValidationError("start time must be in the future")
	case d.NumberOfDogs < 1:
		return model.NewValidationError("at least one dog is required")
	case d.NumberOfDogs > maxDogsPerBooking:
		return model.NewValidationError(fmt.Sprintf("at most %d dogs per booking", maxDogsPerBooking))
	case len(d.DogNames) > d.NumberOfDogs:
		return model.NewValidationError("more dog names than dogs")
	case d.SpecialRequirements != nil && len(*d.SpecialRequirements) > maxSpecialRequests:
		return model.NewValidationError(fmt.Sprintf("special requirements must be at most %d characters", maxSpecialRequests))
	case strings.TrimSpace(d.PaymentMethod) == "":
		return model.NewValidationError("payment method is required")
	}

	for _, name := range d.DogNames {
		if n := len(strings.TrimSpace(name)); n == 0 || n > maxDogNameLength {
			return model.NewValidationError(fmt.Sprintf("dog names must be 1-%d characters", maxDogNameLength))
		}
	}
	return nil
}

// allow проверяет лимит. Недоступный лимитер не блокирует бронирование.
func (s *BookingService) allow(ctx context.Context, key string, limit int, window time.Duration) error {
	if s.limiter == nil || limit <= 0 || window <= 0 {
		return nil
	}

	res, err := s.limiter.Allow(ctx, key, limit, window)
	if err != nil {
		s.logger.Warn("Rate limiter unavailable, request allowed", zap.String("key", key), zap.Error(err))
		return nil
	}
	if !res.Allowed {
		return model.NewRateLimitError(key, res.RetryAfter)
	}
	return nil
}

func (s *BookingService) attachProperty(ctx context.Context, b *model.Booking) {
	p, err := s.properties.GetByID(ctx, b.PropertyID)
	if err != nil {
		s.logger.Warn("Failed to load property for notification", zap.String("property_id", b.PropertyID.String()), zap.Error(err))
		return
	}
	b.Property = p
}

// notify рассылает уведомление арендатору и хосту, не дожидаясь доставки
func (s *BookingService) notify(b *model.Booking, template string, previous model.BookingStatus) {
	if s.notifier == nil {
		return
	}

	data := notificationData(b, previous)

	var recipients []string
	if b.ContactAddress != "" {
		recipients = append(recipients, b.ContactAddress)
	}
	if b.Property != nil && b.Property.HostChatID != 0 {
		recipients = append(recipients, notification.TelegramAddress(b.Property.HostChatID))
	}

	for _, to := range recipients {
		s.notifier.Dispatch(notification.Message{To: to, Template: template, Data: data})
	}
}

func notificationData(b *model.Booking, previous model.BookingStatus) map[string]any {
	loc := time.UTC
	if b.Property != nil {
		loc = b.Property.Location()
	}

	data := map[string]any{
		"booking_id":     b.ID.String(),
		"property_id":    b.PropertyID.String(),
		"user_id":        b.UserID,
		"start_time":     b.StartTime.In(loc).Format("2006-01-02 15:04"),
		"end_time":       b.EndTime.In(loc).Format("2006-01-02 15:04"),
		"number_of_dogs": b.NumberOfDogs,
		"dog_names":      b.DogNames,
		"status":         string(b.Status),
		"amount":         formatAmount(b.TotalAmount),
		"currency":       strings.ToUpper(b.Currency),
	}
	if b.Property != nil {
		data["property_name"] = b.Property.Name
	}
	if previous != "" {
		data["previous_status"] = string(previous)
	}
	if b.RefundID != nil {
		data["refund_id"] = *b.RefundID
	}
	return data
}

func formatAmount(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}

func normalizeDogNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, strings.TrimSpace(n))
	}
	return out
}
