package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Freeeeeet/space_booking/internal/model"
	"github.com/Freeeeeet/space_booking/internal/payment"
)

type errorResponse struct {
	Error             string               `json:"error"`
	Message           string               `json:"message"`
	BookingID         string               `json:"booking_id,omitempty"`
	PaymentID         string               `json:"payment_id,omitempty"`
	Amount            int64                `json:"amount,omitempty"`
	PaymentStatus     string               `json:"payment_status,omitempty"`
	Refund            *model.RefundOutcome `json:"refund,omitempty"`
	RetryAfterSeconds int                  `json:"retry_after_seconds,omitempty"`
}

type errorMapping struct {
	status int
	code   string
	hint   string
}

var errorMappings = map[error]errorMapping{
	model.ErrValidation:        {http.StatusBadRequest, "validation_error", ""},
	model.ErrNotFound:          {http.StatusNotFound, "not_found", ""},
	model.ErrForbidden:         {http.StatusForbidden, "forbidden", ""},
	model.ErrSlotUnavailable:   {http.StatusConflict, "slot_unavailable", "Reload availability and choose another time."},
	model.ErrInvalidTransition: {http.StatusConflict, "invalid_transition", "Reload the booking to see its current status."},
	model.ErrPaymentFailed: {http.StatusPaymentRequired, "payment_failed",
		"No booking was created and no funds are held. Check the card details or try another payment method."},
	model.ErrBookingPersistFail: {http.StatusInternalServerError, "booking_persist_failed", ""},
	model.ErrRefundFailed: {http.StatusBadGateway, "refund_failed",
		"The booking was not cancelled. Retry the cancellation later or contact support with the booking id."},
	model.ErrRateLimitExceeded: {http.StatusTooManyRequests, "rate_limit_exceeded", "Wait before trying again."},
	model.ErrExternalService:   {http.StatusServiceUnavailable, "external_service_error", "A downstream service is unavailable, try again shortly."},
}

// при неизвестном исходе списания повторная попытка может списать деньги второй раз
const unknownChargeHint = "Do not retry right away. The charge will be checked and refunded automatically if it went through."

// writeError переводит ошибку движка в HTTP ответ с понятным следующим шагом
func (s *Server) writeError(c echo.Context, err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return c.JSON(he.Code, errorResponse{Error: "bad_request", Message: messageOf(he)})
	}

	kind := model.KindOf(err)
	mapping, ok := errorMappings[kind]
	if !ok {
		s.logger.Error("Unhandled error", zap.String("path", c.Path()), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{
			Error:   "internal_error",
			Message: "Something went wrong on our side. Please try again later.",
		})
	}

	resp := errorResponse{Error: mapping.code, Message: err.Error()}

	var be *model.BookingError
	if errors.As(err, &be) {
		resp.Message = be.Message
		if resp.Message == "" {
			resp.Message = be.Kind.Error()
		}
		if be.BookingID != uuid.Nil {
			resp.BookingID = be.BookingID.String()
		}
		resp.PaymentID = be.PaymentID
		resp.Amount = be.Amount
		resp.Refund = be.Refund

		if be.RetryAfter > 0 {
			secs := int(math.Ceil(be.RetryAfter.Seconds()))
			resp.RetryAfterSeconds = secs
			c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
		}
	}
	hint := mapping.hint
	if be != nil && be.PaymentStatus == payment.StatusUnknown {
		resp.PaymentStatus = be.PaymentStatus
		hint = unknownChargeHint
	}
	if hint != "" {
		resp.Message += ". " + hint
	}

	if mapping.status >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("path", c.Path()),
			zap.String("kind", mapping.code),
			zap.Error(err),
		)
	}

	return c.JSON(mapping.status, resp)
}

func messageOf(he *echo.HTTPError) string {
	if msg, ok := he.Message.(string); ok {
		return msg
	}
	return http.StatusText(he.Code)
}
