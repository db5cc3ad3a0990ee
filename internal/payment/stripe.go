package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Freeeeeet/space_booking/internal/model"
)

// StripeGateway - шлюз поверх Stripe PaymentIntents.
// Сетевые повторы SDK отключены, повторами управляет retry.Executor.
type StripeGateway struct {
	api     *client.API
	limiter *rate.Limiter
	logger  *zap.Logger
}

type StripeOption func(*stripe.BackendConfig)

// WithStripeURL направляет запросы на другой адрес API (stripe-mock, тесты)
func WithStripeURL(url string) StripeOption {
	return func(cfg *stripe.BackendConfig) {
		cfg.URL = stripe.String(url)
	}
}

// WithStripeHTTPClient задаёт HTTP-клиент для запросов к API
func WithStripeHTTPClient(hc *http.Client) StripeOption {
	return func(cfg *stripe.BackendConfig) {
		cfg.HTTPClient = hc
	}
}

// NewStripeGateway создаёт шлюз. rps ограничивает исходящие запросы к Stripe.
func NewStripeGateway(secretKey string, rps float64, logger *zap.Logger, opts ...StripeOption) *StripeGateway {
	cfg := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Connect: stripe.GetBackend(stripe.ConnectBackend),
		Uploads: stripe.GetBackend(stripe.UploadsBackend),
	}

	if rps <= 0 {
		rps = 20
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}

	return &StripeGateway{
		api:     client.New(secretKey, backends),
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger,
	}
}

func (g *StripeGateway) Charge(ctx context.Context, req ChargeRequest) (GatewayResponse, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return GatewayResponse{}, model.ExternalError("stripe throttle", err)
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		PaymentMethod: stripe.String(req.PaymentMethod),
		Confirm:       stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return GatewayResponse{}, classifyStripeError("stripe charge", err)
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return GatewayResponse{ID: pi.ID, Status: StatusSucceeded}, nil
	case stripe.PaymentIntentStatusProcessing:
		return GatewayResponse{ID: pi.ID, Status: StatusPending}, nil
	default:
		return GatewayResponse{}, &DeclinedError{
			Code:    string(pi.Status),
			Message: fmt.Sprintf("payment intent %s not completed", pi.ID),
		}
	}
}

func (g *StripeGateway) Refund(ctx context.Context, req RefundRequest) (GatewayResponse, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return GatewayResponse{}, model.ExternalError("stripe throttle", err)
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.PaymentID),
		Amount:        stripe.Int64(req.Amount),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	r, err := g.api.Refunds.New(params)
	if err != nil {
		return GatewayResponse{}, classifyStripeError("stripe refund", err)
	}

	switch r.Status {
	case stripe.RefundStatusSucceeded:
		return GatewayResponse{ID: r.ID, Status: StatusSucceeded}, nil
	case stripe.RefundStatusPending, stripe.RefundStatusRequiresAction:
		return GatewayResponse{ID: r.ID, Status: StatusPending}, nil
	default:
		return GatewayResponse{}, &DeclinedError{
			Code:    string(r.Status),
			Message: fmt.Sprintf("refund %s not completed", r.ID),
		}
	}
}

// classifyStripeError разделяет окончательные отказы и сбои, которые можно повторить
func classifyStripeError(op string, err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return model.ExternalError(op, err)
	}

	switch {
	// 409: запрос с тем же ключом идемпотентности ещё обрабатывается
	case se.HTTPStatusCode == http.StatusConflict,
		se.HTTPStatusCode == http.StatusTooManyRequests,
		se.HTTPStatusCode >= http.StatusInternalServerError,
		se.Type == stripe.ErrorTypeAPI:
		return model.ExternalError(op, err)
	case se.Type == stripe.ErrorTypeCard:
		code := string(se.Code)
		if se.DeclineCode != "" {
			code = string(se.DeclineCode)
		}
		return &DeclinedError{Code: code, Message: se.Msg}
	default:
		return &DeclinedError{Code: string(se.Type), Message: se.Msg}
	}
}
