// Package httpapi - HTTP API движка бронирования поверх Echo.
// Аутентификация выполняется шлюзом перед сервисом, он передаёт пользователя в заголовке X-User-ID.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/Freeeeeet/space_booking/internal/model"
)

const userHeader = "X-User-ID"

// BookingAPI - операции с бронями, которые обслуживает HTTP слой
type BookingAPI interface {
	CreateBooking(ctx context.Context, propertyID uuid.UUID, userID string, startTime, endTime time.Time, details model.BookingDetails) (*model.Booking, error)
	UpdateStatus(ctx context.Context, bookingID uuid.UUID, newStatus model.BookingStatus) (*model.Booking, error)
	GetBooking(ctx context.Context, id uuid.UUID) (*model.Booking, error)
	ListUserBookings(ctx context.Context, userID string) ([]*model.Booking, error)
	ListPropertyBookings(ctx context.Context, propertyID uuid.UUID, from, to time.Time) ([]*model.Booking, error)
}

// AvailabilityAPI - операции с площадками и их доступностью
type AvailabilityAPI interface {
	CreateProperty(ctx context.Context, hostID string, p model.Property) (*model.Property, error)
	GetProperty(ctx context.Context, id uuid.UUID) (*model.Property, error)
	ListHostProperties(ctx context.Context, hostID string) ([]*model.Property, error)
	Rules(ctx context.Context, propertyID uuid.UUID) ([]model.AvailabilityRule, error)
	PublishRules(ctx context.Context, propertyID uuid.UUID, hostID string, rules []model.AvailabilityRule) ([]model.AvailabilityRule, error)
	GetAvailability(ctx context.Context, propertyID uuid.UUID, from, to time.Time) ([]model.DayAvailability, error)
}

type Server struct {
	echo         *echo.Echo
	bookings     BookingAPI
	availability AvailabilityAPI
	logger       *zap.Logger
}

func NewServer(bookings BookingAPI, availability AvailabilityAPI, logger *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:         e,
		bookings:     bookings,
		availability: availability,
		logger:       logger,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger)

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	v1 := s.echo.Group("/v1")

	v1.POST("/properties", s.createProperty)
	v1.GET("/properties", s.listHostProperties)
	v1.GET("/properties/:id", s.getProperty)
	v1.GET("/properties/:id/rules", s.getRules)
	v1.PUT("/properties/:id/rules", s.publishRules)
	v1.GET("/properties/:id/availability", s.getAvailability)
	v1.GET("/properties/:id/bookings", s.listPropertyBookings)

	v1.POST("/bookings", s.createBooking)
	v1.GET("/bookings", s.listMyBookings)
	v1.GET("/bookings/:id", s.getBooking)
	v1.PATCH("/bookings/:id/status", s.updateStatus)
}

// ServeHTTP позволяет использовать сервер как http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start блокирует до остановки сервера
func (s *Server) Start(addr string) error {
	s.logger.Info("HTTP server listening", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		req := c.Request()
		res := c.Response()
		fields := []zap.Field{
			zap.String("method", req.Method),
			zap.String("path", c.Path()),
			zap.Int("status", res.Status),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", res.Header().Get(echo.HeaderXRequestID)),
		}

		switch {
		case res.Status >= http.StatusInternalServerError:
			s.logger.Error("HTTP request", fields...)
		case res.Status >= http.StatusBadRequest:
			s.logger.Info("HTTP request", fields...)
		default:
			s.logger.Debug("HTTP request", fields...)
		}
		return nil
	}
}
