package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Freeeeeet/space_booking/internal/model"
)

const dateLayout = "2006-01-02"

type createPropertyRequest struct {
	Name       string `json:"name"`
	HourlyRate int64  `json:"hourly_rate"`
	Currency   string `json:"currency"`
	Timezone   string `json:"timezone"`
	HostChatID int64  `json:"host_chat_id"`
}

type publishRulesRequest struct {
	Rules []model.AvailabilityRule `json:"rules"`
}

type createBookingRequest struct {
	PropertyID          uuid.UUID `json:"property_id"`
	StartTime           time.Time `json:"start_time"`
	EndTime             time.Time `json:"end_time"`
	NumberOfDogs        int       `json:"number_of_dogs"`
	DogNames            []string  `json:"dog_names"`
	SpecialRequirements *string   `json:"special_requirements"`
	ContactAddress      string    `json:"contact_address"`
	PaymentMethod       string    `json:"payment_method"`
}

type updateStatusRequest struct {
	Status model.BookingStatus `json:"status"`
}

type availabilityResponse struct {
	PropertyID uuid.UUID               `json:"property_id"`
	Timezone   string                  `json:"timezone"`
	Days       []model.DayAvailability `json:"days"`
}

// requireUser достаёт пользователя, проставленного шлюзом аутентификации
func requireUser(c echo.Context) (string, error) {
	userID := strings.TrimSpace(c.Request().Header.Get(userHeader))
	if userID == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing "+userHeader+" header")
	}
	return userID, nil
}

func pathUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name+": must be a UUID")
	}
	return id, nil
}

func (s *Server) createProperty(c echo.Context) error {
	hostID, err := requireUser(c)
	if err != nil {
		return s.writeError(c, err)
	}

	var req createPropertyRequest
	if err := c.Bind(&req); err != nil {
		return s.writeError(c, echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body"))
	}

	p, err := s.availability.CreateProperty(c.Request().Context(), hostID, model.Property{
		Name:       req.Name,
		HourlyRate: req.HourlyRate,
		Currency:   req.Currency,
		Timezone:   req.Timezone,
		HostChatID: req.HostChatID,
	})
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (s *Server) listHostProperties(c echo.Context) error {
	hostID, err := requireUser(c)
	if err != nil {
		return s.writeError(c, err)
	}

	properties, err := s.availability.ListHostProperties(c.Request().Context(), hostID)
	if err != nil {
		return s.writeError(c, err)
	}
	if properties == nil {
		properties = []*model.Property{}
	}
	return c.JSON(http.StatusOK, properties)
}

func (s *Server) getProperty(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return s.writeError(c, err)
	}

	p, err := s.availability.GetProperty(c.Request().Context(), id)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) getRules(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return s.writeError(c, err)
	}

	ctx := c.Request().Context()
	if _, err := s.availability.GetProperty(ctx, id); err != nil {
		return s.writeError(c, err)
	}

	rules, err := s.availability.Rules(ctx, id)
	if err != nil {
		return s.writeError(c, err)
	}
	if rules == nil {
		rules = []model.AvailabilityRule{}
	}
	return c.JSON(http.StatusOK, publishRulesRequest{Rules: rules})
}

func (s *Server) publishRules(c echo.Context) error {
	hostID, err := requireUser(c)
	if err != nil {
		return s.writeError(c, err)
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return s.writeError(c, err)
	}

	var req publishRulesRequest
	if err := c.Bind(&req); err != nil {
		return s.writeError(c, echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body: times must be \"HH:MM\""))
	}

	rules, err := s.availability.PublishRules(c.Request().Context(), id, hostID, req.Rules)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, publishRulesRequest{Rules: rules})
}

// getAvailability: from/to - даты YYYY-MM-DD в часовом поясе площадки, обе включительно
func (s *Server) getAvailability(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return s.writeError(c, err)
	}

	ctx := c.Request().Context()
	property, err := s.availability.GetProperty(ctx, id)
	if err != nil {
		return s.writeError(c, err)
	}

	loc := property.Location()
	from, err := parseDate(c.QueryParam("from"), loc)
	if err != nil {
		return s.writeError(c, err)
	}
	to := from
	if raw := c.QueryParam("to"); raw != "" {
		if to, err = parseDate(raw, loc); err != nil {
			return s.writeError(c, err)
		}
	}

	days, err := s.availability.GetAvailability(ctx, id, from, to)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, availabilityResponse{PropertyID: id, Timezone: loc.String(), Days: days})
}

func (s *Server) listPropertyBookings(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return s.writeError(c, err)
	}

	ctx := c.Request().Context()
	property, err := s.availability.GetProperty(ctx, id)
	if err != nil {
		return s.writeError(c, err)
	}

	loc := property.Location()
	from, err := parseDate(c.QueryParam("from"), loc)
	if err != nil {
		return s.writeError(c, err)
	}
	to := from
	if raw := c.QueryParam("to"); raw != "" {
		if to, err = parseDate(raw, loc); err != nil {
			return s.writeError(c, err)
		}
	}

	bookings, err := s.bookings.ListPropertyBookings(ctx, id, from, to.AddDate(0, 0, 1))
	if err != nil {
		return s.writeError(c, err)
	}
	if bookings == nil {
		bookings = []*model.Booking{}
	}
	return c.JSON(http.StatusOK, bookings)
}

func (s *Server) createBooking(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return s.writeError(c, err)
	}

	var req createBookingRequest
	if err := c.Bind(&req); err != nil {
		return s.writeError(c, echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body: times must be RFC 3339"))
	}
	if req.PropertyID == uuid.Nil {
		return s.writeError(c, model.NewValidationError("property_id is required"))
	}

	booking, err := s.bookings.CreateBooking(c.Request().Context(), req.PropertyID, userID, req.StartTime, req.EndTime, model.BookingDetails{
		NumberOfDogs:        req.NumberOfDogs,
		DogNames:            req.DogNames,
		SpecialRequirements: req.SpecialRequirements,
		ContactAddress:      req.ContactAddress,
		PaymentMethod:       req.PaymentMethod,
	})
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, booking)
}

func (s *Server) listMyBookings(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return s.writeError(c, err)
	}

	bookings, err := s.bookings.ListUserBookings(c.Request().Context(), userID)
	if err != nil {
		return s.writeError(c, err)
	}
	if bookings == nil {
		bookings = []*model.Booking{}
	}
	return c.JSON(http.StatusOK, bookings)
}

func (s *Server) getBooking(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return s.writeError(c, err)
	}

	booking, err := s.bookings.GetBooking(c.Request().Context(), id)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, booking)
}

func (s *Server) updateStatus(c echo.Context) error {
	if _, err := requireUser(c); err != nil {
		return s.writeError(c, err)
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return s.writeError(c, err)
	}

	var req updateStatusRequest
	if err := c.Bind(&req); err != nil {
		return s.writeError(c, echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body"))
	}

	booking, err := s.bookings.UpdateStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, booking)
}

func parseDate(raw string, loc *time.Location) (time.Time, error) {
	if raw == "" {
		return time.Time{}, model.NewValidationError("from date is required (YYYY-MM-DD)")
	}
	t, err := time.ParseInLocation(dateLayout, raw, loc)
	if err != nil {
		return time.Time{}, model.NewValidationError("dates must be in YYYY-MM-DD format")
	}
	return t, nil
}
