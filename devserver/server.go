package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"ticketflow-cli/auth"
	"ticketflow-cli/model"
)

const keepaliveInterval = 15 * time.Second

type Options struct {
	// Tokens verifies bearer tokens on booking requests. Without a secret
	// the claims are trusted as-is.
	Tokens        auth.Parser
	Confirmations ConfirmationPublisher
	Logger        *slog.Logger
}

type Server struct {
	inv    *Inventory
	hub    *Hub
	opts   Options
	logger *slog.Logger
	echo   *echo.Echo

	done     chan struct{}
	doneOnce sync.Once
	pending  sync.WaitGroup
}

func New(inv *Inventory, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		inv:    inv,
		hub:    NewHub(logger),
		opts:   opts,
		logger: logger,
		echo:   echo.New(),
		done:   make(chan struct{}),
	}
	inv.Observe(s.hub)

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/v1/shows", s.listShows)
	e.GET("/v1/shows/events", s.streamShows)
	e.GET("/v1/shows/:id", s.getShow)
	e.GET("/v1/shows/:id/seats", s.listSeats)
	e.GET("/v1/shows/:id/seats/events", s.streamSeats)
	e.POST("/v1/shows/:id/bookings", s.book, requireBearer(opts.Tokens))
	e.GET("/v1/bookings", s.listBookings)
	return s
}

func (s *Server) Hub() *Hub { return s.hub }

// ServeHTTP lets tests drive the server through httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Run serves on addr until ctx ends, then closes event streams and shuts
// down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dev server listening", "addr", addr)
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close ends open event streams and waits for in-flight notifications.
func (s *Server) Close() {
	s.doneOnce.Do(func() { close(s.done) })
	s.pending.Wait()
}

func requireBearer(parser auth.Parser) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			identity, err := parser.Parse(header)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			c.Set("identity", identity)
			return next(c)
		}
	}
}

func showParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid show id")
	}
	return id, nil
}

func notFound(err error) error {
	if errors.Is(err, ErrShowNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return err
}

func (s *Server) listShows(c echo.Context) error {
	return c.JSON(http.StatusOK, s.inv.Shows())
}

func (s *Server) getShow(c echo.Context) error {
	id, err := showParam(c)
	if err != nil {
		return err
	}
	show, err := s.inv.Show(id)
	if err != nil {
		return notFound(err)
	}
	return c.JSON(http.StatusOK, show)
}

func (s *Server) listSeats(c echo.Context) error {
	id, err := showParam(c)
	if err != nil {
		return err
	}
	seats, err := s.inv.Seats(id)
	if err != nil {
		return notFound(err)
	}
	return c.JSON(http.StatusOK, seats)
}

func (s *Server) listBookings(c echo.Context) error {
	userID, err := uuid.Parse(c.QueryParam("user_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user_id")
	}
	bookings := s.inv.Bookings(userID)
	if bookings == nil {
		bookings = []model.Booking{}
	}
	return c.JSON(http.StatusOK, bookings)
}

func (s *Server) book(c echo.Context) error {
	showID, err := showParam(c)
	if err != nil {
		return err
	}
	var req model.BookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid booking request")
	}
	identity, _ := c.Get("identity").(auth.Identity)
	if req.UserId != identity.UserID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "user_id does not match token"})
	}

	result, booking, err := s.inv.Book(showID, req.UserId, req.SeatIds)
	if err != nil {
		return notFound(err)
	}
	s.logger.Info("booking", "show_id", showID, "seat_count", len(req.SeatIds), "status", result.Status)
	if result.Status == model.BookingConfirmed {
		s.confirm(booking)
	}
	return c.JSON(http.StatusOK, result)
}

// confirm publishes the confirmation off the request path.
func (s *Server) confirm(b model.Booking) {
	if s.opts.Confirmations == nil {
		return
	}
	show, _ := s.inv.Show(b.ShowId)
	ev := BookingConfirmedEvent{
		BookingID:   b.Id.String(),
		UserID:      b.UserId.String(),
		ShowID:      b.ShowId.String(),
		ShowName:    show.Name,
		SeatNumbers: s.inv.SeatNumbers(b.ShowId, b.SeatIds),
		ConfirmedAt: b.CreatedAt.Format(time.RFC3339),
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.opts.Confirmations.PublishBookingConfirmed(ctx, ev); err != nil {
			s.logger.Warn("publish booking confirmed failed", "booking_id", ev.BookingID, "err", err)
		}
	}()
}

func (s *Server) streamSeats(c echo.Context) error {
	id, err := showParam(c)
	if err != nil {
		return err
	}
	if _, err := s.inv.Show(id); err != nil {
		return notFound(err)
	}
	events, stop := s.hub.SubscribeSeats(id)
	defer stop()
	return streamEvents(c, s.done, events)
}

func (s *Server) streamShows(c echo.Context) error {
	shows, stop := s.hub.SubscribeShows()
	defer stop()
	return streamEvents(c, s.done, shows)
}

// streamEvents writes each value as one server-sent event. It returns when
// the client goes away, the server shuts down, or the feed is closed.
func streamEvents[T any](c echo.Context, done <-chan struct{}, feed <-chan T) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()
	ctx := c.Request().Context()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return nil
		case <-keepalive.C:
			if _, err := fmt.Fprint(res, ": ping\n\n"); err != nil {
				return nil
			}
			res.Flush()
		case v, ok := <-feed:
			if !ok {
				return nil
			}
			raw, err := json.Marshal(v)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(res, "data: %s\n\n", raw); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}

// HouseUser books seats on behalf of walk-up sales in the churn simulator.
var HouseUser = uuid.MustParse("00000000-0000-4000-8000-000000000001")

// Churn books a random available seat every interval until ctx ends, so
// clients see other people booking.
func Churn(ctx context.Context, inv *Inventory, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 7))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			showID, seatID, ok := inv.RandomAvailable(r)
			if !ok {
				continue
			}
			if result, _, err := inv.Book(showID, HouseUser, []uuid.UUID{seatID}); err == nil {
				logger.Debug("churn booking", "show_id", showID, "status", result.Status)
			}
		}
	}
}
