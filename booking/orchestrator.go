// Package booking drives one booking attempt from validation to
// reconciliation of the local seat map.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ticketflow-cli/auth"
	"ticketflow-cli/model"
	"ticketflow-cli/seatmap"
)

var (
	ErrSignInRequired  = errors.New("you must be signed in to book seats")
	ErrEmptySelection  = errors.New("select at least one seat")
	ErrBookingInFlight = errors.New("a booking attempt is already in progress")
	ErrStaleSeatMap    = errors.New("seat map is being refreshed")
	ErrWrongShow       = errors.New("selection belongs to another show")
)

// conflictMessage is shown when the atomic booking operation rejects the attempt.
const conflictMessage = "Some seats were already booked"

// Booker is the external atomic multi-seat booking operation.
type Booker interface {
	Book(ctx context.Context, showID, userID uuid.UUID, seatIDs []uuid.UUID) (model.BookingResult, error)
}

// SeatFetcher reloads the authoritative seat list of a show.
type SeatFetcher interface {
	FetchSeats(ctx context.Context, showID uuid.UUID) ([]model.Seat, error)
}

// Identifier reports the signed-in user.
type Identifier interface {
	Current() (auth.Identity, bool)
}

// Attempt is one BookingAttempt. It is terminal once Outcome leaves Pending
// and is never retried.
type Attempt struct {
	ShowID    uuid.UUID
	UserID    uuid.UUID
	SeatIDs   []uuid.UUID
	Outcome   model.BookingStatus
	BookingID *uuid.UUID
	Err       error
	StartedAt time.Time
}

// Signal tells the presentation layer what to do next.
type Signal int

const (
	SignalNone Signal = iota
	SignalSignInRequired
	SignalInvalid
	SignalConfirmed
	SignalFailed
)

func (s Signal) String() string {
	switch s {
	case SignalSignInRequired:
		return "sign-in-required"
	case SignalInvalid:
		return "invalid"
	case SignalConfirmed:
		return "confirmed"
	case SignalFailed:
		return "failed"
	default:
		return "none"
	}
}

type Report struct {
	Attempt *Attempt
	Signal  Signal
	Message string
	Err     error
	// Refetch is set when the seat list must be reloaded before another
	// selection is accepted.
	Refetch bool
}

// Orchestrator writes only to the seat map store it was built with, and only
// from Prepare, Settle and Reconcile. Execute touches no shared state so it
// may run off the event loop.
type Orchestrator struct {
	store    *seatmap.Store
	booker   Booker
	seats    SeatFetcher
	identity Identifier
	logger   *slog.Logger
	inFlight *Attempt
	now      func() time.Time
}

func New(store *seatmap.Store, booker Booker, seats SeatFetcher, identity Identifier, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{
		store:    store,
		booker:   booker,
		seats:    seats,
		identity: identity,
		logger:   logger,
		now:      time.Now,
	}
}

func (o *Orchestrator) InFlight() bool { return o.inFlight != nil }

// Prepare validates the preconditions and opens a pending attempt.
func (o *Orchestrator) Prepare(showID uuid.UUID, seatIDs []uuid.UUID) (*Attempt, Report) {
	if o.inFlight != nil {
		return nil, Report{Signal: SignalInvalid, Message: ErrBookingInFlight.Error(), Err: ErrBookingInFlight}
	}
	identity, ok := o.identity.Current()
	if !ok {
		return nil, Report{Signal: SignalSignInRequired, Message: "Please sign in to book seats.", Err: ErrSignInRequired}
	}
	if len(seatIDs) == 0 {
		return nil, Report{Signal: SignalInvalid, Message: "Please select at least one seat to book.", Err: ErrEmptySelection}
	}
	if showID != o.store.ShowID() {
		return nil, Report{Signal: SignalInvalid, Message: ErrWrongShow.Error(), Err: ErrWrongShow}
	}
	if o.store.Stale() {
		return nil, Report{Signal: SignalInvalid, Message: "Seat map is refreshing, try again in a moment.", Err: ErrStaleSeatMap}
	}

	ids := make([]uuid.UUID, len(seatIDs))
	copy(ids, seatIDs)
	attempt := &Attempt{
		ShowID:    showID,
		UserID:    identity.UserID,
		SeatIDs:   ids,
		Outcome:   model.BookingPending,
		StartedAt: o.now(),
	}
	o.inFlight = attempt
	return attempt, Report{Attempt: attempt}
}

// Execute calls the atomic booking operation. It has no client-side timeout
// beyond what ctx carries.
func (o *Orchestrator) Execute(ctx context.Context, a *Attempt) (model.BookingResult, error) {
	return o.booker.Book(ctx, a.ShowID, a.UserID, a.SeatIDs)
}

// Settle records the outcome of an attempt and reconciles the selection.
// A confirmed booking only clears the selection; seat records change when
// the change stream reports them. Any failure also marks the seat map stale
// so no selection is accepted until Reconcile reloads it.
func (o *Orchestrator) Settle(a *Attempt, result model.BookingResult, err error) Report {
	if o.inFlight == a {
		o.inFlight = nil
	}
	o.store.Clear()

	if err == nil && result.Status == model.BookingConfirmed {
		a.Outcome = model.BookingConfirmed
		a.BookingID = result.BookingId
		o.logger.Info("booking confirmed",
			"show_id", a.ShowID, "seat_count", len(a.SeatIDs), "duration", o.now().Sub(a.StartedAt))
		return Report{
			Attempt: a,
			Signal:  SignalConfirmed,
			Message: fmt.Sprintf("Successfully booked %d seat(s).", len(a.SeatIDs)),
		}
	}

	a.Outcome = model.BookingFailed
	a.Err = err
	o.store.MarkStale()
	message := conflictMessage
	if err != nil {
		message = fmt.Sprintf("Failed to create booking: %v", err)
		o.logger.Warn("booking request failed", "show_id", a.ShowID, "seat_count", len(a.SeatIDs), "err", err)
	} else {
		o.logger.Info("booking rejected", "show_id", a.ShowID, "seat_count", len(a.SeatIDs), "status", result.Status)
	}
	return Report{Attempt: a, Signal: SignalFailed, Message: message, Err: err, Refetch: true}
}

// Reconcile reloads the seat list after a failed attempt.
func (o *Orchestrator) Reconcile(ctx context.Context) error {
	seats, err := o.seats.FetchSeats(ctx, o.store.ShowID())
	if err != nil {
		o.logger.Warn("seat refetch failed", "show_id", o.store.ShowID(), "err", err)
		return fmt.Errorf("refetch seats: %w", err)
	}
	o.store.Load(seats)
	return nil
}

// AttemptBooking runs a whole attempt synchronously: validate, book, settle
// and, on failure, reconcile before returning.
func (o *Orchestrator) AttemptBooking(ctx context.Context, showID uuid.UUID, seatIDs []uuid.UUID) Report {
	attempt, report := o.Prepare(showID, seatIDs)
	if attempt == nil {
		return report
	}
	result, err := o.Execute(ctx, attempt)
	report = o.Settle(attempt, result, err)
	if report.Refetch {
		if rerr := o.Reconcile(ctx); rerr != nil {
			report.Err = errors.Join(report.Err, rerr)
		} else {
			report.Refetch = false
		}
	}
	return report
}
