// Package devserver is a local ticketing backend: show and seat listing,
// atomic multi-seat booking, and a server-sent change feed.
package devserver

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"ticketflow-cli/model"
)

var ErrShowNotFound = errors.New("show not found")

// Inventory holds shows, seats and bookings in memory. Every mutation runs
// under one lock and notifies observers before the lock is released, so
// observers see changes in commit order.
type Inventory struct {
	mu       sync.Mutex
	shows    map[uuid.UUID]*model.Show
	order    []uuid.UUID
	seats    map[uuid.UUID][]*model.Seat
	bookings []model.Booking
	now      func() time.Time

	observers []Observer
}

// Observer is told about every committed change. Calls happen with the
// inventory lock held and must not block for long.
type Observer interface {
	SeatChanged(ev model.ChangeEvent)
	ShowChanged(show model.Show)
}

func NewInventory() *Inventory {
	return &Inventory{
		shows: map[uuid.UUID]*model.Show{},
		seats: map[uuid.UUID][]*model.Seat{},
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (inv *Inventory) Observe(o Observer) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.observers = append(inv.observers, o)
}

// AddShow creates a show with seats numbered 1..count.
func (inv *Inventory) AddShow(name string, start time.Time, count int) model.Show {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	now := inv.now()
	show := &model.Show{
		Id:             uuid.New(),
		Name:           name,
		StartTime:      start,
		TotalSeats:     count,
		AvailableSeats: count,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	seats := make([]*model.Seat, 0, count)
	for n := 1; n <= count; n++ {
		seats = append(seats, &model.Seat{Id: uuid.New(), ShowId: show.Id, SeatNumber: n, CreatedAt: now})
	}
	inv.shows[show.Id] = show
	inv.seats[show.Id] = seats
	inv.order = append(inv.order, show.Id)
	slices.SortStableFunc(inv.order, func(a, b uuid.UUID) int {
		return inv.shows[a].StartTime.Compare(inv.shows[b].StartTime)
	})
	for _, seat := range seats {
		inv.notifySeat(model.ChangeEvent{Type: model.EventInsert, Table: "seats", New: *seat})
	}
	inv.notifyShow(*show)
	return *show
}

var showNames = []string{"Hamlet", "The Tempest", "Cats", "Les Misérables", "Cabaret", "Rent", "Chicago", "Wicked"}

// Scheduled returns the name and start time of the i-th generated show:
// tomorrow at 19:00 UTC, then one day apart.
func Scheduled(i int, now time.Time) (string, time.Time) {
	name := showNames[i%len(showNames)]
	if i >= len(showNames) {
		name = fmt.Sprintf("%s (%d)", name, i/len(showNames)+1)
	}
	start := now.UTC().Truncate(24 * time.Hour).Add(24*time.Hour + 19*time.Hour)
	return name, start.Add(time.Duration(i) * 24 * time.Hour)
}

// Seed adds generated shows.
func (inv *Inventory) Seed(shows, seatsPerShow int) []model.Show {
	now := time.Now()
	out := make([]model.Show, 0, shows)
	for i := 0; i < shows; i++ {
		name, start := Scheduled(i, now)
		out = append(out, inv.AddShow(name, start, seatsPerShow))
	}
	return out
}

func (inv *Inventory) Shows() []model.Show {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	out := make([]model.Show, 0, len(inv.order))
	for _, id := range inv.order {
		out = append(out, *inv.shows[id])
	}
	return out
}

func (inv *Inventory) Show(id uuid.UUID) (model.Show, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	show, ok := inv.shows[id]
	if !ok {
		return model.Show{}, ErrShowNotFound
	}
	return *show, nil
}

// Seats returns a show's seats ordered by seat number.
func (inv *Inventory) Seats(showID uuid.UUID) ([]model.Seat, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	seats, ok := inv.seats[showID]
	if !ok {
		return nil, ErrShowNotFound
	}
	out := make([]model.Seat, len(seats))
	for i, seat := range seats {
		out[i] = *seat
	}
	return out, nil
}

// Book books every requested seat or none. It fails when a seat is
// unknown, already booked, or listed twice.
func (inv *Inventory) Book(showID, userID uuid.UUID, seatIDs []uuid.UUID) (model.BookingResult, model.Booking, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	show, ok := inv.shows[showID]
	if !ok {
		return model.BookingResult{}, model.Booking{}, ErrShowNotFound
	}
	failed := model.BookingResult{Status: model.BookingFailed}
	if len(seatIDs) == 0 {
		return failed, model.Booking{}, nil
	}

	byID := make(map[uuid.UUID]*model.Seat, len(inv.seats[showID]))
	for _, seat := range inv.seats[showID] {
		byID[seat.Id] = seat
	}
	picked := make([]*model.Seat, 0, len(seatIDs))
	seen := make(map[uuid.UUID]bool, len(seatIDs))
	for _, id := range seatIDs {
		seat, ok := byID[id]
		if !ok || seat.IsBooked || seen[id] {
			return failed, model.Booking{}, nil
		}
		seen[id] = true
		picked = append(picked, seat)
	}

	now := inv.now()
	for _, seat := range picked {
		old := *seat
		seat.IsBooked = true
		inv.notifySeat(model.ChangeEvent{Type: model.EventUpdate, Table: "seats", New: *seat, Old: &old})
	}
	show.AvailableSeats -= len(picked)
	show.UpdatedAt = now
	inv.notifyShow(*show)

	booking := model.Booking{
		Id:        uuid.New(),
		ShowId:    showID,
		UserId:    userID,
		SeatIds:   slices.Clone(seatIDs),
		Status:    model.BookingConfirmed,
		CreatedAt: now,
		UpdatedAt: now,
	}
	inv.bookings = append(inv.bookings, booking)
	id := booking.Id
	return model.BookingResult{BookingId: &id, Status: model.BookingConfirmed}, booking, nil
}

// Bookings lists a user's bookings newest first, with their show attached.
func (inv *Inventory) Bookings(userID uuid.UUID) []model.Booking {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	var out []model.Booking
	for i := len(inv.bookings) - 1; i >= 0; i-- {
		b := inv.bookings[i]
		if b.UserId != userID {
			continue
		}
		if show, ok := inv.shows[b.ShowId]; ok {
			s := *show
			b.Show = &s
		}
		out = append(out, b)
	}
	return out
}

// SeatNumbers maps seat ids of a show to their numbers, ascending.
func (inv *Inventory) SeatNumbers(showID uuid.UUID, seatIDs []uuid.UUID) []int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	want := make(map[uuid.UUID]bool, len(seatIDs))
	for _, id := range seatIDs {
		want[id] = true
	}
	var numbers []int
	for _, seat := range inv.seats[showID] {
		if want[seat.Id] {
			numbers = append(numbers, seat.SeatNumber)
		}
	}
	return numbers
}

// RandomAvailable picks an available seat of a random show that has one.
func (inv *Inventory) RandomAvailable(r *rand.Rand) (uuid.UUID, uuid.UUID, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	var candidates []uuid.UUID
	for _, id := range inv.order {
		if inv.shows[id].AvailableSeats > 0 {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return uuid.Nil, uuid.Nil, false
	}
	showID := candidates[r.IntN(len(candidates))]
	var free []*model.Seat
	for _, seat := range inv.seats[showID] {
		if !seat.IsBooked {
			free = append(free, seat)
		}
	}
	if len(free) == 0 {
		return uuid.Nil, uuid.Nil, false
	}
	return showID, free[r.IntN(len(free))].Id, true
}

func (inv *Inventory) notifySeat(ev model.ChangeEvent) {
	for _, o := range inv.observers {
		o.SeatChanged(ev)
	}
}

func (inv *Inventory) notifyShow(show model.Show) {
	for _, o := range inv.observers {
		o.ShowChanged(show)
	}
}
