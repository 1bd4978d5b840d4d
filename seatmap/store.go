// Package seatmap holds the authoritative seat list of one show together with
// the user's tentative selection, and keeps the two consistent as change
// events arrive.
package seatmap

import (
	"errors"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/exp/maps"

	"ticketflow-cli/model"
)

type Status int

const (
	Available Status = iota
	Selected
	Booked
)

func (s Status) String() string {
	switch s {
	case Selected:
		return "selected"
	case Booked:
		return "booked"
	default:
		return "available"
	}
}

// ErrStale is returned by Toggle while a reconciliation re-fetch is pending.
var ErrStale = errors.New("seat map is being refreshed")

// DragState is implemented by the viewport controller.
type DragState interface {
	Dragging() bool
}

// Change describes the effect of one applied event.
type Change struct {
	Applied bool
	Seat    model.Seat
	// JustBooked is set when the seat flipped from available to booked.
	JustBooked bool
	// Evicted is set when the seat was removed from the selection.
	Evicted bool
}

// Store is not safe for concurrent use; it is written only from the event
// loop that also renders it.
type Store struct {
	showID    uuid.UUID
	seats     []model.Seat
	index     map[uuid.UUID]int
	selection map[uuid.UUID]struct{}
	stale     bool
}

func NewStore(showID uuid.UUID) *Store {
	return &Store{
		showID:    showID,
		index:     map[uuid.UUID]int{},
		selection: map[uuid.UUID]struct{}{},
	}
}

func (s *Store) ShowID() uuid.UUID { return s.showID }

// Load replaces the seat list with a fresh snapshot. Seats of other shows are
// dropped, selected seats that are now booked or gone are evicted, and a
// pending reconciliation is marked done.
func (s *Store) Load(seats []model.Seat) {
	next := make([]model.Seat, 0, len(seats))
	for _, seat := range seats {
		if seat.ShowId != s.showID {
			continue
		}
		next = append(next, seat)
	}
	sort.SliceStable(next, func(i, j int) bool {
		return next[i].SeatNumber < next[j].SeatNumber
	})

	s.seats = next
	s.index = make(map[uuid.UUID]int, len(next))
	for i, seat := range next {
		s.index[seat.Id] = i
	}
	for id := range s.selection {
		i, ok := s.index[id]
		if !ok || s.seats[i].IsBooked {
			delete(s.selection, id)
		}
	}
	s.stale = false
}

// Apply applies one change event in arrival order. Events for other shows,
// unknown seats, or inserts are ignored. Re-applying the same state is a
// no-op. A booked seat never reverts to available.
func (s *Store) Apply(ev model.ChangeEvent) Change {
	if ev.Type != model.EventUpdate || ev.New.ShowId != s.showID {
		return Change{}
	}
	i, ok := s.index[ev.New.Id]
	if !ok {
		return Change{}
	}

	current := s.seats[i]
	next := ev.New
	if current.IsBooked {
		next.IsBooked = true
	}
	change := Change{Applied: true, Seat: next}
	if !current.IsBooked && next.IsBooked {
		change.JustBooked = true
	}
	if next.SeatNumber != current.SeatNumber {
		s.seats[i] = next
		s.resort()
	} else {
		s.seats[i] = next
	}
	if next.IsBooked {
		if _, selected := s.selection[next.Id]; selected {
			delete(s.selection, next.Id)
			change.Evicted = true
		}
	}
	return change
}

// Toggle flips membership of a seat in the selection. It returns whether the
// selection changed. Booked or unknown seats, an active drag, or a pending
// reconciliation leave the selection untouched.
func (s *Store) Toggle(id uuid.UUID, drag DragState) (bool, error) {
	if s.stale {
		return false, ErrStale
	}
	if drag != nil && drag.Dragging() {
		return false, nil
	}
	i, ok := s.index[id]
	if !ok || s.seats[i].IsBooked {
		return false, nil
	}
	if _, selected := s.selection[id]; selected {
		delete(s.selection, id)
	} else {
		s.selection[id] = struct{}{}
	}
	return true, nil
}

// Clear empties the selection and reports whether anything was removed.
func (s *Store) Clear() bool {
	if len(s.selection) == 0 {
		return false
	}
	s.selection = map[uuid.UUID]struct{}{}
	return true
}

// MarkStale blocks selection until the next Load.
func (s *Store) MarkStale() { s.stale = true }

func (s *Store) Stale() bool { return s.stale }

func (s *Store) Status(id uuid.UUID) Status {
	i, ok := s.index[id]
	if ok && s.seats[i].IsBooked {
		return Booked
	}
	if _, selected := s.selection[id]; selected {
		return Selected
	}
	return Available
}

func (s *Store) Seat(id uuid.UUID) (model.Seat, bool) {
	i, ok := s.index[id]
	if !ok {
		return model.Seat{}, false
	}
	return s.seats[i], true
}

// Seats returns the seats ordered by seat number.
func (s *Store) Seats() []model.Seat {
	out := make([]model.Seat, len(s.seats))
	copy(out, s.seats)
	return out
}

func (s *Store) Len() int { return len(s.seats) }

func (s *Store) IsSelected(id uuid.UUID) bool {
	_, ok := s.selection[id]
	return ok
}

func (s *Store) SelectionSize() int { return len(s.selection) }

// Selected returns the selected seat ids ordered by seat number.
func (s *Store) Selected() []uuid.UUID {
	ids := maps.Keys(s.selection)
	sort.Slice(ids, func(a, b int) bool {
		return s.seats[s.index[ids[a]]].SeatNumber < s.seats[s.index[ids[b]]].SeatNumber
	})
	return ids
}

// SelectedNumbers returns the seat numbers of the selection in ascending order.
func (s *Store) SelectedNumbers() []int {
	ids := s.Selected()
	numbers := make([]int, 0, len(ids))
	for _, id := range ids {
		numbers = append(numbers, s.seats[s.index[id]].SeatNumber)
	}
	return numbers
}

// Available counts seats that are not booked.
func (s *Store) Available() int {
	n := 0
	for _, seat := range s.seats {
		if !seat.IsBooked {
			n++
		}
	}
	return n
}

func (s *Store) resort() {
	sort.SliceStable(s.seats, func(i, j int) bool {
		return s.seats[i].SeatNumber < s.seats[j].SeatNumber
	})
	for i, seat := range s.seats {
		s.index[seat.Id] = i
	}
}
