package seatmap

import (
	"errors"
	"reflect"
	"testing"

	"github.com/google/uuid"

	"ticketflow-cli/model"
)

type dragFlag bool

func (d dragFlag) Dragging() bool { return bool(d) }

func newSeats(showID uuid.UUID, count int) []model.Seat {
	seats := make([]model.Seat, 0, count)
	for i := count; i >= 1; i-- {
		seats = append(seats, model.Seat{Id: uuid.New(), ShowId: showID, SeatNumber: i})
	}
	return seats
}

func seatByNumber(t *testing.T, s *Store, number int) model.Seat {
	t.Helper()
	for _, seat := range s.Seats() {
		if seat.SeatNumber == number {
			return seat
		}
	}
	t.Fatalf("seat %d not found", number)
	return model.Seat{}
}

func booked(seat model.Seat) model.ChangeEvent {
	old := seat
	next := seat
	next.IsBooked = true
	return model.ChangeEvent{Type: model.EventUpdate, Table: "seats", New: next, Old: &old}
}

func TestLoad_SortsBySeatNumber(t *testing.T) {
	showID := uuid.New()
	s := NewStore(showID)
	s.Load(newSeats(showID, 12))

	seats := s.Seats()
	for i, seat := range seats {
		if seat.SeatNumber != i+1 {
			t.Fatalf("expected seat %d at position %d, got %d", i+1, i, seat.SeatNumber)
		}
	}
}

func TestApply_EvictsSelectedSeatBookedElsewhere(t *testing.T) {
	showID := uuid.New()
	s := NewStore(showID)
	s.Load(newSeats(showID, 40))

	seat3 := seatByNumber(t, s, 3)
	seat7 := seatByNumber(t, s, 7)
	for _, id := range []uuid.UUID{seat3.Id, seat7.Id} {
		if changed, err := s.Toggle(id, dragFlag(false)); err != nil || !changed {
			t.Fatalf("expected toggle to select, got changed=%v err=%v", changed, err)
		}
	}

	change := s.Apply(booked(seat7))
	if !change.Applied || !change.JustBooked || !change.Evicted {
		t.Fatalf("unexpected change: %+v", change)
	}
	if got := s.SelectedNumbers(); !reflect.DeepEqual(got, []int{3}) {
		t.Fatalf("expected selection [3], got %v", got)
	}
	if st := s.Status(seat7.Id); st != Booked {
		t.Fatalf("expected seat 7 booked, got %s", st)
	}
	if st := s.Status(seat3.Id); st != Selected {
		t.Fatalf("expected seat 3 selected, got %s", st)
	}
}

func TestApply_Idempotent(t *testing.T) {
	showID := uuid.New()
	s := NewStore(showID)
	s.Load(newSeats(showID, 10))
	seat := seatByNumber(t, s, 4)
	ev := booked(seat)

	s.Apply(ev)
	before := s.Seats()
	selBefore := s.Selected()

	second := s.Apply(ev)
	if second.JustBooked || second.Evicted {
		t.Fatalf("expected no transition on replay, got %+v", second)
	}
	if !reflect.DeepEqual(before, s.Seats()) || !reflect.DeepEqual(selBefore, s.Selected()) {
		t.Fatal("expected store unchanged after replaying the same event")
	}
}

func TestApply_BookedNeverReverts(t *testing.T) {
	showID := uuid.New()
	s := NewStore(showID)
	s.Load(newSeats(showID, 5))
	seat := seatByNumber(t, s, 2)
	s.Apply(booked(seat))

	stale := model.ChangeEvent{Type: model.EventUpdate, New: seat}
	s.Apply(stale)
	if s.Status(seat.Id) != Booked {
		t.Fatal("expected seat to stay booked")
	}
}

func TestApply_IgnoresUnknownAndForeignEvents(t *testing.T) {
	showID := uuid.New()
	s := NewStore(showID)
	s.Load(newSeats(showID, 5))

	unknown := model.ChangeEvent{Type: model.EventUpdate, New: model.Seat{Id: uuid.New(), ShowId: showID, IsBooked: true}}
	if change := s.Apply(unknown); change.Applied {
		t.Fatalf("expected unknown seat ignored, got %+v", change)
	}

	seat := seatByNumber(t, s, 1)
	foreign := booked(seat)
	foreign.New.ShowId = uuid.New()
	if change := s.Apply(foreign); change.Applied {
		t.Fatalf("expected foreign show ignored, got %+v", change)
	}

	insert := booked(seat)
	insert.Type = model.EventInsert
	if change := s.Apply(insert); change.Applied {
		t.Fatalf("expected insert ignored, got %+v", change)
	}
	if s.Available() != 5 {
		t.Fatalf("expected 5 available seats, got %d", s.Available())
	}
}

func TestInvariant_BookedSeatsNeverSelected(t *testing.T) {
	showID := uuid.New()
	s := NewStore(showID)
	s.Load(newSeats(showID, 30))
	for _, seat := range s.Seats() {
		_, _ = s.Toggle(seat.Id, nil)
	}
	for i, seat := range s.Seats() {
		if i%3 == 0 {
			s.Apply(booked(seat))
		}
		for _, current := range s.Seats() {
			if current.IsBooked && s.IsSelected(current.Id) {
				t.Fatalf("seat %d is booked and selected", current.SeatNumber)
			}
		}
	}
}

func TestToggle_Guards(t *testing.T) {
	showID := uuid.New()
	s := NewStore(showID)
	s.Load(newSeats(showID, 5))
	seat := seatByNumber(t, s, 1)

	if changed, _ := s.Toggle(seat.Id, dragFlag(true)); changed {
		t.Fatal("expected toggle suppressed while dragging")
	}

	s.Apply(booked(seat))
	if changed, _ := s.Toggle(seat.Id, nil); changed {
		t.Fatal("expected booked seat not selectable")
	}

	other := seatByNumber(t, s, 2)
	if changed, _ := s.Toggle(other.Id, nil); !changed {
		t.Fatal("expected select")
	}
	if changed, _ := s.Toggle(other.Id, nil); !changed || s.IsSelected(other.Id) {
		t.Fatal("expected deselect")
	}
}

func TestToggle_RejectedUntilReload(t *testing.T) {
	showID := uuid.New()
	s := NewStore(showID)
	seats := newSeats(showID, 5)
	s.Load(seats)
	seat := seatByNumber(t, s, 3)

	s.MarkStale()
	if _, err := s.Toggle(seat.Id, nil); !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	s.Load(seats)
	if changed, err := s.Toggle(seat.Id, nil); err != nil || !changed {
		t.Fatalf("expected toggle after reload, got changed=%v err=%v", changed, err)
	}
}

func TestLoad_PrunesSelectionAgainstSnapshot(t *testing.T) {
	showID := uuid.New()
	s := NewStore(showID)
	seats := newSeats(showID, 6)
	s.Load(seats)
	for _, seat := range s.Seats()[:3] {
		_, _ = s.Toggle(seat.Id, nil)
	}

	refreshed := s.Seats()
	refreshed[0].IsBooked = true
	refreshed = refreshed[:2]
	s.Load(refreshed)

	if got := s.SelectedNumbers(); !reflect.DeepEqual(got, []int{2}) {
		t.Fatalf("expected selection [2], got %v", got)
	}
}

func TestClear(t *testing.T) {
	showID := uuid.New()
	s := NewStore(showID)
	s.Load(newSeats(showID, 3))
	if s.Clear() {
		t.Fatal("expected nothing to clear")
	}
	_, _ = s.Toggle(seatByNumber(t, s, 1).Id, nil)
	if !s.Clear() || s.SelectionSize() != 0 {
		t.Fatal("expected selection cleared")
	}
}
