package model

import (
	"time"

	"github.com/google/uuid"
)

// Seat is one bookable seat of a show. IsBooked only ever moves from false to true.
type Seat struct {
	Id         uuid.UUID `json:"id"`
	ShowId     uuid.UUID `json:"show_id"`
	SeatNumber int       `json:"seat_number"`
	IsBooked   bool      `json:"is_booked"`
	CreatedAt  time.Time `json:"created_at"`
}

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
)

// ChangeEvent is a row-level change of the seats table as delivered by the
// change stream. Old is only present for updates.
type ChangeEvent struct {
	Type  EventType `json:"type"`
	Table string    `json:"table,omitempty"`
	New   Seat      `json:"new"`
	Old   *Seat     `json:"old,omitempty"`
}

// JustBooked reports whether the event flips a seat from available to booked.
func (e ChangeEvent) JustBooked() bool {
	if e.Type != EventUpdate || !e.New.IsBooked {
		return false
	}
	return e.Old == nil || !e.Old.IsBooked
}
