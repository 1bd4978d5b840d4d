package model

import (
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingFailed    BookingStatus = "FAILED"
)

// BookingRequest is the payload of the atomic multi-seat booking operation.
type BookingRequest struct {
	UserId  uuid.UUID   `json:"user_id"`
	SeatIds []uuid.UUID `json:"seat_ids"`
}

// BookingResult is the answer of the atomic booking operation. There is no
// partial success: either every requested seat is booked or none is.
type BookingResult struct {
	BookingId *uuid.UUID    `json:"booking_id,omitempty"`
	Status    BookingStatus `json:"status"`
}

type Booking struct {
	Id        uuid.UUID     `json:"id"`
	ShowId    uuid.UUID     `json:"show_id"`
	UserId    uuid.UUID     `json:"user_id"`
	SeatIds   []uuid.UUID   `json:"seat_ids"`
	Status    BookingStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
	Show      *Show         `json:"show,omitempty"`
}
