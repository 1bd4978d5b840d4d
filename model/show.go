package model

import (
	"time"

	"github.com/google/uuid"
)

type Show struct {
	Id             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	StartTime      time.Time `json:"start_time"`
	TotalSeats     int       `json:"total_seats"`
	AvailableSeats int       `json:"available_seats"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SoldOut reports whether every seat of the show has been booked.
func (s Show) SoldOut() bool {
	return s.TotalSeats > 0 && s.AvailableSeats <= 0
}
