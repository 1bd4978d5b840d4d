package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"ticketflow-cli/model"
)

// SeatSource is the request/response side of the backend.
type SeatSource interface {
	FetchShows(ctx context.Context) ([]model.Show, error)
	FetchShow(ctx context.Context, showID uuid.UUID) (model.Show, error)
	FetchSeats(ctx context.Context, showID uuid.UUID) ([]model.Seat, error)
	Book(ctx context.Context, showID, userID uuid.UUID, seatIDs []uuid.UUID) (model.BookingResult, error)
	FetchBookings(ctx context.Context, userID uuid.UUID) ([]model.Booking, error)
}

// ChangeStream delivers seat change events for one show in commit order.
type ChangeStream interface {
	Subscribe(ctx context.Context, showID uuid.UUID) (*Subscription[model.ChangeEvent], error)
}

// ErrMalformedEvent marks a payload that could not be decoded. Subscriptions
// log and drop such payloads.
var ErrMalformedEvent = errors.New("malformed change event")

// Subscription is a cancellable feed of decoded events. Events is closed
// when the feed ends; Err then reports why, or nil after Close.
type Subscription[T any] struct {
	events chan T
	cancel context.CancelFunc
	done   chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

func newSubscription[T any](parent context.Context) (*Subscription[T], context.Context) {
	ctx, cancel := context.WithCancel(parent)
	return &Subscription[T]{
		events: make(chan T, 64),
		cancel: cancel,
		done:   make(chan struct{}),
	}, ctx
}

func (s *Subscription[T]) Events() <-chan T { return s.events }

func (s *Subscription[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close cancels the feed and waits for its reader to stop. It is safe to
// call more than once.
func (s *Subscription[T]) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// deliver hands an event to the consumer, giving up when ctx ends.
func (s *Subscription[T]) deliver(ctx context.Context, ev T) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// finish records the terminal error and closes the feed. Cancellation is
// a normal end and is not reported.
func (s *Subscription[T]) finish(ctx context.Context, err error) {
	s.once.Do(func() {
		if err != nil && ctx.Err() == nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
		close(s.events)
		close(s.done)
	})
}

// DecodeChangeEvent parses a ChangeEvent payload and checks it is usable.
func DecodeChangeEvent(payload []byte) (model.ChangeEvent, error) {
	var ev model.ChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return model.ChangeEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	ev.Type = model.EventType(strings.ToUpper(string(ev.Type)))
	switch ev.Type {
	case model.EventInsert, model.EventUpdate:
	default:
		return model.ChangeEvent{}, fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, ev.Type)
	}
	if ev.Table != "" && ev.Table != "seats" {
		return model.ChangeEvent{}, fmt.Errorf("%w: unexpected table %q", ErrMalformedEvent, ev.Table)
	}
	if ev.New.Id == uuid.Nil || ev.New.ShowId == uuid.Nil {
		return model.ChangeEvent{}, fmt.Errorf("%w: missing seat identity", ErrMalformedEvent)
	}
	return ev, nil
}

// DecodeShow parses a show update payload.
func DecodeShow(payload []byte) (model.Show, error) {
	var show model.Show
	if err := json.Unmarshal(payload, &show); err != nil {
		return model.Show{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if show.Id == uuid.Nil {
		return model.Show{}, fmt.Errorf("%w: missing show id", ErrMalformedEvent)
	}
	return show, nil
}
