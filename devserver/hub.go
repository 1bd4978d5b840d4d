package devserver

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"ticketflow-cli/model"
)

const subscriberBuffer = 256

// Hub fans committed changes out to live event-stream connections. A
// subscriber that falls a whole buffer behind is disconnected rather than
// silently skipped, so a client never sees a gap in its feed.
type Hub struct {
	mu     sync.Mutex
	seats  map[uuid.UUID]map[chan model.ChangeEvent]struct{}
	shows  map[chan model.Show]struct{}
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		seats:  map[uuid.UUID]map[chan model.ChangeEvent]struct{}{},
		shows:  map[chan model.Show]struct{}{},
		logger: logger,
	}
}

// SubscribeSeats returns a feed of one show's seat changes and a func that
// ends it. The feed is closed when ended or when the subscriber lags.
func (h *Hub) SubscribeSeats(showID uuid.UUID) (<-chan model.ChangeEvent, func()) {
	ch := make(chan model.ChangeEvent, subscriberBuffer)
	h.mu.Lock()
	if h.seats[showID] == nil {
		h.seats[showID] = map[chan model.ChangeEvent]struct{}{}
	}
	h.seats[showID][ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.seats[showID][ch]; ok {
			delete(h.seats[showID], ch)
			close(ch)
		}
	}
}

func (h *Hub) SubscribeShows() (<-chan model.Show, func()) {
	ch := make(chan model.Show, subscriberBuffer)
	h.mu.Lock()
	h.shows[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.shows[ch]; ok {
			delete(h.shows, ch)
			close(ch)
		}
	}
}

func (h *Hub) SeatChanged(ev model.ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.seats[ev.New.ShowId] {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("dropping lagging seat subscriber", "show_id", ev.New.ShowId)
			delete(h.seats[ev.New.ShowId], ch)
			close(ch)
		}
	}
}

func (h *Hub) ShowChanged(show model.Show) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.shows {
		select {
		case ch <- show:
		default:
			h.logger.Warn("dropping lagging show subscriber")
			delete(h.shows, ch)
			close(ch)
		}
	}
}

// Subscribers counts live seat feeds for a show.
func (h *Hub) Subscribers(showID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seats[showID])
}
