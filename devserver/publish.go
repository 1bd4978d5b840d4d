package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"ticketflow-cli/model"
	"ticketflow-cli/service"
)

const (
	BookingConfirmedQueue = "booking.confirmed"
	streamMaxLen          = 1000
)

// BookingConfirmedEvent is published for downstream consumers after a
// booking commits.
type BookingConfirmedEvent struct {
	BookingID   string `json:"booking_id"`
	UserID      string `json:"user_id"`
	ShowID      string `json:"show_id"`
	ShowName    string `json:"show_name"`
	SeatNumbers []int  `json:"seat_numbers"`
	ConfirmedAt string `json:"confirmed_at"`
}

type ConfirmationPublisher interface {
	PublishBookingConfirmed(ctx context.Context, ev BookingConfirmedEvent) error
}

// AMQPPublisher publishes booking confirmations to a durable queue over a
// single long-lived channel.
type AMQPPublisher struct {
	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func DialAMQP(url string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		BookingConfirmedQueue, // name
		true,                  // durable
		false,                 // autoDelete
		false,                 // exclusive
		false,                 // noWait
		nil,                   // args
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq queue declare: %w", err)
	}
	return &AMQPPublisher{conn: conn, ch: ch}, nil
}

func (p *AMQPPublisher) PublishBookingConfirmed(ctx context.Context, ev BookingConfirmedEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx,
		"",                    // default exchange
		BookingConfirmedQueue, // routing key = queue name
		false,                 // mandatory
		false,                 // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		})
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.ch.Close()
	return p.conn.Close()
}

// RedisMirror appends seat changes to per-show Redis streams, in commit
// order, for clients using the redis change stream.
type RedisMirror struct {
	rdb    redis.UniversalClient
	queue  chan model.ChangeEvent
	logger *slog.Logger
}

func NewRedisMirror(rdb redis.UniversalClient, logger *slog.Logger) *RedisMirror {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RedisMirror{rdb: rdb, queue: make(chan model.ChangeEvent, 4096), logger: logger}
}

// SeatChanged queues an event; Run writes them out one at a time.
func (m *RedisMirror) SeatChanged(ev model.ChangeEvent) {
	m.queue <- ev
}

func (m *RedisMirror) ShowChanged(model.Show) {}

func (m *RedisMirror) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.queue:
			if err := m.write(ctx, ev); err != nil {
				m.logger.Warn("redis mirror write failed", "show_id", ev.New.ShowId, "err", err)
			}
		}
	}
}

func (m *RedisMirror) write(ctx context.Context, ev model.ChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return m.rdb.XAdd(ctx, mirrorArgs(ev, payload)).Err()
}

func mirrorArgs(ev model.ChangeEvent, payload []byte) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: service.SeatStreamKey(ev.New.ShowId),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: []interface{}{service.EventField, string(payload)},
	}
}
