package service

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"ticketflow-cli/model"
)

// SeatChangesChannel is the NOTIFY channel fed by the seats trigger.
const SeatChangesChannel = "seat_changes"

//go:embed schema.sql
var schemaSQL string

// ErrEventsLost is reported when the listener reconnected and may have
// missed notifications. The seat map must be reloaded.
var ErrEventsLost = errors.New("change stream reconnected, events may have been lost")

// PostgresSource reads and books seats directly against the database.
type PostgresSource struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenPostgres opens and pings a database handle, retrying while the server
// starts up.
func OpenPostgres(ctx context.Context, dsn string, attempts int, logger *slog.Logger) (*sql.DB, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		db, err := sql.Open("postgres", dsn)
		if err == nil {
			if err = db.PingContext(ctx); err == nil {
				return db, nil
			}
			_ = db.Close()
		}
		lastErr = err
		logger.Warn("database not ready", "attempt", i, "err", err)
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil, fmt.Errorf("connect database: %w", lastErr)
}

func NewPostgresSource(db *sql.DB, logger *slog.Logger) *PostgresSource {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &PostgresSource{db: db, logger: logger}
}

// EnsureSchema creates tables, the booking function and the notify trigger.
func (p *PostgresSource) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Seed inserts a show with count seats.
func (p *PostgresSource) Seed(ctx context.Context, name string, start time.Time, count int) (model.Show, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Show{}, err
	}
	defer tx.Rollback()

	show := model.Show{Id: uuid.New(), Name: name, StartTime: start, TotalSeats: count, AvailableSeats: count}
	err = tx.QueryRowContext(ctx, `
	INSERT INTO shows (id, name, start_time, total_seats, available_seats)
	VALUES ($1, $2, $3, $4, $4)
	RETURNING created_at, updated_at
	`, show.Id, show.Name, show.StartTime, count).Scan(&show.CreatedAt, &show.UpdatedAt)
	if err != nil {
		return model.Show{}, fmt.Errorf("insert show: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO seats (id, show_id, seat_number) VALUES ($1, $2, $3)`)
	if err != nil {
		return model.Show{}, err
	}
	defer stmt.Close()
	for n := 1; n <= count; n++ {
		if _, err := stmt.ExecContext(ctx, uuid.New(), show.Id, n); err != nil {
			return model.Show{}, fmt.Errorf("insert seat %d: %w", n, err)
		}
	}
	return show, tx.Commit()
}

func (p *PostgresSource) FetchShows(ctx context.Context) ([]model.Show, error) {
	query := `
	SELECT id, name, start_time, total_seats, available_seats, created_at, updated_at
	FROM shows
	ORDER BY start_time
	`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query shows: %w", err)
	}
	defer rows.Close()

	var shows []model.Show
	for rows.Next() {
		var show model.Show
		if err := rows.Scan(&show.Id, &show.Name, &show.StartTime, &show.TotalSeats,
			&show.AvailableSeats, &show.CreatedAt, &show.UpdatedAt); err != nil {
			return nil, err
		}
		shows = append(shows, show)
	}
	return shows, rows.Err()
}

func (p *PostgresSource) FetchShow(ctx context.Context, showID uuid.UUID) (model.Show, error) {
	query := `
	SELECT id, name, start_time, total_seats, available_seats, created_at, updated_at
	FROM shows
	WHERE id = $1
	`
	var show model.Show
	err := p.db.QueryRowContext(ctx, query, showID).Scan(&show.Id, &show.Name, &show.StartTime,
		&show.TotalSeats, &show.AvailableSeats, &show.CreatedAt, &show.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Show{}, fmt.Errorf("show %s not found", showID)
		}
		return model.Show{}, err
	}
	return show, nil
}

func (p *PostgresSource) FetchSeats(ctx context.Context, showID uuid.UUID) ([]model.Seat, error) {
	query := `
	SELECT id, show_id, seat_number, is_booked, created_at
	FROM seats
	WHERE show_id = $1
	ORDER BY seat_number
	`
	rows, err := p.db.QueryContext(ctx, query, showID)
	if err != nil {
		p.logger.Warn("fetch seats failed", "show_id", showID, "err", err)
		return nil, fmt.Errorf("query seats: %w", err)
	}
	defer rows.Close()

	var seats []model.Seat
	for rows.Next() {
		var seat model.Seat
		if err := rows.Scan(&seat.Id, &seat.ShowId, &seat.SeatNumber, &seat.IsBooked, &seat.CreatedAt); err != nil {
			return nil, err
		}
		seats = append(seats, seat)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	p.logger.Debug("fetched seats", "show_id", showID, "seat_count", len(seats))
	return seats, nil
}

// Book runs the book_seats function, which locks the requested rows and
// books all of them or none.
func (p *PostgresSource) Book(ctx context.Context, showID, userID uuid.UUID, seatIDs []uuid.UUID) (model.BookingResult, error) {
	var (
		bookingID uuid.NullUUID
		status    string
	)
	err := p.db.QueryRowContext(ctx, `SELECT booking_id, status FROM book_seats($1, $2, $3::uuid[])`,
		showID, userID, pq.Array(uuidStrings(seatIDs))).Scan(&bookingID, &status)
	if err != nil {
		p.logger.Warn("book seats failed", "show_id", showID, "seat_count", len(seatIDs), "err", err)
		return model.BookingResult{}, fmt.Errorf("book seats: %w", err)
	}

	result := model.BookingResult{Status: model.BookingStatus(status)}
	if bookingID.Valid {
		id := bookingID.UUID
		result.BookingId = &id
	}
	p.logger.Debug("book seats", "show_id", showID, "seat_count", len(seatIDs), "status", result.Status)
	return result, nil
}

func (p *PostgresSource) FetchBookings(ctx context.Context, userID uuid.UUID) ([]model.Booking, error) {
	query := `
	SELECT b.id, b.show_id, b.user_id, b.seat_ids, b.status, b.created_at, b.updated_at, b.expires_at,
	       s.name, s.start_time, s.total_seats, s.available_seats
	FROM bookings b
	JOIN shows s ON s.id = b.show_id
	WHERE b.user_id = $1
	ORDER BY b.created_at DESC
	`
	rows, err := p.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []model.Booking
	for rows.Next() {
		var (
			b         model.Booking
			seatIDs   []string
			expiresAt sql.NullTime
			show      model.Show
		)
		if err := rows.Scan(&b.Id, &b.ShowId, &b.UserId, pq.Array(&seatIDs), &b.Status, &b.CreatedAt,
			&b.UpdatedAt, &expiresAt, &show.Name, &show.StartTime, &show.TotalSeats, &show.AvailableSeats); err != nil {
			return nil, err
		}
		for _, raw := range seatIDs {
			id, err := uuid.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("booking %s: %w", b.Id, err)
			}
			b.SeatIds = append(b.SeatIds, id)
		}
		if expiresAt.Valid {
			b.ExpiresAt = &expiresAt.Time
		}
		show.Id = b.ShowId
		b.Show = &show
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

const defaultListenTimeout = 10 * time.Second

// PostgresStream follows seat changes with LISTEN/NOTIFY.
type PostgresStream struct {
	dsn    string
	logger *slog.Logger
	// ListenTimeout bounds the initial connection. Later reconnects are
	// left to the listener.
	ListenTimeout time.Duration
}

func NewPostgresStream(dsn string, logger *slog.Logger) *PostgresStream {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &PostgresStream{dsn: dsn, logger: logger, ListenTimeout: defaultListenTimeout}
}

// Subscribe fails when the first connection attempt fails, or when ctx or
// ListenTimeout ends before the listener is connected.
func (p *PostgresStream) Subscribe(ctx context.Context, showID uuid.UUID) (*Subscription[model.ChangeEvent], error) {
	connectFailed := make(chan error, 1)
	listener := pq.NewListener(p.dsn, time.Second, 30*time.Second, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			p.logger.Warn("listener event", "event", ev, "err", err)
		}
		if ev == pq.ListenerEventConnectionAttemptFailed {
			select {
			case connectFailed <- err:
			default:
			}
		}
	})
	if err := p.listen(ctx, listener, connectFailed); err != nil {
		_ = listener.Close()
		return nil, err
	}

	sub, subCtx := newSubscription[model.ChangeEvent](ctx)
	go func() {
		defer listener.Close()
		sub.finish(subCtx, p.pump(subCtx, listener, showID, sub))
	}()
	return sub, nil
}

func (p *PostgresStream) listen(ctx context.Context, listener *pq.Listener, connectFailed <-chan error) error {
	timeout := p.ListenTimeout
	if timeout <= 0 {
		timeout = defaultListenTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Listen waits for a connection with no way to interrupt it other than
	// closing the listener, which the caller does on error.
	done := make(chan error, 1)
	go func() { done <- listener.Listen(SeatChangesChannel) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("listen %s: %w", SeatChangesChannel, err)
		}
		return nil
	case err := <-connectFailed:
		return fmt.Errorf("connect listener: %w", err)
	case <-ctx.Done():
		return fmt.Errorf("listen %s: %w", SeatChangesChannel, ctx.Err())
	}
}

func (p *PostgresStream) pump(ctx context.Context, listener *pq.Listener, showID uuid.UUID, sub *Subscription[model.ChangeEvent]) error {
	keepalive := time.NewTicker(90 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-keepalive.C:
			if err := listener.Ping(); err != nil {
				return fmt.Errorf("ping listener: %w", err)
			}
		case n, ok := <-listener.Notify:
			if !ok {
				return errors.New("listener closed")
			}
			if n == nil {
				return ErrEventsLost
			}
			ev, err := DecodeChangeEvent([]byte(n.Extra))
			if err != nil {
				p.logger.Debug("dropping notification", "err", err)
				continue
			}
			if ev.New.ShowId != showID {
				continue
			}
			if !sub.deliver(ctx, ev) {
				return ctx.Err()
			}
		}
	}
}
