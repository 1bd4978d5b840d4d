package booking_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ticketflow-cli/auth"
	"ticketflow-cli/booking"
	"ticketflow-cli/model"
	"ticketflow-cli/seatmap"
)

type mockBooker struct{ mock.Mock }

func (m *mockBooker) Book(ctx context.Context, showID, userID uuid.UUID, seatIDs []uuid.UUID) (model.BookingResult, error) {
	args := m.Called(ctx, showID, userID, seatIDs)
	return args.Get(0).(model.BookingResult), args.Error(1)
}

type mockFetcher struct{ mock.Mock }

func (m *mockFetcher) FetchSeats(ctx context.Context, showID uuid.UUID) ([]model.Seat, error) {
	args := m.Called(ctx, showID)
	seats, _ := args.Get(0).([]model.Seat)
	return seats, args.Error(1)
}

type staticIdentity struct {
	identity auth.Identity
	ok       bool
}

func (s staticIdentity) Current() (auth.Identity, bool) { return s.identity, s.ok }

type notDragging struct{}

func (notDragging) Dragging() bool { return false }

type fixture struct {
	showID  uuid.UUID
	userID  uuid.UUID
	seats   []model.Seat
	store   *seatmap.Store
	booker  *mockBooker
	fetcher *mockFetcher
	orch    *booking.Orchestrator
}

func newFixture(t *testing.T, signedIn bool) *fixture {
	t.Helper()
	f := &fixture{
		showID:  uuid.New(),
		userID:  uuid.New(),
		booker:  &mockBooker{},
		fetcher: &mockFetcher{},
	}
	for i := 1; i <= 10; i++ {
		f.seats = append(f.seats, model.Seat{Id: uuid.New(), ShowId: f.showID, SeatNumber: i})
	}
	f.store = seatmap.NewStore(f.showID)
	f.store.Load(f.seats)
	identity := staticIdentity{identity: auth.Identity{UserID: f.userID, ExpiresAt: time.Now().Add(time.Hour)}, ok: signedIn}
	f.orch = booking.New(f.store, f.booker, f.fetcher, identity, nil)
	t.Cleanup(func() {
		f.booker.AssertExpectations(t)
		f.fetcher.AssertExpectations(t)
	})
	return f
}

func (f *fixture) selectSeats(t *testing.T, numbers ...int) []uuid.UUID {
	t.Helper()
	for _, n := range numbers {
		_, err := f.store.Toggle(f.seats[n-1].Id, notDragging{})
		require.NoError(t, err)
	}
	return f.store.Selected()
}

func TestAttemptBooking_SignInRequired(t *testing.T) {
	f := newFixture(t, false)
	ids := f.selectSeats(t, 1)

	report := f.orch.AttemptBooking(context.Background(), f.showID, ids)

	assert.Equal(t, booking.SignalSignInRequired, report.Signal)
	assert.ErrorIs(t, report.Err, booking.ErrSignInRequired)
	assert.Nil(t, report.Attempt)
	assert.Equal(t, 1, f.store.SelectionSize(), "selection must survive a sign-in redirect")
	f.booker.AssertNotCalled(t, "Book", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAttemptBooking_EmptySelection(t *testing.T) {
	f := newFixture(t, true)

	report := f.orch.AttemptBooking(context.Background(), f.showID, nil)

	assert.Equal(t, booking.SignalInvalid, report.Signal)
	assert.ErrorIs(t, report.Err, booking.ErrEmptySelection)
	assert.Equal(t, "Please select at least one seat to book.", report.Message)
}

func TestAttemptBooking_Confirmed(t *testing.T) {
	f := newFixture(t, true)
	ids := f.selectSeats(t, 3, 4)
	bookingID := uuid.New()
	ctx := context.Background()

	f.booker.On("Book", ctx, f.showID, f.userID, ids).
		Return(model.BookingResult{BookingId: &bookingID, Status: model.BookingConfirmed}, nil).Once()

	report := f.orch.AttemptBooking(ctx, f.showID, ids)

	assert.Equal(t, booking.SignalConfirmed, report.Signal)
	require.NotNil(t, report.Attempt)
	assert.Equal(t, model.BookingConfirmed, report.Attempt.Outcome)
	assert.Equal(t, &bookingID, report.Attempt.BookingID)
	assert.Equal(t, 0, f.store.SelectionSize())
	assert.False(t, f.store.Stale())
	// seat records change only through the change stream
	assert.Equal(t, seatmap.Available, f.store.Status(ids[0]))
	f.fetcher.AssertNotCalled(t, "FetchSeats", mock.Anything, mock.Anything)
}

func TestAttemptBooking_FailedReconciles(t *testing.T) {
	f := newFixture(t, true)
	ids := f.selectSeats(t, 3, 7)
	ctx := context.Background()

	refreshed := make([]model.Seat, len(f.seats))
	copy(refreshed, f.seats)
	refreshed[6].IsBooked = true

	f.booker.On("Book", ctx, f.showID, f.userID, ids).
		Return(model.BookingResult{Status: model.BookingFailed}, nil).Once()
	f.fetcher.On("FetchSeats", ctx, f.showID).Return(refreshed, nil).Once()

	report := f.orch.AttemptBooking(ctx, f.showID, ids)

	assert.Equal(t, booking.SignalFailed, report.Signal)
	assert.Equal(t, "Some seats were already booked", report.Message)
	assert.NoError(t, report.Err)
	assert.False(t, report.Refetch)
	assert.Equal(t, model.BookingFailed, report.Attempt.Outcome)
	assert.Equal(t, 0, f.store.SelectionSize())
	assert.False(t, f.store.Stale())
	assert.Equal(t, seatmap.Booked, f.store.Status(f.seats[6].Id))
	f.booker.AssertNumberOfCalls(t, "Book", 1)
}

func TestAttemptBooking_TransportErrorTreatedAsFailure(t *testing.T) {
	f := newFixture(t, true)
	ids := f.selectSeats(t, 2)
	ctx := context.Background()
	boom := errors.New("connection reset")

	f.booker.On("Book", ctx, f.showID, f.userID, ids).Return(model.BookingResult{}, boom).Once()
	f.fetcher.On("FetchSeats", ctx, f.showID).Return(f.seats, nil).Once()

	report := f.orch.AttemptBooking(ctx, f.showID, ids)

	assert.Equal(t, booking.SignalFailed, report.Signal)
	assert.ErrorIs(t, report.Err, boom)
	assert.Contains(t, report.Message, "connection reset")
	assert.Equal(t, 0, f.store.SelectionSize())
}

func TestAttemptBooking_RefetchFailureKeepsStale(t *testing.T) {
	f := newFixture(t, true)
	ids := f.selectSeats(t, 5)
	ctx := context.Background()
	down := errors.New("backend down")

	f.booker.On("Book", ctx, f.showID, f.userID, ids).
		Return(model.BookingResult{Status: model.BookingFailed}, nil).Once()
	f.fetcher.On("FetchSeats", ctx, f.showID).Return(nil, down).Once()

	report := f.orch.AttemptBooking(ctx, f.showID, ids)

	assert.True(t, report.Refetch)
	assert.ErrorIs(t, report.Err, down)
	assert.True(t, f.store.Stale())

	_, err := f.store.Toggle(f.seats[0].Id, notDragging{})
	assert.ErrorIs(t, err, seatmap.ErrStale)

	again := f.orch.AttemptBooking(ctx, f.showID, []uuid.UUID{f.seats[0].Id})
	assert.ErrorIs(t, again.Err, booking.ErrStaleSeatMap)
}

func TestPrepare_OneAttemptAtATime(t *testing.T) {
	f := newFixture(t, true)
	ids := f.selectSeats(t, 1)

	attempt, _ := f.orch.Prepare(f.showID, ids)
	require.NotNil(t, attempt)
	assert.Equal(t, model.BookingPending, attempt.Outcome)
	assert.True(t, f.orch.InFlight())

	second, report := f.orch.Prepare(f.showID, ids)
	assert.Nil(t, second)
	assert.ErrorIs(t, report.Err, booking.ErrBookingInFlight)

	settled := f.orch.Settle(attempt, model.BookingResult{Status: model.BookingConfirmed}, nil)
	assert.Equal(t, booking.SignalConfirmed, settled.Signal)
	assert.False(t, f.orch.InFlight())
}

func TestPrepare_CopiesSeatIDs(t *testing.T) {
	f := newFixture(t, true)
	ids := f.selectSeats(t, 1, 2)

	attempt, _ := f.orch.Prepare(f.showID, ids)
	require.NotNil(t, attempt)
	ids[0] = uuid.Nil
	assert.NotEqual(t, uuid.Nil, attempt.SeatIDs[0])
}

func TestPrepare_WrongShow(t *testing.T) {
	f := newFixture(t, true)
	ids := f.selectSeats(t, 1)

	attempt, report := f.orch.Prepare(uuid.New(), ids)
	assert.Nil(t, attempt)
	assert.ErrorIs(t, report.Err, booking.ErrWrongShow)
}
