package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"ticketflow-cli/auth"
	"ticketflow-cli/booking"
	"ticketflow-cli/gesture"
	"ticketflow-cli/minimap"
	"ticketflow-cli/model"
	"ticketflow-cli/seatmap"
	"ticketflow-cli/service"
	"ticketflow-cli/store"
	"ticketflow-cli/viewport"
)

const (
	fetchTimeout  = 15 * time.Second
	noticeTimeout = 4 * time.Second
	panStep       = 4.0
	stageHeight   = 3
	footerHeight  = 4
)

// subscribeTimeout bounds how long opening a show waits for the change
// stream to connect.
var subscribeTimeout = fetchTimeout

type appState int

const (
	stateLoadingShows appState = iota
	stateSelectShow
	stateLoadingSeats
	stateBooking
	stateBooked
	stateSignIn
	stateLoadingBookings
	stateMyBookings
	stateError
)

// ShowFeed streams show availability updates. *service.Client implements it.
type ShowFeed interface {
	SubscribeShows(ctx context.Context) (*service.Subscription[model.Show], error)
}

type Options struct {
	Source service.SeatSource
	Stream service.ChangeStream
	// Shows is optional; without it the show list refreshes only on demand.
	Shows    ShowFeed
	Session  *auth.Session
	Viewport viewport.Config
	// Authorize receives the token of an interactive sign-in so request
	// clients can attach it.
	Authorize func(token string)
	Logger    *slog.Logger
}

type appModel struct {
	opts   Options
	logger *slog.Logger

	state     appState
	lastState appState
	width     int
	height    int

	shows       []model.Show
	hidden      map[uuid.UUID]bool
	recent      map[uuid.UUID]bool
	showHidden  bool
	showList    list.Model
	bookingList list.Model
	spinner     spinner.Model
	tokenInput  textinput.Model

	show      model.Show
	seats     *seatmap.Store
	viewport  *viewport.Controller
	tracker   *gesture.Tracker
	projector *minimap.Projector
	orch      *booking.Orchestrator
	seatSub   *service.Subscription[model.ChangeEvent]
	showSub   *service.Subscription[model.Show]
	cursor    uuid.UUID
	miniDrag  bool

	status    string
	statusErr bool
	notice    string
	noticeSeq int
	confirmed confirmation
	signInMsg string

	err        error
	retry      tea.Cmd
	retryState appState
}

type confirmation struct {
	show      model.Show
	numbers   []int
	bookingID *uuid.UUID
	message   string
}

type showsMsg struct {
	shows []model.Show
	err   error
}

type showFeedMsg struct {
	sub *service.Subscription[model.Show]
	err error
}

type showUpdateMsg struct {
	sub  *service.Subscription[model.Show]
	show model.Show
}

type showFeedEndedMsg struct {
	sub *service.Subscription[model.Show]
	err error
}

type openedShowMsg struct {
	showID uuid.UUID
	sub    *service.Subscription[model.ChangeEvent]
	seats  []model.Seat
	err    error
}

type changeMsg struct {
	sub *service.Subscription[model.ChangeEvent]
	ev  model.ChangeEvent
}

type streamEndedMsg struct {
	sub *service.Subscription[model.ChangeEvent]
	err error
}

type bookingResultMsg struct {
	attempt *booking.Attempt
	result  model.BookingResult
	err     error
}

type refetchMsg struct {
	showID uuid.UUID
	seats  []model.Seat
	err    error
}

type bookingsMsg struct {
	bookings []model.Booking
	err      error
}

type noticeExpiredMsg struct {
	seq int
}

type errMsg struct {
	err        error
	retry      tea.Cmd
	retryState appState
}

func New(opts Options) tea.Model {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Session == nil {
		opts.Session = auth.NewSession(auth.Parser{})
	}
	if opts.Viewport.Validate() != nil {
		opts.Viewport = viewport.DefaultConfig()
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("5"))

	ti := textinput.New()
	ti.Placeholder = "paste a session token"
	ti.EchoMode = textinput.EchoPassword
	ti.CharLimit = 4096

	hidden, err := store.LoadHiddenShows()
	if err != nil {
		opts.Logger.Warn("load hidden shows", "err", err)
		hidden = map[uuid.UUID]bool{}
	}

	vp := viewport.New(opts.Viewport)
	return appModel{
		opts:        opts,
		logger:      opts.Logger,
		state:       stateLoadingShows,
		hidden:      hidden,
		recent:      loadRecent(),
		showList:    newList("Select Show"),
		bookingList: newList("My Bookings"),
		spinner:     s,
		tokenInput:  ti,
		viewport:    vp,
		tracker:     gesture.NewTracker(),
		projector:   minimap.New(vp),
	}
}

func loadRecent() map[uuid.UUID]bool {
	recents, err := store.LoadRecentShows()
	out := map[uuid.UUID]bool{}
	if err != nil {
		return out
	}
	for _, r := range recents {
		out[r.ID] = true
	}
	return out
}

func (m appModel) Init() tea.Cmd {
	cmds := []tea.Cmd{m.fetchShowsCmd(true), m.spinner.Tick}
	if m.opts.Shows != nil {
		cmds = append(cmds, m.subscribeShowsCmd())
	}
	return tea.Batch(cmds...)
}

func (m appModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeLists()
		return m, nil

	case tea.KeyMsg:
		if model, cmd, handled := m.handleKey(msg); handled {
			return model, cmd
		}

	case tea.MouseMsg:
		return m.handleMouse(msg)

	case spinner.TickMsg:
		if m.isLoadingState() || m.orchInFlight() {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case errMsg:
		m.err = msg.err
		m.retry = msg.retry
		m.retryState = msg.retryState
		m.lastState = recoverStateFrom(m.state)
		m.state = stateError
		return m, nil

	case showsMsg:
		if msg.err != nil {
			return m, errWithRetryCmd(msg.err, stateLoadingShows, m.fetchShowsCmd(false))
		}
		m.shows = msg.shows
		m.refreshShowList()
		if m.state == stateLoadingShows {
			m.state = stateSelectShow
		}
		return m, nil

	case showFeedMsg:
		if msg.err != nil {
			m.logger.Warn("show updates unavailable", "err", msg.err)
			return m, nil
		}
		m.showSub = msg.sub
		return m, waitForShow(msg.sub)

	case showUpdateMsg:
		if msg.sub != m.showSub {
			return m, nil
		}
		m.applyShow(msg.show)
		return m, waitForShow(msg.sub)

	case showFeedEndedMsg:
		if msg.sub == m.showSub {
			m.showSub = nil
			if msg.err != nil {
				m.logger.Warn("show updates stopped", "err", msg.err)
			}
		}
		return m, nil

	case openedShowMsg:
		return m.openedShow(msg)

	case changeMsg:
		if msg.sub != m.seatSub || m.seats == nil {
			return m, nil
		}
		cmd := m.applyChange(msg.ev)
		return m, tea.Batch(waitForChange(msg.sub), cmd)

	case streamEndedMsg:
		if msg.sub != m.seatSub {
			return m, nil
		}
		m.seatSub = nil
		if msg.err == nil {
			return m, nil
		}
		m.logger.Warn("seat stream ended", "show_id", m.show.Id, "err", msg.err)
		return m, errWithRetryCmd(fmt.Errorf("live seat updates stopped: %w", msg.err), stateLoadingSeats, m.openShowCmd(m.show.Id))

	case bookingResultMsg:
		return m.settleBooking(msg)

	case refetchMsg:
		if m.seats == nil || msg.showID != m.seats.ShowID() {
			return m, nil
		}
		if msg.err != nil {
			m.setStatus(fmt.Sprintf("Could not refresh seats: %v. Press r to retry.", msg.err), true)
			return m, nil
		}
		m.seats.Load(msg.seats)
		m.keepCursor()
		return m, nil

	case bookingsMsg:
		if msg.err != nil {
			return m, errWithRetryCmd(msg.err, stateLoadingBookings, m.fetchBookingsCmd())
		}
		m.bookingList.SetItems(buildBookingItems(msg.bookings))
		m.bookingList.Select(0)
		m.state = stateMyBookings
		return m, nil

	case noticeExpiredMsg:
		if msg.seq == m.noticeSeq {
			m.notice = ""
		}
		return m, nil
	}

	var cmd tea.Cmd
	switch m.state {
	case stateSelectShow:
		m.showList, cmd = m.showList.Update(msg)
	case stateMyBookings:
		m.bookingList, cmd = m.bookingList.Update(msg)
	case stateSignIn:
		m.tokenInput, cmd = m.tokenInput.Update(msg)
	}
	return m, cmd
}

func (m appModel) View() string {
	header := m.headerView()
	switch m.state {
	case stateLoadingShows, stateLoadingSeats, stateLoadingBookings:
		return header + "\n\n" + m.loadingView()
	case stateSelectShow:
		return header + "\n\n" + m.showList.View()
	case stateBooking:
		return header + "\n\n" + m.bookingView()
	case stateBooked:
		return header + "\n\n" + m.confirmationView()
	case stateSignIn:
		return header + "\n\n" + m.signInView()
	case stateMyBookings:
		return header + "\n\n" + m.bookingList.View()
	case stateError:
		text := lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Render(m.err.Error())
		keys := "Press esc to go back or ctrl+c to quit."
		if m.retry != nil {
			keys = "Press r to retry, esc to go back or ctrl+c to quit."
		}
		return header + "\n\n" + text + "\n\n" + hint(keys)
	default:
		return header
	}
}

func (m appModel) headerView() string {
	title := lipgloss.NewStyle().Bold(true).Render("ticketflow")
	sub := []string{}
	if identity, ok := m.opts.Session.Current(); ok {
		sub = append(sub, "Signed in: "+identity.Name())
	} else {
		sub = append(sub, "Not signed in")
	}
	if m.state == stateBooking || m.state == stateLoadingSeats {
		sub = append(sub, fmt.Sprintf("Show: %s", m.show.Name))
		if !m.show.StartTime.IsZero() {
			sub = append(sub, m.show.StartTime.Local().Format("Mon 02 Jan 15:04"))
		}
		if m.state == stateBooking {
			live := "live"
			if m.seatSub == nil {
				live = "offline"
			}
			sub = append(sub, fmt.Sprintf("Zoom: %.0f%% • %s", m.viewport.Scale()*100, live))
		}
	}
	meta := lipgloss.NewStyle().Faint(true).Render(strings.Join(sub, " • "))

	hints := "ctrl+c quit"
	switch m.state {
	case stateSelectShow:
		hints = "q quit • / filter • enter open • h hide/unhide • a show hidden • m my bookings • s sign in • r reload"
	case stateBooking:
		hints = "esc back • click/space toggle seat • hjkl move • +/- zoom • 0 reset • arrows pan • enter book • c clear • r refresh • m my bookings"
	case stateBooked:
		hints = "enter back to shows • m my bookings • q quit"
	case stateSignIn:
		hints = "enter sign in • esc cancel"
	case stateMyBookings:
		hints = "esc back • / filter • r reload • q quit"
	}
	return title + "\n" + meta + "\n" + hint(hints)
}

func (m appModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	if msg.String() == "ctrl+c" {
		m.closeSubscriptions()
		return m, tea.Quit, true
	}
	if m.state == stateSignIn {
		return m.handleSignInKey(msg)
	}
	if listPtr := m.activeList(); listPtr != nil && listPtr.FilterState() == list.Filtering {
		return m, nil, false
	}

	switch msg.String() {
	case "q":
		m.closeSubscriptions()
		return m, tea.Quit, true
	case "esc":
		if listPtr := m.activeList(); listPtr != nil && listPtr.IsFiltered() {
			listPtr.ResetFilter()
			return m, nil, true
		}
		model, cmd := m.goBack()
		return model, cmd, true
	}

	switch m.state {
	case stateSelectShow:
		return m.handleShowListKey(msg)
	case stateBooking:
		return m.handleBookingKey(msg)
	case stateBooked:
		switch msg.String() {
		case "enter":
			m.state = stateSelectShow
			return m, m.fetchShowsCmd(false), true
		case "m":
			return m.openMyBookings()
		}
	case stateMyBookings:
		if msg.String() == "r" {
			m.state = stateLoadingBookings
			return m, tea.Batch(m.fetchBookingsCmd(), m.spinner.Tick), true
		}
	case stateError:
		if msg.String() == "r" && m.retry != nil {
			retry := m.retry
			m.state = m.retryState
			m.retry = nil
			return m, tea.Batch(retry, m.spinner.Tick), true
		}
	}
	return m, nil, false
}

func (m appModel) handleShowListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	switch msg.String() {
	case "enter":
		item, ok := m.showList.SelectedItem().(showItem)
		if !ok {
			return m, nil, true
		}
		return m.openShow(item.show)
	case "h":
		return m.toggleShowHidden()
	case "a":
		m.showHidden = !m.showHidden
		m.refreshShowList()
		return m, nil, true
	case "m":
		return m.openMyBookings()
	case "s":
		return m.openSignIn("Paste a session token to sign in.")
	case "r":
		m.state = stateLoadingShows
		return m, tea.Batch(m.fetchShowsCmd(false), m.spinner.Tick), true
	}
	return m, nil, false
}

func (m appModel) handleBookingKey(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	switch msg.String() {
	case "+", "=":
		m.viewport.ZoomIn()
	case "-", "_":
		m.viewport.ZoomOut()
	case "0":
		m.viewport.Reset()
	case "left":
		m.viewport.PanBy(panStep, 0)
	case "right":
		m.viewport.PanBy(-panStep, 0)
	case "up":
		m.viewport.PanBy(0, panStep/2)
	case "down":
		m.viewport.PanBy(0, -panStep/2)
	case "h":
		m.moveCursor(0, -1)
	case "l":
		m.moveCursor(0, 1)
	case "k":
		m.moveCursor(-1, 0)
	case "j":
		m.moveCursor(1, 0)
	case " ":
		m.toggleSeat(m.cursor)
	case "c":
		if m.seats.Clear() {
			m.setStatus("Selection cleared.", false)
		}
	case "r":
		m.setStatus("Refreshing seats...", false)
		return m, m.refetchCmd(), true
	case "enter":
		return m.startBooking()
	case "m":
		if m.orchInFlight() {
			m.setStatus("Booking in progress.", true)
			return m, nil, true
		}
		if _, ok := m.opts.Session.Current(); ok {
			m.closeSeatSub()
		}
		return m.openMyBookings()
	default:
		return m, nil, false
	}
	return m, nil, true
}

func (m appModel) handleSignInKey(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	switch msg.Type {
	case tea.KeyEsc:
		m.tokenInput.Blur()
		m.state = m.lastState
		return m, nil, true
	case tea.KeyEnter:
		token := strings.TrimSpace(m.tokenInput.Value())
		identity, err := m.opts.Session.SignIn(token)
		if err != nil {
			m.signInMsg = fmt.Sprintf("Sign-in failed: %v", err)
			return m, nil, true
		}
		if err := store.SaveSession(token); err != nil {
			m.logger.Warn("save session", "err", err)
		}
		if m.opts.Authorize != nil {
			m.opts.Authorize(token)
		}
		m.tokenInput.Reset()
		m.tokenInput.Blur()
		m.state = m.lastState
		m.setStatus("Signed in as "+identity.Name()+".", false)
		return m, nil, true
	}
	return m, nil, false
}

func (m appModel) openSignIn(message string) (tea.Model, tea.Cmd, bool) {
	m.lastState = m.state
	m.state = stateSignIn
	m.signInMsg = message
	m.tokenInput.Reset()
	return m, m.tokenInput.Focus(), true
}

func (m appModel) openShow(show model.Show) (tea.Model, tea.Cmd, bool) {
	m.closeSeatSub()
	m.show = show
	m.seats = nil
	m.orch = nil
	m.cursor = uuid.Nil
	m.status = ""
	m.notice = ""
	m.viewport.Reset()
	if err := store.RememberShow(show); err != nil {
		m.logger.Warn("remember show", "show_id", show.Id, "err", err)
	}
	m.recent[show.Id] = true
	m.state = stateLoadingSeats
	return m, tea.Batch(m.openShowCmd(show.Id), m.spinner.Tick), true
}

// openedShow takes ownership of a fresh subscription. A reply for a show the
// user already left is closed right away.
func (m appModel) openedShow(msg openedShowMsg) (tea.Model, tea.Cmd) {
	if m.state != stateLoadingSeats || msg.showID != m.show.Id {
		if msg.sub != nil {
			_ = msg.sub.Close()
		}
		return m, nil
	}
	if msg.err != nil {
		return m, errWithRetryCmd(msg.err, stateLoadingSeats, m.openShowCmd(msg.showID))
	}
	if m.seats == nil || m.seats.ShowID() != msg.showID {
		m.seats = seatmap.NewStore(msg.showID)
		m.orch = booking.New(m.seats, m.opts.Source, m.opts.Source, m.opts.Session, m.logger)
	}
	m.seats.Load(msg.seats)
	m.keepCursor()
	m.seatSub = msg.sub
	m.state = stateBooking
	m.logger.Debug("seat map opened", "show_id", msg.showID, "seat_count", len(msg.seats))
	return m, waitForChange(msg.sub)
}

func (m *appModel) applyChange(ev model.ChangeEvent) tea.Cmd {
	change := m.seats.Apply(ev)
	if !change.Applied {
		m.logger.Debug("ignored change event", "show_id", ev.New.ShowId, "seat_id", ev.New.Id)
		return nil
	}
	if !change.JustBooked {
		return nil
	}
	text := fmt.Sprintf("Seat %d was just booked", change.Seat.SeatNumber)
	if change.Evicted {
		text += " and removed from your selection"
	}
	m.noticeSeq++
	m.notice = text + "."
	seq := m.noticeSeq
	return tea.Tick(noticeTimeout, func(time.Time) tea.Msg { return noticeExpiredMsg{seq: seq} })
}

func (m appModel) startBooking() (tea.Model, tea.Cmd, bool) {
	attempt, report := m.orch.Prepare(m.show.Id, m.seats.Selected())
	if attempt == nil {
		if report.Signal == booking.SignalSignInRequired {
			return m.openSignIn(report.Message)
		}
		m.setStatus(report.Message, true)
		return m, nil, true
	}
	m.setStatus(fmt.Sprintf("Booking %d seat(s)...", len(attempt.SeatIDs)), false)
	return m, tea.Batch(m.bookCmd(attempt), m.spinner.Tick), true
}

func (m appModel) settleBooking(msg bookingResultMsg) (tea.Model, tea.Cmd) {
	if m.orch == nil {
		return m, nil
	}
	numbers := m.seatNumbers(msg.attempt.SeatIDs)
	report := m.orch.Settle(msg.attempt, msg.result, msg.err)
	switch report.Signal {
	case booking.SignalConfirmed:
		m.confirmed = confirmation{
			show:      m.show,
			numbers:   numbers,
			bookingID: report.Attempt.BookingID,
			message:   report.Message,
		}
		m.closeSeatSub()
		m.status = ""
		m.state = stateBooked
		return m, nil
	default:
		m.setStatus(report.Message, true)
		if report.Refetch {
			return m, m.refetchCmd()
		}
		return m, nil
	}
}

func (m appModel) openMyBookings() (tea.Model, tea.Cmd, bool) {
	if _, ok := m.opts.Session.Current(); !ok {
		return m.openSignIn("Sign in to see your bookings.")
	}
	m.lastState = m.state
	m.state = stateLoadingBookings
	return m, tea.Batch(m.fetchBookingsCmd(), m.spinner.Tick), true
}

func (m appModel) toggleShowHidden() (tea.Model, tea.Cmd, bool) {
	item, ok := m.showList.SelectedItem().(showItem)
	if !ok {
		return m, nil, true
	}
	hidden := !m.hidden[item.show.Id]
	if err := store.SetShowHidden(item.show.Id, hidden); err != nil {
		return m, errCmd(err), true
	}
	if hidden {
		m.hidden[item.show.Id] = true
	} else {
		delete(m.hidden, item.show.Id)
	}
	m.refreshShowList()
	return m, nil, true
}

func (m *appModel) toggleSeat(id uuid.UUID) {
	if m.seats == nil || id == uuid.Nil {
		return
	}
	changed, err := m.seats.Toggle(id, m.viewport)
	if errors.Is(err, seatmap.ErrStale) {
		m.setStatus("Seat map is refreshing, try again in a moment.", true)
		return
	}
	if changed {
		m.status = ""
	}
}

func (m *appModel) moveCursor(dRow, dCol int) {
	grid := m.seats.Grid()
	if len(grid.Cells) == 0 {
		return
	}
	row, col := 0, 0
	if current, ok := m.seats.Seat(m.cursor); ok {
		for _, cell := range grid.Cells {
			if cell.ID == current.Id {
				row, col = cell.Row+dRow, cell.Col+dCol
				break
			}
		}
	}
	row = min(max(row, 0), grid.Rows-1)
	col = min(max(col, 0), grid.Columns-1)
	if cell, ok := grid.At(row, col); ok {
		m.cursor = cell.ID
	}
}

// keepCursor drops a cursor that points at a seat no longer on the map.
func (m *appModel) keepCursor() {
	if _, ok := m.seats.Seat(m.cursor); !ok {
		m.cursor = uuid.Nil
	}
}

func (m appModel) handleMouse(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	if m.state != stateBooking || m.seats == nil {
		return m, nil
	}
	points := []gesture.Point{{X: float64(msg.X), Y: float64(msg.Y)}}
	switch {
	case msg.Button == tea.MouseButtonWheelUp:
		m.viewport.Apply(m.tracker.Wheel(-1))
	case msg.Button == tea.MouseButtonWheelDown:
		m.viewport.Apply(m.tracker.Wheel(1))
	case msg.Action == tea.MouseActionPress && msg.Button == tea.MouseButtonLeft:
		if x, y, ok := m.minimapHit(msg.X, msg.Y); ok {
			m.miniDrag = m.projector.Navigate(x, y)
			return m, nil
		}
		if !m.seatArea().contains(msg.X, msg.Y) {
			return m, nil
		}
		m.viewport.Apply(m.tracker.Begin(points, m.viewport.View()))
	case msg.Action == tea.MouseActionMotion && msg.Button == tea.MouseButtonLeft:
		if m.miniDrag {
			if x, y, ok := m.minimapHit(msg.X, msg.Y); ok {
				m.projector.Navigate(x, y)
			}
			return m, nil
		}
		m.viewport.Apply(m.tracker.Move(points, m.viewport.View()))
	case msg.Action == tea.MouseActionRelease:
		if m.miniDrag {
			m.miniDrag = false
			return m, nil
		}
		d := m.tracker.Lift(nil, m.viewport.View())
		m.viewport.Apply(d)
		if d.Tap {
			if id, ok := m.seatAtPoint(msg.X, msg.Y); ok {
				m.cursor = id
				m.toggleSeat(id)
			}
		}
	}
	return m, nil
}

func (m appModel) goBack() (tea.Model, tea.Cmd) {
	switch m.state {
	case stateBooking:
		if m.orchInFlight() {
			m.setStatus("Booking in progress.", true)
			return m, nil
		}
		m.closeSeatSub()
		m.state = stateSelectShow
	case stateLoadingSeats:
		m.state = stateSelectShow
	case stateBooked:
		m.state = stateSelectShow
		return m, m.fetchShowsCmd(false)
	case stateMyBookings:
		m.state = m.lastState
		if m.state != stateBooked {
			m.state = stateSelectShow
		}
	case stateError:
		m.state = m.lastState
		m.retry = nil
	default:
		return m, nil
	}
	return m, nil
}

func (m appModel) orchInFlight() bool {
	return m.orch != nil && m.orch.InFlight()
}

func (m *appModel) setStatus(text string, isErr bool) {
	m.status = text
	m.statusErr = isErr
}

func (m *appModel) closeSeatSub() {
	if m.seatSub != nil {
		_ = m.seatSub.Close()
		m.seatSub = nil
	}
}

func (m *appModel) closeSubscriptions() {
	m.closeSeatSub()
	if m.showSub != nil {
		_ = m.showSub.Close()
		m.showSub = nil
	}
}

func (m *appModel) applyShow(show model.Show) {
	i := slices.IndexFunc(m.shows, func(s model.Show) bool { return s.Id == show.Id })
	if i >= 0 {
		m.shows[i] = show
	} else {
		m.shows = append(m.shows, show)
		slices.SortStableFunc(m.shows, func(a, b model.Show) int { return a.StartTime.Compare(b.StartTime) })
	}
	if m.show.Id == show.Id {
		m.show = show
	}
	m.refreshShowList()
}

func (m *appModel) refreshShowList() {
	var selected uuid.UUID
	if item, ok := m.showList.SelectedItem().(showItem); ok {
		selected = item.show.Id
	}
	items := make([]list.Item, 0, len(m.shows))
	index := 0
	for _, show := range m.shows {
		hidden := m.hidden[show.Id]
		if hidden && !m.showHidden {
			continue
		}
		if show.Id == selected {
			index = len(items)
		}
		items = append(items, showItem{show: show, hidden: hidden, recent: m.recent[show.Id]})
	}
	m.showList.SetItems(items)
	m.showList.Select(index)
	if m.showHidden {
		m.showList.Title = "Select Show • including hidden"
	} else {
		m.showList.Title = "Select Show"
	}
}

func (m appModel) seatNumbers(ids []uuid.UUID) []int {
	numbers := make([]int, 0, len(ids))
	for _, id := range ids {
		if seat, ok := m.seats.Seat(id); ok {
			numbers = append(numbers, seat.SeatNumber)
		}
	}
	slices.Sort(numbers)
	return numbers
}

func (m appModel) seatArea() seatArea {
	width, height := m.width, m.height
	if width == 0 {
		width = 80
	}
	if height == 0 {
		height = 24
	}
	top := lipgloss.Height(m.headerView()) + 1 + stageHeight
	return seatArea{x: 0, y: top, w: width, h: max(6, height-top-footerHeight)}
}

func (m appModel) bookingView() string {
	area := m.seatArea()
	grid := m.seats.Grid()
	var b strings.Builder
	b.WriteString(m.stageView(area.w))
	b.WriteString("\n")
	if len(grid.Cells) == 0 {
		b.WriteString("No seats for this show.")
	} else {
		b.WriteString(m.renderSeatCanvas(grid, area))
	}
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(m.summaryLine())
	b.WriteString("\n")
	b.WriteString(m.legendView())
	return b.String()
}

func (m appModel) statusLine() string {
	switch {
	case m.orchInFlight():
		return m.spinner.View() + " " + m.status
	case m.status != "" && m.statusErr:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Render(m.status)
	case m.status != "":
		return m.status
	case m.notice != "":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Render(m.notice)
	case m.seats.Stale():
		return hint("Refreshing seats...")
	default:
		return ""
	}
}

func (m appModel) summaryLine() string {
	numbers := m.seats.SelectedNumbers()
	available := fmt.Sprintf("%d/%d available", m.seats.Available(), m.seats.Len())
	if len(numbers) == 0 {
		return hint("No seats selected • " + available)
	}
	labels := make([]string, len(numbers))
	for i, n := range numbers {
		labels[i] = strconv.Itoa(n)
	}
	return fmt.Sprintf("Selected seats: %s • Total: %d • %s", strings.Join(labels, ", "), len(numbers), hint(available))
}

func (m appModel) confirmationView() string {
	chip := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("0")).
		Background(lipgloss.Color("42")).
		Padding(0, 2)

	labels := make([]string, len(m.confirmed.numbers))
	for i, n := range m.confirmed.numbers {
		labels[i] = strconv.Itoa(n)
	}
	lines := []string{
		chip.Render("BOOKED"),
		"",
		lipgloss.NewStyle().Bold(true).Render(m.confirmed.message),
		"",
		fmt.Sprintf("Show: %s", m.confirmed.show.Name),
	}
	if !m.confirmed.show.StartTime.IsZero() {
		lines = append(lines, fmt.Sprintf("Starts: %s", m.confirmed.show.StartTime.Local().Format("Mon 02 Jan 2006 15:04")))
	}
	lines = append(lines, fmt.Sprintf("Seats: %s", strings.Join(labels, ", ")))
	if m.confirmed.bookingID != nil {
		lines = append(lines, hint("Booking "+m.confirmed.bookingID.String()))
	}

	panel := lipgloss.NewStyle().
		Padding(1, 3).
		Border(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("42")).
		MarginTop(1).
		Render(strings.Join(lines, "\n"))
	if m.width > 0 {
		panel = lipgloss.PlaceHorizontal(m.width, lipgloss.Center, panel)
	}
	return panel
}

func (m appModel) signInView() string {
	lines := []string{
		m.signInMsg,
		"",
		m.tokenInput.View(),
		"",
		hint("Mint a development token with: ticketflow devserver token --user <uuid>"),
	}
	return strings.Join(lines, "\n")
}

func (m *appModel) activeList() *list.Model {
	switch m.state {
	case stateSelectShow:
		return &m.showList
	case stateMyBookings:
		return &m.bookingList
	default:
		return nil
	}
}

func (m appModel) isLoadingState() bool {
	return m.state == stateLoadingShows ||
		m.state == stateLoadingSeats ||
		m.state == stateLoadingBookings
}

func (m appModel) loadingView() string {
	title := "Loading"
	switch m.state {
	case stateLoadingShows:
		title = "Loading shows"
	case stateLoadingSeats:
		title = "Loading seat map"
	case stateLoadingBookings:
		title = "Loading your bookings"
	}
	return fmt.Sprintf("%s %s\n\n%s", m.spinner.View(), title, hint("Fetching data..."))
}

func (m *appModel) resizeLists() {
	if m.width == 0 || m.height == 0 {
		return
	}
	h := m.height - 5
	if h < 6 {
		h = 6
	}
	m.showList.SetSize(m.width, h)
	m.bookingList.SetSize(m.width, h)
	m.tokenInput.Width = max(20, m.width-4)
}

func newList(title string) list.Model {
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	l := list.New([]list.Item{}, delegate, 0, 0)
	l.Title = title
	l.Filter = caseInsensitiveFilter
	l.SetFilteringEnabled(true)
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.DisableQuitKeybindings()
	return l
}

func hint(text string) string {
	return lipgloss.NewStyle().Faint(true).Render(text)
}

func errCmd(err error) tea.Cmd {
	return func() tea.Msg {
		return errMsg{err: err}
	}
}

func errWithRetryCmd(err error, retryState appState, retry tea.Cmd) tea.Cmd {
	return func() tea.Msg {
		return errMsg{err: err, retry: retry, retryState: retryState}
	}
}

func recoverStateFrom(state appState) appState {
	switch state {
	case stateLoadingShows, stateLoadingSeats, stateBooking, stateError:
		return stateSelectShow
	case stateLoadingBookings:
		return stateSelectShow
	default:
		return state
	}
}

func caseInsensitiveFilter(term string, targets []string) []list.Rank {
	term = strings.ToLower(term)
	lower := make([]string, len(targets))
	for i, t := range targets {
		lower[i] = strings.ToLower(t)
	}
	return list.DefaultFilter(term, lower)
}

func (m appModel) fetchShowsCmd(useCache bool) tea.Cmd {
	source, logger := m.opts.Source, m.logger
	return func() tea.Msg {
		if useCache {
			if cached, fresh, err := store.LoadShowCache(); err == nil && fresh && len(cached) > 0 {
				return showsMsg{shows: cached}
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		shows, err := source.FetchShows(ctx)
		if err != nil {
			return showsMsg{err: err}
		}
		if err := store.SaveShowCache(shows); err != nil {
			logger.Warn("save show cache", "err", err)
		}
		return showsMsg{shows: shows}
	}
}

func (m appModel) subscribeShowsCmd() tea.Cmd {
	feed := m.opts.Shows
	return func() tea.Msg {
		sub, err := feed.SubscribeShows(context.Background())
		return showFeedMsg{sub: sub, err: err}
	}
}

func waitForShow(sub *service.Subscription[model.Show]) tea.Cmd {
	return func() tea.Msg {
		show, ok := <-sub.Events()
		if !ok {
			return showFeedEndedMsg{sub: sub, err: sub.Err()}
		}
		return showUpdateMsg{sub: sub, show: show}
	}
}

// openShowCmd subscribes before fetching so no change committed between the
// two is missed; events already reflected in the snapshot re-apply as no-ops.
func (m appModel) openShowCmd(showID uuid.UUID) tea.Cmd {
	stream, source := m.opts.Stream, m.opts.Source
	return func() tea.Msg {
		sub, err := subscribeWithin(stream, showID, subscribeTimeout)
		if err != nil {
			return openedShowMsg{showID: showID, err: fmt.Errorf("subscribe to seat changes: %w", err)}
		}
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		seats, err := source.FetchSeats(ctx, showID)
		if err != nil {
			_ = sub.Close()
			return openedShowMsg{showID: showID, err: err}
		}
		return openedShowMsg{showID: showID, sub: sub, seats: seats}
	}
}

// subscribeWithin gives up on a subscribe that has not returned in time. A
// subscription that arrives late is closed.
func subscribeWithin(stream service.ChangeStream, showID uuid.UUID, timeout time.Duration) (*service.Subscription[model.ChangeEvent], error) {
	type result struct {
		sub *service.Subscription[model.ChangeEvent]
		err error
	}
	done := make(chan result, 1)
	go func() {
		sub, err := stream.Subscribe(context.Background(), showID)
		done <- result{sub: sub, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.sub, r.err
	case <-timer.C:
		go func() {
			if r := <-done; r.sub != nil {
				_ = r.sub.Close()
			}
		}()
		return nil, fmt.Errorf("timed out after %s", timeout)
	}
}

func waitForChange(sub *service.Subscription[model.ChangeEvent]) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-sub.Events()
		if !ok {
			return streamEndedMsg{sub: sub, err: sub.Err()}
		}
		return changeMsg{sub: sub, ev: ev}
	}
}

// bookCmd runs the booking call off the event loop. It carries no timeout of
// its own.
func (m appModel) bookCmd(a *booking.Attempt) tea.Cmd {
	orch := m.orch
	return func() tea.Msg {
		result, err := orch.Execute(context.Background(), a)
		return bookingResultMsg{attempt: a, result: result, err: err}
	}
}

func (m appModel) refetchCmd() tea.Cmd {
	source, showID := m.opts.Source, m.show.Id
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		seats, err := source.FetchSeats(ctx, showID)
		return refetchMsg{showID: showID, seats: seats, err: err}
	}
}

func (m appModel) fetchBookingsCmd() tea.Cmd {
	source, session := m.opts.Source, m.opts.Session
	return func() tea.Msg {
		identity, ok := session.Current()
		if !ok {
			return bookingsMsg{err: booking.ErrSignInRequired}
		}
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		bookings, err := source.FetchBookings(ctx, identity.UserID)
		return bookingsMsg{bookings: bookings, err: err}
	}
}

type showItem struct {
	show   model.Show
	hidden bool
	recent bool
}

func (i showItem) Title() string {
	title := i.show.Name
	if i.recent {
		title = "★ " + title
	}
	return title
}

func (i showItem) Description() string {
	parts := []string{}
	if !i.show.StartTime.IsZero() {
		parts = append(parts, i.show.StartTime.Local().Format("Mon 02 Jan 15:04"))
	}
	if i.show.SoldOut() {
		parts = append(parts, "sold out")
	} else {
		parts = append(parts, fmt.Sprintf("%d/%d available", i.show.AvailableSeats, i.show.TotalSeats))
	}
	if i.hidden {
		parts = append(parts, "hidden")
	}
	return strings.Join(parts, " • ")
}

func (i showItem) FilterValue() string { return i.show.Name }

type bookingItem struct {
	booking model.Booking
}

func (i bookingItem) Title() string {
	if i.booking.Show != nil {
		return i.booking.Show.Name
	}
	return "Show " + i.booking.ShowId.String()[:8]
}

func (i bookingItem) Description() string {
	parts := []string{statusBadge(i.booking.Status), fmt.Sprintf("%d seat(s)", len(i.booking.SeatIds))}
	if i.booking.Show != nil && !i.booking.Show.StartTime.IsZero() {
		parts = append(parts, "starts "+i.booking.Show.StartTime.Local().Format("Mon 02 Jan 15:04"))
	}
	parts = append(parts, "booked "+i.booking.CreatedAt.Local().Format("02 Jan 15:04"))
	return strings.Join(parts, " • ")
}

func (i bookingItem) FilterValue() string { return i.Title() }

func buildBookingItems(bookings []model.Booking) []list.Item {
	items := make([]list.Item, 0, len(bookings))
	for _, b := range bookings {
		items = append(items, bookingItem{booking: b})
	}
	return items
}

func statusBadge(status model.BookingStatus) string {
	color := "3"
	switch status {
	case model.BookingConfirmed:
		color = "2"
	case model.BookingFailed:
		color = "1"
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Bold(true).Render(string(status))
}
