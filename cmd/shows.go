package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"golang.org/x/exp/maps"

	"ticketflow-cli/model"
	"ticketflow-cli/seatmap"
	"ticketflow-cli/service"
)

const dateLayout = "Mon Jan 2"

var errSignedOut = errors.New("not signed in: run `ticketflow login` first")

func newShowsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "shows",
		Short: "List upcoming shows",
		Long:  `List upcoming shows with their start time and remaining seats`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openBackend(cmd.Context(), e.cfg, e.logger)
			if err != nil {
				return err
			}
			defer b.Close()

			shows, err := b.source.FetchShows(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetch shows: %w", err)
			}
			if len(shows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No shows scheduled.")
				return nil
			}
			renderShows(cmd.OutOrStdout(), shows)
			return nil
		},
	}
}

func newSeatsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "seats <show>",
		Short: "Print the seat map of a show",
		Long:  `Print the seat map of a show, by id or by name`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := openBackend(ctx, e.cfg, e.logger)
			if err != nil {
				return err
			}
			defer b.Close()

			show, err := resolveShow(ctx, b.source, args[0])
			if err != nil {
				return err
			}
			store, err := loadSeats(ctx, b.source, show.Id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s • %s\n", show.Name, show.StartTime.Local().Format(dateLayout+" 15:04"))
			renderSeatGrid(out, store.Grid())
			fmt.Fprintf(out, "%d/%d available\n", store.Available(), store.Len())
			return nil
		},
	}
}

func newBookingsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "bookings",
		Short: "List your bookings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			identity, ok := e.session().Current()
			if !ok {
				return errSignedOut
			}
			b, err := openBackend(ctx, e.cfg, e.logger)
			if err != nil {
				return err
			}
			defer b.Close()

			bookings, err := b.source.FetchBookings(ctx, identity.UserID)
			if err != nil {
				return fmt.Errorf("fetch bookings: %w", err)
			}
			if len(bookings) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No bookings yet.")
				return nil
			}
			renderBookings(cmd.OutOrStdout(), bookings, seatNumbersFor(ctx, b.source, bookings))
			return nil
		},
	}
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.Style().Options.SeparateRows = true
	return t
}

// renderShows groups shows by day.
func renderShows(w io.Writer, shows []model.Show) {
	rowConfigAutoMerge := table.RowConfig{AutoMerge: true}
	t := newTable(w)
	t.AppendHeader(table.Row{"Day", "Time", "Show", "Seats", "ID"}, rowConfigAutoMerge)
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, AutoMerge: true},
		{Number: 3, WidthMax: 28},
		{Number: 4, Align: text.AlignRight},
	})
	for _, show := range shows {
		start := show.StartTime.Local()
		t.AppendRow(table.Row{
			start.Format(dateLayout),
			start.Format("15:04"),
			show.Name,
			availability(show),
			show.Id.String(),
		}, rowConfigAutoMerge)
	}
	t.Render()
}

func availability(show model.Show) string {
	if show.SoldOut() {
		return "sold out"
	}
	return fmt.Sprintf("%d/%d", show.AvailableSeats, show.TotalSeats)
}

// renderSeatGrid prints one table row per grid row, using the same column
// banding as the interactive seat map.
func renderSeatGrid(w io.Writer, grid seatmap.Grid) {
	t := newTable(w)
	t.Style().Options.SeparateRows = false
	header := table.Row{""}
	for col := 1; col <= grid.Columns; col++ {
		header = append(header, col)
	}
	t.AppendHeader(header)

	for row := 0; row < grid.Rows; row++ {
		r := table.Row{string(rune('A' + row%26))}
		for col := 0; col < grid.Columns; col++ {
			cell, ok := grid.At(row, col)
			if !ok {
				r = append(r, "")
				continue
			}
			r = append(r, seatLabel(cell))
		}
		t.AppendRow(r)
	}
	t.Render()
}

func seatLabel(cell seatmap.Cell) string {
	if cell.Status == seatmap.Booked {
		return "xx"
	}
	return strconv.Itoa(cell.Number)
}

func renderBookings(w io.Writer, bookings []model.Booking, numbers map[uuid.UUID]int) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Show", "Starts", "Seats", "Status", "Booked"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMax: 28},
	})
	for _, b := range bookings {
		name, starts := b.ShowId.String(), ""
		if b.Show != nil {
			name = b.Show.Name
			starts = b.Show.StartTime.Local().Format(dateLayout + " 15:04")
		}
		t.AppendRow(table.Row{name, starts, seatList(b.SeatIds, numbers), string(b.Status), b.CreatedAt.Local().Format(time.DateTime)})
	}
	t.Render()
}

func seatList(ids []uuid.UUID, numbers map[uuid.UUID]int) string {
	labels := make([]int, 0, len(ids))
	for _, id := range ids {
		if n, ok := numbers[id]; ok {
			labels = append(labels, n)
		}
	}
	if len(labels) < len(ids) {
		return fmt.Sprintf("%d seat(s)", len(ids))
	}
	slices.Sort(labels)
	return joinNumbers(labels)
}

// seatNumbersFor looks up seat numbers for every show that has bookings.
// Shows that fail to load fall back to a seat count.
func seatNumbersFor(ctx context.Context, source service.SeatSource, bookings []model.Booking) map[uuid.UUID]int {
	shows := map[uuid.UUID]struct{}{}
	for _, b := range bookings {
		shows[b.ShowId] = struct{}{}
	}
	numbers := map[uuid.UUID]int{}
	for _, showID := range maps.Keys(shows) {
		seats, err := source.FetchSeats(ctx, showID)
		if err != nil {
			continue
		}
		for _, seat := range seats {
			numbers[seat.Id] = seat.SeatNumber
		}
	}
	return numbers
}

func loadSeats(ctx context.Context, source service.SeatSource, showID uuid.UUID) (*seatmap.Store, error) {
	seats, err := source.FetchSeats(ctx, showID)
	if err != nil {
		return nil, fmt.Errorf("fetch seats: %w", err)
	}
	store := seatmap.NewStore(showID)
	store.Load(seats)
	return store, nil
}

// resolveShow accepts a show id or a case-insensitive name.
func resolveShow(ctx context.Context, source service.SeatSource, arg string) (model.Show, error) {
	if id, err := uuid.Parse(arg); err == nil {
		show, err := source.FetchShow(ctx, id)
		if err != nil {
			return model.Show{}, fmt.Errorf("fetch show: %w", err)
		}
		return show, nil
	}

	shows, err := source.FetchShows(ctx)
	if err != nil {
		return model.Show{}, fmt.Errorf("fetch shows: %w", err)
	}
	var matches []model.Show
	for _, show := range shows {
		if strings.EqualFold(show.Name, arg) {
			return show, nil
		}
		if strings.Contains(strings.ToLower(show.Name), strings.ToLower(arg)) {
			matches = append(matches, show)
		}
	}
	switch len(matches) {
	case 0:
		return model.Show{}, fmt.Errorf("no show matches %q", arg)
	case 1:
		return matches[0], nil
	default:
		return model.Show{}, fmt.Errorf("%q matches %d shows, use the show id", arg, len(matches))
	}
}

// promptShow asks the user to pick one of the shows that still has seats.
func promptShow(ctx context.Context, source service.SeatSource) (model.Show, error) {
	shows, err := source.FetchShows(ctx)
	if err != nil {
		return model.Show{}, fmt.Errorf("fetch shows: %w", err)
	}
	showByLabel := make(map[string]model.Show)
	for _, show := range shows {
		if show.SoldOut() {
			continue
		}
		label := fmt.Sprintf("%s • %s • %s", show.Name, show.StartTime.Local().Format(dateLayout+" 15:04"), availability(show))
		showByLabel[label] = show
	}
	if len(showByLabel) == 0 {
		return model.Show{}, errors.New("no shows with available seats")
	}

	labels := maps.Keys(showByLabel)
	slices.SortFunc(labels, func(a, b string) int {
		return showByLabel[a].StartTime.Compare(showByLabel[b].StartTime)
	})
	selectShow := promptui.Select{
		Label: "Select Show",
		Items: labels,
		Size:  10,
		Searcher: func(input string, index int) bool {
			return strings.Contains(strings.ToLower(labels[index]), strings.ToLower(input))
		},
	}
	_, label, err := selectShow.Run()
	if err != nil {
		return model.Show{}, err
	}
	show, ok := showByLabel[label]
	if !ok {
		return model.Show{}, errors.New("invalid show")
	}
	return show, nil
}
