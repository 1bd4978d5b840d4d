package cmd

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"ticketflow-cli/booking"
	"ticketflow-cli/model"
	"ticketflow-cli/seatmap"
)

func newBookCmd(e *env) *cobra.Command {
	var yes bool
	c := &cobra.Command{
		Use:   "book [show] [seat numbers...]",
		Short: "Book seats without opening the seat map",
		Long: `Book seats by number. Without a show you pick one from a list; without
seat numbers you are asked for them. Seat numbers may be given as a list or
as ranges, e.g. "4 5 9-11" or "4,5".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			session := e.session()
			if _, ok := session.Current(); !ok {
				return errSignedOut
			}
			b, err := openBackend(ctx, e.cfg, e.logger)
			if err != nil {
				return err
			}
			defer b.Close()

			var show model.Show
			if len(args) == 0 {
				show, err = promptShow(ctx, b.source)
			} else {
				show, err = resolveShow(ctx, b.source, args[0])
			}
			if err != nil {
				return err
			}

			store, err := loadSeats(ctx, b.source, show.Id)
			if err != nil {
				return err
			}
			var numbers []int
			if len(args) > 1 {
				numbers, err = parseSeatNumbers(args[1:], highestSeat(store))
			} else {
				numbers, err = promptSeatNumbers(store)
			}
			if err != nil {
				return err
			}
			if err := selectNumbers(store, numbers); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !yes {
				confirm := promptui.Prompt{
					Label:     fmt.Sprintf("Book seat(s) %s for %s", joinNumbers(store.SelectedNumbers()), show.Name),
					IsConfirm: true,
				}
				if _, err := confirm.Run(); err != nil {
					fmt.Fprintln(out, "Cancelled.")
					return nil
				}
			}

			orch := booking.New(store, b.source, b.source, session, e.logger)
			report := orch.AttemptBooking(ctx, show.Id, store.Selected())
			return printReport(out, report)
		},
	}
	c.Flags().BoolVarP(&yes, "yes", "y", false, "book without asking for confirmation")
	return c
}

func printReport(out io.Writer, report booking.Report) error {
	switch report.Signal {
	case booking.SignalConfirmed:
		fmt.Fprintln(out, report.Message)
		if a := report.Attempt; a != nil && a.BookingID != nil {
			fmt.Fprintf(out, "Booking %s\n", a.BookingID)
		}
		return nil
	case booking.SignalSignInRequired:
		return errSignedOut
	default:
		if report.Err != nil && report.Message == "" {
			return report.Err
		}
		return errors.New(report.Message)
	}
}

// parseSeatNumbers accepts numbers separated by spaces or commas and
// inclusive ranges like 9-11. Duplicates collapse. Ranges may not end past
// highest.
func parseSeatNumbers(args []string, highest int) ([]int, error) {
	seen := map[int]bool{}
	var numbers []int
	add := func(n int) {
		if !seen[n] {
			seen[n] = true
			numbers = append(numbers, n)
		}
	}
	for _, arg := range args {
		for _, field := range strings.FieldsFunc(arg, func(r rune) bool { return r == ',' || r == ' ' }) {
			lo, hi, isRange := strings.Cut(field, "-")
			from, err := strconv.Atoi(lo)
			if err != nil || from < 1 {
				return nil, fmt.Errorf("invalid seat number %q", field)
			}
			to := from
			if isRange {
				to, err = strconv.Atoi(hi)
				if err != nil || to < from {
					return nil, fmt.Errorf("invalid seat range %q", field)
				}
				if to > highest {
					return nil, fmt.Errorf("seat range %q goes past the last seat (%d)", field, highest)
				}
			}
			for n := from; n <= to; n++ {
				add(n)
			}
		}
	}
	if len(numbers) == 0 {
		return nil, errors.New("no seat numbers given")
	}
	return numbers, nil
}

func promptSeatNumbers(store *seatmap.Store) ([]int, error) {
	prompt := promptui.Prompt{
		Label: fmt.Sprintf("Seat numbers (%d/%d available)", store.Available(), store.Len()),
		Validate: func(input string) error {
			_, err := parseSeatNumbers([]string{input}, highestSeat(store))
			return err
		},
	}
	input, err := prompt.Run()
	if err != nil {
		return nil, err
	}
	return parseSeatNumbers([]string{input}, highestSeat(store))
}

func highestSeat(store *seatmap.Store) int {
	seats := store.Seats()
	if len(seats) == 0 {
		return 0
	}
	return seats[len(seats)-1].SeatNumber
}

// selectNumbers puts the seats with the given numbers into the selection.
// Unknown or booked seats are reported together.
func selectNumbers(store *seatmap.Store, numbers []int) error {
	byNumber := make(map[int]uuid.UUID, store.Len())
	for _, seat := range store.Seats() {
		byNumber[seat.SeatNumber] = seat.Id
	}
	var unknown, booked []int
	for _, n := range numbers {
		id, ok := byNumber[n]
		switch {
		case !ok:
			unknown = append(unknown, n)
		case store.Status(id) == seatmap.Booked:
			booked = append(booked, n)
		case !store.IsSelected(id):
			if _, err := store.Toggle(id, nil); err != nil {
				return err
			}
		}
	}
	var errs []error
	if len(unknown) > 0 {
		errs = append(errs, fmt.Errorf("no such seat(s): %s", joinNumbers(unknown)))
	}
	if len(booked) > 0 {
		errs = append(errs, fmt.Errorf("already booked: %s", joinNumbers(booked)))
	}
	if err := errors.Join(errs...); err != nil {
		store.Clear()
		return err
	}
	return nil
}

func joinNumbers(numbers []int) string {
	parts := make([]string, len(numbers))
	for i, n := range numbers {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ", ")
}
