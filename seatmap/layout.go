package seatmap

import "github.com/google/uuid"

// Columns returns the grid column count for a seat count: small maps stay
// narrow, large maps stop at ten columns.
func Columns(count int) int {
	switch {
	case count <= 0:
		return 0
	case count <= 20:
		return min(5, count)
	case count <= 40:
		return 8
	default:
		return 10
	}
}

// Cell is one seat placed on the grid, with its derived status.
type Cell struct {
	ID     uuid.UUID
	Number int
	Row    int
	Col    int
	Status Status
}

// Grid is the renderable projection of the store. Main grid and minimap both
// draw from it so their positions and states always agree.
type Grid struct {
	Columns int
	Rows    int
	Cells   []Cell
}

func (s *Store) Grid() Grid {
	cols := Columns(len(s.seats))
	g := Grid{Columns: cols}
	if cols == 0 {
		return g
	}
	g.Rows = (len(s.seats) + cols - 1) / cols
	g.Cells = make([]Cell, 0, len(s.seats))
	for i, seat := range s.seats {
		g.Cells = append(g.Cells, Cell{
			ID:     seat.Id,
			Number: seat.SeatNumber,
			Row:    i / cols,
			Col:    i % cols,
			Status: s.Status(seat.Id),
		})
	}
	return g
}

// At returns the cell at a grid position.
func (g Grid) At(row, col int) (Cell, bool) {
	if row < 0 || col < 0 || col >= g.Columns {
		return Cell{}, false
	}
	i := row*g.Columns + col
	if i >= len(g.Cells) {
		return Cell{}, false
	}
	return g.Cells[i], true
}
