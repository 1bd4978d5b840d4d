package tui

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"ticketflow-cli/gesture"
	"ticketflow-cli/minimap"
	"ticketflow-cli/seatmap"
)

// Seat slots at scale 1, in terminal cells.
const (
	slotWidth  = 5.0
	slotHeight = 2.0
)

type cellKind int

const (
	kindBlank cellKind = iota
	kindAvailable
	kindSelected
	kindBooked
	kindFrame
	kindMiniAvailable
	kindMiniSelected
	kindMiniBooked
)

type canvasCell struct {
	r    rune
	kind cellKind
	// lit marks minimap cells inside the visible-region rectangle.
	lit   bool
	focus bool
}

var (
	seatStyleAvailable = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	seatStyleSelected  = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	seatStyleBooked    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	frameStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	miniLitStyle       = lipgloss.NewStyle().Background(lipgloss.Color("238"))
)

// seatArea is the on-screen box the seat map is drawn into. x and y are the
// terminal coordinates of its top-left cell.
type seatArea struct {
	x, y int
	w, h int
}

func (a seatArea) contains(x, y int) bool {
	return x >= a.x && y >= a.y && x < a.x+a.w && y < a.y+a.h
}

func (a seatArea) size() minimap.Size {
	return minimap.Size{W: float64(a.w), H: float64(a.h)}
}

func contentSize(g seatmap.Grid) minimap.Size {
	return minimap.Size{W: float64(g.Columns) * slotWidth, H: float64(g.Rows) * slotHeight}
}

// seatScreen maps the center of a grid slot to area-local coordinates. At
// scale 1 with no offset the content sits centered in the area.
func seatScreen(row, col int, scale float64, offset gesture.Point, area seatArea, content minimap.Size) (float64, float64) {
	px := (float64(col)+0.5)*slotWidth - content.W/2
	py := (float64(row)+0.5)*slotHeight - content.H/2
	return float64(area.w)/2 + offset.X + scale*px, float64(area.h)/2 + offset.Y + scale*py
}

// slotAt is the inverse of seatScreen for area-local coordinates.
func slotAt(x, y float64, scale float64, offset gesture.Point, area seatArea, content minimap.Size) (int, int) {
	px := (x-float64(area.w)/2-offset.X)/scale + content.W/2
	py := (y-float64(area.h)/2-offset.Y)/scale + content.H/2
	if px < 0 || py < 0 {
		return -1, -1
	}
	return int(py / slotHeight), int(px / slotWidth)
}

// miniBox is where the minimap overlay sits inside the seat area, frame
// included.
type miniBox struct {
	x, y int
	w, h int
}

func (b miniBox) inner(x, y int) (int, int, bool) {
	ix, iy := x-b.x-1, y-b.y-1
	if ix < 0 || iy < 0 || ix >= b.w-2 || iy >= b.h-2 {
		return 0, 0, false
	}
	return ix, iy, true
}

func miniLayout(g seatmap.Grid, area seatArea) (miniBox, bool) {
	w, h := g.Columns+2, g.Rows+2
	if g.Columns == 0 || w+2 > area.w || h+1 > area.h {
		return miniBox{}, false
	}
	return miniBox{x: area.w - w - 1, y: 0, w: w, h: h}, true
}

type seatCanvas struct {
	w, h  int
	cells [][]canvasCell
}

func newSeatCanvas(w, h int) *seatCanvas {
	c := &seatCanvas{w: w, h: h, cells: make([][]canvasCell, h)}
	for y := range c.cells {
		c.cells[y] = make([]canvasCell, w)
		for x := range c.cells[y] {
			c.cells[y][x] = canvasCell{r: ' '}
		}
	}
	return c
}

func (c *seatCanvas) put(x, y int, r rune, kind cellKind) {
	if x < 0 || y < 0 || x >= c.w || y >= c.h {
		return
	}
	c.cells[y][x] = canvasCell{r: r, kind: kind}
}

func (c *seatCanvas) text(x, y int, s string, kind cellKind, focus bool) {
	for i, r := range []rune(s) {
		c.put(x+i, y, r, kind)
		if focus && x+i >= 0 && y >= 0 && x+i < c.w && y < c.h {
			c.cells[y][x+i].focus = true
		}
	}
}

func (c *seatCanvas) String() string {
	var b strings.Builder
	for y, row := range c.cells {
		start := 0
		for x := 1; x <= len(row); x++ {
			if x < len(row) && row[x].kind == row[start].kind && row[x].lit == row[start].lit && row[x].focus == row[start].focus {
				continue
			}
			var run strings.Builder
			for _, cell := range row[start:x] {
				run.WriteRune(cell.r)
			}
			b.WriteString(styleFor(row[start]).Render(run.String()))
			start = x
		}
		if y < len(c.cells)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func styleFor(cell canvasCell) lipgloss.Style {
	var style lipgloss.Style
	switch cell.kind {
	case kindAvailable, kindMiniAvailable:
		style = seatStyleAvailable
	case kindSelected, kindMiniSelected:
		style = seatStyleSelected
	case kindBooked, kindMiniBooked:
		style = seatStyleBooked
	case kindFrame:
		style = frameStyle
	default:
		style = lipgloss.NewStyle()
	}
	if cell.lit {
		style = style.Inherit(miniLitStyle)
	}
	if cell.focus {
		style = style.Reverse(true)
	}
	return style
}

func seatKind(s seatmap.Status) cellKind {
	switch s {
	case seatmap.Selected:
		return kindSelected
	case seatmap.Booked:
		return kindBooked
	default:
		return kindAvailable
	}
}

// seatToken is the label drawn for a seat. Numbers appear once the slot is
// wide enough to hold them.
func seatToken(cell seatmap.Cell, scale float64) string {
	if scale*slotWidth >= 4 {
		label := strconv.Itoa(cell.Number)
		switch cell.Status {
		case seatmap.Selected:
			return "<" + label + ">"
		case seatmap.Booked:
			return strings.Repeat("x", len(label)+2)
		default:
			return "[" + label + "]"
		}
	}
	switch cell.Status {
	case seatmap.Selected:
		return "<>"
	case seatmap.Booked:
		return "XX"
	default:
		return "[]"
	}
}

// renderSeatCanvas draws the grid through the viewport transform and, when
// zoomed far enough, the minimap overlay with the visible region lit.
func (m appModel) renderSeatCanvas(grid seatmap.Grid, area seatArea) string {
	canvas := newSeatCanvas(area.w, area.h)
	content := contentSize(grid)
	state := m.viewport.State()
	m.projector.Resize(area.size(), content)

	for _, cell := range grid.Cells {
		cx, cy := seatScreen(cell.Row, cell.Col, state.Scale, state.Offset, area, content)
		token := seatToken(cell, state.Scale)
		x := int(math.Round(cx - float64(len(token))/2))
		canvas.text(x, int(math.Floor(cy)), token, seatKind(cell.Status), cell.ID == m.cursor)
	}

	if m.projector.Active() {
		if box, ok := miniLayout(grid, area); ok {
			drawMinimap(canvas, grid, box, m.projector.VisibleRect())
		}
	}
	return canvas.String()
}

func drawMinimap(canvas *seatCanvas, grid seatmap.Grid, box miniBox, view minimap.Rect) {
	right, bottom := box.x+box.w-1, box.y+box.h-1
	for x := box.x; x <= right; x++ {
		canvas.put(x, box.y, '─', kindFrame)
		canvas.put(x, bottom, '─', kindFrame)
	}
	for y := box.y; y <= bottom; y++ {
		canvas.put(box.x, y, '│', kindFrame)
		canvas.put(right, y, '│', kindFrame)
	}
	canvas.put(box.x, box.y, '┌', kindFrame)
	canvas.put(right, box.y, '┐', kindFrame)
	canvas.put(box.x, bottom, '└', kindFrame)
	canvas.put(right, bottom, '┘', kindFrame)

	for y := 0; y < grid.Rows; y++ {
		for x := 0; x < grid.Columns; x++ {
			canvas.put(box.x+1+x, box.y+1+y, ' ', kindBlank)
		}
	}
	for _, cell := range grid.Cells {
		r, kind := '·', kindMiniAvailable
		switch cell.Status {
		case seatmap.Selected:
			r, kind = 'o', kindMiniSelected
		case seatmap.Booked:
			r, kind = 'x', kindMiniBooked
		}
		canvas.put(box.x+1+cell.Col, box.y+1+cell.Row, r, kind)
	}

	x0 := int(math.Floor(view.X / 100 * float64(grid.Columns)))
	x1 := int(math.Ceil((view.X + view.W) / 100 * float64(grid.Columns)))
	y0 := int(math.Floor(view.Y / 100 * float64(grid.Rows)))
	y1 := int(math.Ceil((view.Y + view.H) / 100 * float64(grid.Rows)))
	for y := max(0, y0); y < min(grid.Rows, y1); y++ {
		for x := max(0, x0); x < min(grid.Columns, x1); x++ {
			canvas.cells[box.y+1+y][box.x+1+x].lit = true
		}
	}
}

// seatAtPoint hit-tests a terminal coordinate against the drawn grid.
func (m appModel) seatAtPoint(x, y int) (uuid.UUID, bool) {
	if m.seats == nil {
		return uuid.Nil, false
	}
	area := m.seatArea()
	if !area.contains(x, y) {
		return uuid.Nil, false
	}
	grid := m.seats.Grid()
	state := m.viewport.State()
	row, col := slotAt(float64(x-area.x)+0.5, float64(y-area.y)+0.5, state.Scale, state.Offset, area, contentSize(grid))
	cell, ok := grid.At(row, col)
	if !ok {
		return uuid.Nil, false
	}
	return cell.ID, true
}

// minimapHit converts a click inside the minimap overlay into content
// percentages.
func (m appModel) minimapHit(x, y int) (float64, float64, bool) {
	if m.seats == nil || !m.projector.Active() {
		return 0, 0, false
	}
	grid := m.seats.Grid()
	area := m.seatArea()
	m.projector.Resize(area.size(), contentSize(grid))
	box, ok := miniLayout(grid, area)
	if !ok {
		return 0, 0, false
	}
	ix, iy, ok := box.inner(x-area.x, y-area.y)
	if !ok {
		return 0, 0, false
	}
	return (float64(ix) + 0.5) / float64(grid.Columns) * 100, (float64(iy) + 0.5) / float64(grid.Rows) * 100, true
}

func (m appModel) legendView() string {
	return hint(fmt.Sprintf("Legend: %s available • %s selected • %s booked • %s",
		seatStyleAvailable.Render("[]"),
		seatStyleSelected.Render("<>"),
		seatStyleBooked.Render("XX"),
		"drag to pan when zoomed • wheel or +/- to zoom"))
}

type screenBlock struct {
	top string
	mid string
	bot string
}

func screenBarBlock(width int, label string) screenBlock {
	if width < len(label)+4 {
		width = len(label) + 4
	}
	if width < 10 {
		width = 10
	}

	border := "╭" + strings.Repeat("─", width-2) + "╮"
	bottom := "╰" + strings.Repeat("─", width-2) + "╯"

	labelText := " " + label + " "
	padding := width - len(labelText) - 2
	left := padding / 2
	right := padding - left
	mid := "│" + strings.Repeat(" ", left) + labelText + strings.Repeat(" ", right) + "│"
	return screenBlock{top: border, mid: mid, bot: bottom}
}

func (m appModel) stageView(width int) string {
	bar := screenBarBlock(min(width, 40), "STAGE")
	style := lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	block := style.Render(bar.top) + "\n" + style.Bold(true).Render(bar.mid) + "\n" + style.Render(bar.bot)
	if width > 0 {
		return lipgloss.PlaceHorizontal(width, lipgloss.Center, block)
	}
	return block
}
