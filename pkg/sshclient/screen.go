package sshclient

import (
	"sync"

	"github.com/Azure/go-ansiterm"
)

// Cell is one character position on the virtual screen, per spec.md §4.1.
type Cell struct {
	Rune          rune
	Bold          bool
	Italic        bool
	Underline     bool
	Strikethrough bool
	Reverse       bool
	Blink         bool
	Fg            int // -1 means default
	Bg            int // -1 means default
}

func blankCell() Cell { return Cell{Rune: ' ', Fg: -1, Bg: -1} }

// TerminalScreen is a virtual character-grid terminal, fed raw bytes from a
// ShellChannel and consumed by a UI to render. It implements
// ansiterm.AnsiEventHandler so github.com/Azure/go-ansiterm drives state
// transitions; TerminalScreen only tracks resulting grid/cursor/attribute
// state, per spec.md §4.1. Grounded on go-ansiterm's screen handling
// conventions, as referenced by gravitational-teleport's terminal stack (see
// DESIGN.md); the teacher repo has no terminal-emulation component at all.
type TerminalScreen struct {
	mu sync.Mutex

	cols, rows int

	grid []Cell // rows*cols, row-major

	scrollback     [][]Cell
	scrollbackMax  int
	scrollOffset   int // 0 = viewing live grid; >0 = lines scrolled back

	cursorRow, cursorCol int
	cursorVisible        bool

	curBold, curItalic, curUnderline, curStrike, curReverse, curBlink bool
	curFg, curBg int

	dirtyRows map[int]bool

	parser *ansiterm.AnsiParser
}

// NewTerminalScreen constructs a TerminalScreen of the given size with the
// given scrollback line capacity, per spec.md §6's term/cols/rows/history.
func NewTerminalScreen(cols, rows, scrollbackMax int) *TerminalScreen {
	s := &TerminalScreen{
		cols:          cols,
		rows:          rows,
		scrollbackMax: scrollbackMax,
		cursorVisible: true,
		curFg:         -1,
		curBg:         -1,
		dirtyRows:     make(map[int]bool),
	}
	s.grid = make([]Cell, cols*rows)
	s.clearCells(0, len(s.grid))
	s.parser = ansiterm.CreateParser("Ground", s)
	return s
}

func (s *TerminalScreen) clearCells(from, to int) {
	for i := from; i < to; i++ {
		s.grid[i] = blankCell()
	}
}

func (s *TerminalScreen) idx(row, col int) int { return row*s.cols + col }

func (s *TerminalScreen) markDirty(row int) { s.dirtyRows[row] = true }

// Feed parses raw bytes received from the shell channel, updating the grid.
// Per spec.md §4.1's feed(data).
func (s *TerminalScreen) Feed(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.parser.Parse(data)
	return err
}

// Display returns a snapshot of the visible rows, honoring any active
// scrollback offset, per spec.md §4.1's display().
func (s *TerminalScreen) Display() [][]Cell {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Cell, s.rows)
	if s.scrollOffset == 0 {
		for r := 0; r < s.rows; r++ {
			row := make([]Cell, s.cols)
			copy(row, s.grid[s.idx(r, 0):s.idx(r, 0)+s.cols])
			out[r] = row
		}
		return out
	}

	totalBack := len(s.scrollback)
	start := totalBack - s.scrollOffset
	for r := 0; r < s.rows; r++ {
		srcLine := start + r
		row := make([]Cell, s.cols)
		if srcLine >= 0 && srcLine < totalBack {
			copy(row, s.scrollback[srcLine])
		} else if srcLine >= totalBack {
			live := srcLine - totalBack
			copy(row, s.grid[s.idx(live, 0):s.idx(live, 0)+s.cols])
		} else {
			for i := range row {
				row[i] = blankCell()
			}
		}
		out[r] = row
	}
	return out
}

// Changes returns every cell of each row marked dirty since the last call,
// keyed by row then column, and clears the dirty set, per spec.md §4.1's
// changes() -> map<row, map<col, Cell>> used for incremental redraw.
func (s *TerminalScreen) Changes() map[int]map[int]Cell {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]map[int]Cell, len(s.dirtyRows))
	for r := range s.dirtyRows {
		if r < 0 || r >= s.rows {
			continue
		}
		cells := make(map[int]Cell, s.cols)
		for c := 0; c < s.cols; c++ {
			cells[c] = s.grid[s.idx(r, c)]
		}
		out[r] = cells
	}
	s.dirtyRows = make(map[int]bool)
	return out
}

// Cursor returns the current cursor position as (row, col), per spec.md
// §4.1's cursor reporting row-then-col, and whether it is visible.
func (s *TerminalScreen) Cursor() (row, col int, visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursorRow, s.cursorCol, s.cursorVisible
}

// Resize changes the grid dimensions, preserving existing content where
// possible (top-left aligned), per spec.md §4.1's resize(cols, rows).
func (s *TerminalScreen) Resize(cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cols == s.cols && rows == s.rows {
		return
	}
	newGrid := make([]Cell, cols*rows)
	for i := range newGrid {
		newGrid[i] = blankCell()
	}
	copyRows := minInt(rows, s.rows)
	copyCols := minInt(cols, s.cols)
	for r := 0; r < copyRows; r++ {
		for c := 0; c < copyCols; c++ {
			newGrid[r*cols+c] = s.grid[s.idx(r, c)]
		}
	}
	s.grid = newGrid
	s.cols, s.rows = cols, rows
	s.clampCursor()
	for r := 0; r < rows; r++ {
		s.markDirty(r)
	}
}

func (s *TerminalScreen) clampCursor() {
	if s.cursorRow < 0 {
		s.cursorRow = 0
	}
	if s.cursorRow >= s.rows {
		s.cursorRow = s.rows - 1
	}
	if s.cursorCol < 0 {
		s.cursorCol = 0
	}
	if s.cursorCol >= s.cols {
		s.cursorCol = s.cols - 1
	}
}

// ScrollUp/ScrollDown page the visible viewport into scrollback, per
// spec.md §4.1's prev_page/next_page.
func (s *TerminalScreen) ScrollUp(lines int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scrollOffset += lines
	maxOffset := len(s.scrollback)
	if s.scrollOffset > maxOffset {
		s.scrollOffset = maxOffset
	}
}

func (s *TerminalScreen) ScrollDown(lines int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scrollOffset -= lines
	if s.scrollOffset < 0 {
		s.scrollOffset = 0
	}
}

func (s *TerminalScreen) pushScrollback(row []Cell) {
	line := make([]Cell, len(row))
	copy(line, row)
	s.scrollback = append(s.scrollback, line)
	if len(s.scrollback) > s.scrollbackMax {
		s.scrollback = s.scrollback[len(s.scrollback)-s.scrollbackMax:]
	}
}

func (s *TerminalScreen) scrollGridUp() {
	firstRow := make([]Cell, s.cols)
	copy(firstRow, s.grid[0:s.cols])
	s.pushScrollback(firstRow)
	copy(s.grid, s.grid[s.cols:])
	s.clearCells(len(s.grid)-s.cols, len(s.grid))
	for r := 0; r < s.rows; r++ {
		s.markDirty(r)
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// --- ansiterm.AnsiEventHandler implementation ---

func (s *TerminalScreen) Print(b byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursorCol >= s.cols {
		s.cursorCol = 0
		s.advanceLine()
	}
	s.grid[s.idx(s.cursorRow, s.cursorCol)] = Cell{
		Rune: rune(b), Bold: s.curBold, Italic: s.curItalic,
		Underline: s.curUnderline, Strikethrough: s.curStrike,
		Reverse: s.curReverse, Blink: s.curBlink, Fg: s.curFg, Bg: s.curBg,
	}
	s.markDirty(s.cursorRow)
	s.cursorCol++
	return nil
}

func (s *TerminalScreen) advanceLine() {
	if s.cursorRow == s.rows-1 {
		s.scrollGridUp()
	} else {
		s.cursorRow++
	}
}

func (s *TerminalScreen) Execute(b byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch b {
	case '\n':
		s.advanceLine()
	case '\r':
		s.cursorCol = 0
	case '\b':
		if s.cursorCol > 0 {
			s.cursorCol--
		}
	case '\t':
		next := (s.cursorCol/8 + 1) * 8
		if next >= s.cols {
			next = s.cols - 1
		}
		s.cursorCol = next
	}
	return nil
}

func (s *TerminalScreen) CUU(n int) error { return s.moveCursor(-n, 0) }
func (s *TerminalScreen) CUD(n int) error { return s.moveCursor(n, 0) }
func (s *TerminalScreen) CUF(n int) error { return s.moveCursor(0, n) }
func (s *TerminalScreen) CUB(n int) error { return s.moveCursor(0, -n) }
func (s *TerminalScreen) CNL(n int) error { return s.moveCursor(n, -s.cursorCol) }
func (s *TerminalScreen) CPL(n int) error { return s.moveCursor(-n, -s.cursorCol) }

func (s *TerminalScreen) CHA(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursorCol = n - 1
	s.clampCursor()
	return nil
}

func (s *TerminalScreen) VPA(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursorRow = n - 1
	s.clampCursor()
	return nil
}

func (s *TerminalScreen) moveCursor(drow, dcol int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursorRow += drow
	s.cursorCol += dcol
	s.clampCursor()
	return nil
}

func (s *TerminalScreen) CUP(row, col int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursorRow = row - 1
	s.cursorCol = col - 1
	s.clampCursor()
	return nil
}

func (s *TerminalScreen) HVP(row, col int) error { return s.CUP(row, col) }

func (s *TerminalScreen) DECTCEM(visible bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursorVisible = visible
	return nil
}

func (s *TerminalScreen) DECOM(bool) error    { return nil }
func (s *TerminalScreen) DECCOLM(bool) error  { return nil }

// ED erases display: 0=cursor-to-end, 1=start-to-cursor, 2=whole screen.
func (s *TerminalScreen) ED(mode int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch mode {
	case 0:
		s.clearCells(s.idx(s.cursorRow, s.cursorCol), len(s.grid))
	case 1:
		s.clearCells(0, s.idx(s.cursorRow, s.cursorCol)+1)
	case 2:
		s.clearCells(0, len(s.grid))
	}
	for r := 0; r < s.rows; r++ {
		s.markDirty(r)
	}
	return nil
}

// EL erases line: 0=cursor-to-end, 1=start-to-cursor, 2=whole line.
func (s *TerminalScreen) EL(mode int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rowStart := s.idx(s.cursorRow, 0)
	switch mode {
	case 0:
		s.clearCells(rowStart+s.cursorCol, rowStart+s.cols)
	case 1:
		s.clearCells(rowStart, rowStart+s.cursorCol+1)
	case 2:
		s.clearCells(rowStart, rowStart+s.cols)
	}
	s.markDirty(s.cursorRow)
	return nil
}

func (s *TerminalScreen) IL(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		for r := s.rows - 1; r > s.cursorRow; r-- {
			copy(s.grid[s.idx(r, 0):s.idx(r, 0)+s.cols], s.grid[s.idx(r-1, 0):s.idx(r-1, 0)+s.cols])
		}
		s.clearCells(s.idx(s.cursorRow, 0), s.idx(s.cursorRow, 0)+s.cols)
	}
	for r := s.cursorRow; r < s.rows; r++ {
		s.markDirty(r)
	}
	return nil
}

func (s *TerminalScreen) DL(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		for r := s.cursorRow; r < s.rows-1; r++ {
			copy(s.grid[s.idx(r, 0):s.idx(r, 0)+s.cols], s.grid[s.idx(r+1, 0):s.idx(r+1, 0)+s.cols])
		}
		s.clearCells(s.idx(s.rows-1, 0), s.idx(s.rows-1, 0)+s.cols)
	}
	for r := s.cursorRow; r < s.rows; r++ {
		s.markDirty(r)
	}
	return nil
}

func (s *TerminalScreen) ICH(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rowStart := s.idx(s.cursorRow, 0)
	for i := 0; i < n; i++ {
		for c := s.cols - 1; c > s.cursorCol; c-- {
			s.grid[rowStart+c] = s.grid[rowStart+c-1]
		}
		s.grid[rowStart+s.cursorCol] = blankCell()
	}
	s.markDirty(s.cursorRow)
	return nil
}

func (s *TerminalScreen) DCH(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rowStart := s.idx(s.cursorRow, 0)
	for i := 0; i < n; i++ {
		for c := s.cursorCol; c < s.cols-1; c++ {
			s.grid[rowStart+c] = s.grid[rowStart+c+1]
		}
		s.grid[rowStart+s.cols-1] = blankCell()
	}
	s.markDirty(s.cursorRow)
	return nil
}

// SGR applies Select Graphic Rendition codes to the current pen state.
func (s *TerminalScreen) SGR(params []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(params) == 0 {
		params = []int{0}
	}
	for i := 0; i < len(params); i++ {
		p := params[i]
		switch {
		case p == 0:
			s.curBold, s.curItalic, s.curUnderline, s.curStrike, s.curReverse, s.curBlink = false, false, false, false, false, false
			s.curFg, s.curBg = -1, -1
		case p == 1:
			s.curBold = true
		case p == 3:
			s.curItalic = true
		case p == 4:
			s.curUnderline = true
		case p == 5:
			s.curBlink = true
		case p == 7:
			s.curReverse = true
		case p == 9:
			s.curStrike = true
		case p == 22:
			s.curBold = false
		case p == 23:
			s.curItalic = false
		case p == 24:
			s.curUnderline = false
		case p == 25:
			s.curBlink = false
		case p == 27:
			s.curReverse = false
		case p == 29:
			s.curStrike = false
		case p >= 30 && p <= 37:
			s.curFg = p - 30
		case p == 39:
			s.curFg = -1
		case p >= 40 && p <= 47:
			s.curBg = p - 40
		case p == 49:
			s.curBg = -1
		case p >= 90 && p <= 97:
			s.curFg = p - 90 + 8
		case p >= 100 && p <= 107:
			s.curBg = p - 100 + 8
		case p == 38 && i+2 < len(params) && params[i+1] == 5:
			s.curFg = params[i+2]
			i += 2
		case p == 48 && i+2 < len(params) && params[i+1] == 5:
			s.curBg = params[i+2]
			i += 2
		}
	}
	return nil
}

func (s *TerminalScreen) SU(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.scrollGridUp()
	}
	return nil
}

func (s *TerminalScreen) SD(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n && len(s.scrollback) > 0; i++ {
		last := s.scrollback[len(s.scrollback)-1]
		s.scrollback = s.scrollback[:len(s.scrollback)-1]
		copy(s.grid[s.cols:], s.grid[:len(s.grid)-s.cols])
		copy(s.grid[0:s.cols], last)
	}
	for r := 0; r < s.rows; r++ {
		s.markDirty(r)
	}
	return nil
}

func (s *TerminalScreen) DA([]string) error               { return nil }
func (s *TerminalScreen) DECSTBM(top, bottom int) error   { return nil }
func (s *TerminalScreen) RI() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursorRow == 0 {
		// scrolling the other direction at the top margin is rare enough in
		// practice (shells don't reverse-index past row 0) that it is
		// treated as a no-op rather than unwinding scrollback.
		return nil
	}
	s.cursorRow--
	return nil
}
func (s *TerminalScreen) IND() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceLine()
	return nil
}
func (s *TerminalScreen) Flush() error { return nil }
