package sshclient

import "testing"

func TestTerminalScreenPrintAndCursor(t *testing.T) {
	s := NewTerminalScreen(10, 3, 100)
	if err := s.Feed([]byte("hi")); err != nil {
		t.Fatalf("Feed returned error: %s", err)
	}

	row, col, visible := s.Cursor()
	if row != 0 || col != 2 {
		t.Errorf("cursor = (%d, %d), want (0, 2)", row, col)
	}
	if !visible {
		t.Errorf("cursor should default to visible")
	}

	display := s.Display()
	if display[0][0].Rune != 'h' || display[0][1].Rune != 'i' {
		t.Errorf("unexpected row 0 content: %q%q", display[0][0].Rune, display[0][1].Rune)
	}
}

func TestTerminalScreenSGRAttributes(t *testing.T) {
	s := NewTerminalScreen(10, 2, 100)
	// ESC [ 1 ; 31 m  sets bold + red foreground
	if err := s.Feed([]byte("\x1b[1;31mX\x1b[0m")); err != nil {
		t.Fatalf("Feed returned error: %s", err)
	}
	display := s.Display()
	cell := display[0][0]
	if cell.Rune != 'X' {
		t.Fatalf("expected 'X' at (0,0), got %q", cell.Rune)
	}
	if !cell.Bold {
		t.Errorf("expected bold attribute set")
	}
	if cell.Fg != 1 {
		t.Errorf("expected fg=1 (red), got %d", cell.Fg)
	}
}

func TestTerminalScreenCursorPositioning(t *testing.T) {
	s := NewTerminalScreen(10, 5, 100)
	// move to row 3, col 5 (1-indexed in the escape sequence)
	if err := s.Feed([]byte("\x1b[3;5H")); err != nil {
		t.Fatalf("Feed returned error: %s", err)
	}
	row, col, _ := s.Cursor()
	if row != 2 || col != 4 {
		t.Errorf("cursor = (%d, %d), want (2, 4)", row, col)
	}
}

func TestTerminalScreenNewlineScrollsHistory(t *testing.T) {
	s := NewTerminalScreen(5, 2, 10)
	if err := s.Feed([]byte("aa\r\nbb\r\ncc")); err != nil {
		t.Fatalf("Feed returned error: %s", err)
	}
	display := s.Display()
	if display[0][0].Rune != 'b' || display[1][0].Rune != 'c' {
		t.Errorf("expected grid to have scrolled, got row0=%q row1=%q", display[0][0].Rune, display[1][0].Rune)
	}

	s.ScrollUp(1)
	scrolled := s.Display()
	if scrolled[0][0].Rune != 'a' {
		t.Errorf("after ScrollUp(1) expected to see the scrolled-off 'aa' line, got %q", scrolled[0][0].Rune)
	}

	s.ScrollDown(1)
	back := s.Display()
	if back[0][0].Rune != 'b' {
		t.Errorf("after ScrollDown(1) expected to be back at the live view, got %q", back[0][0].Rune)
	}
}

func TestTerminalScreenResizePreservesContent(t *testing.T) {
	s := NewTerminalScreen(5, 2, 10)
	s.Feed([]byte("hi"))
	s.Resize(10, 4)
	display := s.Display()
	if display[0][0].Rune != 'h' || display[0][1].Rune != 'i' {
		t.Errorf("resize lost existing content: row0=%v", display[0][:2])
	}
	if len(display) != 4 || len(display[0]) != 10 {
		t.Errorf("resize did not apply new dimensions: got %dx%d", len(display), len(display[0]))
	}
}

func TestTerminalScreenChangesClearsDirtySet(t *testing.T) {
	s := NewTerminalScreen(5, 2, 10)
	s.Feed([]byte("x"))
	changes := s.Changes()
	if len(changes) == 0 {
		t.Fatalf("expected at least one dirty row after Feed")
	}
	if again := s.Changes(); len(again) != 0 {
		t.Errorf("Changes() should clear the dirty set, got %v", again)
	}
}
