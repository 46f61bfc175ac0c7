// Package status renders one live terminal line per project while a batch
// runs. All cursor movement is relative to the row below the board (its
// home row); moves to rows that scrolled off screen are skipped.
package status

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"
)

// SizeFunc reports the terminal size in columns and rows.
type SizeFunc func() (cols, rows int)

// TerminalSize returns the size of f, or 80x24 when it is not a terminal.
func TerminalSize(f *os.File) SizeFunc {
	return func() (int, int) {
		cols, rows, err := term.GetSize(int(f.Fd()))
		if err != nil || cols <= 0 || rows <= 0 {
			return 80, 24
		}
		return cols, rows
	}
}

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const (
	okMark   = "✓"
	failMark = "✗"
)

var (
	okMarker   = color.New(color.FgGreen).SprintFunc()
	failMarker = color.New(color.FgRed).SprintFunc()
)

type line struct {
	row int
	// x is the column after the last text written on the line.
	x int
	// spinner is the width of the spinner frame drawn at x, if any.
	spinner int
	ended   bool
}

type Board struct {
	mu    sync.Mutex
	w     io.Writer
	size  SizeFunc
	lines map[string]*line
	n     int
	row   int
	col   int
	frame int
	done  bool
}

// NewBoard reserves one line per key, labelled with the key, and leaves
// the cursor on the home row.
func NewBoard(w io.Writer, keys []string, size SizeFunc) *Board {
	b := &Board{w: w, size: size, lines: make(map[string]*line, len(keys)), n: len(keys)}

	width := 0
	for _, k := range keys {
		width = max(width, runewidth.StringWidth(k))
	}
	var sb strings.Builder
	for i, k := range keys {
		label := runewidth.FillRight(k, width) + " "
		cols, _ := b.size()
		label = runewidth.Truncate(label, cols, "")
		b.lines[k] = &line{row: i, x: runewidth.StringWidth(label)}
		sb.WriteString(label)
		sb.WriteString("\n")
	}
	_, _ = io.WriteString(w, sb.String())
	b.row = b.n
	return b
}

// ContinueBullet appends text to the key's line.
func (b *Board) ContinueBullet(key, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	l := b.active(key)
	if l == nil {
		return
	}
	b.write(l, "", text)
}

// EndBullet appends a success or failure marker and text, then frees the line.
func (b *Board) EndBullet(key, text string, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	l := b.active(key)
	if l == nil {
		return
	}
	marker := failMark
	if ok {
		marker = okMark
	}
	if text != "" {
		text = " " + text
	}
	b.write(l, marker, text)
	l.ended = true
	l.spinner = 0
}

// Spin advances the spinner on every line that has not ended.
func (b *Board) Spin() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.frame = (b.frame + 1) % len(spinnerFrames)
	frame := spinnerFrames[b.frame]
	cols, _ := b.size()
	for _, l := range b.ordered() {
		if l.ended || !b.moveTo(l.row, l.x) {
			continue
		}
		f := runewidth.Truncate(frame, cols-l.x, "")
		w := runewidth.StringWidth(f)
		b.put(f, w)
		// A narrower frame leaves part of the previous one behind.
		if pad := l.spinner - w; pad > 0 {
			b.put(strings.Repeat(" ", pad), pad)
		}
		l.spinner = w
	}
}

// Done returns the cursor to column 0 of the home row and discards every
// line. Later calls on the board do nothing. It homes below the board rather
// than to its top-left corner so later output starts under the final
// bullets instead of overwriting them.
func (b *Board) Done() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.moveTo(b.n, 0)
	b.done = true
	b.lines = nil
}

func (b *Board) active(key string) *line {
	if b.done {
		return nil
	}
	l, ok := b.lines[key]
	if !ok || l.ended {
		return nil
	}
	return l
}

func (b *Board) ordered() []*line {
	out := make([]*line, b.n)
	for _, l := range b.lines {
		out[l.row] = l
	}
	return out
}

// write puts a colored marker and text at the line's x, truncated to the
// visible width, and clears what remains of a spinner frame.
func (b *Board) write(l *line, marker, text string) {
	if !b.moveTo(l.row, l.x) {
		return
	}
	cols, _ := b.size()
	avail := max(cols-l.x, 0)

	written := 0
	if marker != "" {
		m := runewidth.Truncate(marker, avail, "")
		if w := runewidth.StringWidth(m); w > 0 {
			paint := failMarker
			if marker == okMark {
				paint = okMarker
			}
			b.put(paint(m), w)
			written += w
		}
	}
	t := runewidth.Truncate(text, avail-written, "")
	tw := runewidth.StringWidth(t)
	b.put(t, tw)
	written += tw

	if pad := l.spinner - written; pad > 0 {
		b.put(strings.Repeat(" ", pad), pad)
	}
	l.spinner = 0
	l.x += written
}

// put writes s, which occupies w columns.
func (b *Board) put(s string, w int) {
	if s == "" {
		return
	}
	_, _ = io.WriteString(b.w, s)
	b.col += w
}

// moveTo moves the cursor relative to its current position. It reports
// false, without moving, when the target is outside the visible screen.
func (b *Board) moveTo(row, col int) bool {
	cols, rows := b.size()
	if col < 0 || (col > 0 && col >= cols) {
		return false
	}
	// The home row is the last visible row; anything further up than
	// rows-1 lines has scrolled away.
	if row > b.n || b.n-row > rows-1 {
		return false
	}

	var sb strings.Builder
	switch dy := row - b.row; {
	case dy < 0:
		fmt.Fprintf(&sb, "\x1b[%dA", -dy)
	case dy > 0:
		fmt.Fprintf(&sb, "\x1b[%dB", dy)
	}
	if col != b.col {
		sb.WriteString("\r")
		if col > 0 {
			fmt.Fprintf(&sb, "\x1b[%dC", col)
		}
	}
	_, _ = io.WriteString(b.w, sb.String())
	b.row, b.col = row, col
	return true
}
