package status

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// screen is a minimal terminal: enough of VT100 to replay what Board writes.
type screen struct {
	cols     int
	cells    map[int][]rune
	row, col int
}

var csi = regexp.MustCompile(`^\x1b\[([0-9;]*)([A-Za-z])`)

func replay(t *testing.T, cols int, out string) *screen {
	t.Helper()
	s := &screen{cols: cols, cells: map[int][]rune{}}
	for len(out) > 0 {
		if m := csi.FindStringSubmatch(out); m != nil {
			n := 1
			if m[1] != "" && m[2] != "m" {
				v, err := strconv.Atoi(m[1])
				require.NoError(t, err)
				n = v
			}
			switch m[2] {
			case "A":
				s.row -= n
			case "B":
				s.row += n
			case "C":
				s.col += n
			case "D":
				s.col -= n
			}
			require.GreaterOrEqual(t, s.row, 0, "cursor moved above the board")
			out = out[len(m[0]):]
			continue
		}
		r, size := utf8.DecodeRuneInString(out)
		out = out[size:]
		switch r {
		case '\n':
			s.row++
			s.col = 0
		case '\r':
			s.col = 0
		default:
			s.put(r)
		}
	}
	return s
}

func (s *screen) put(r rune) {
	line, ok := s.cells[s.row]
	if !ok {
		line = []rune(strings.Repeat(" ", s.cols))
		s.cells[s.row] = line
	}
	if s.col < s.cols {
		line[s.col] = r
	}
	s.col += runewidth.RuneWidth(r)
}

func (s *screen) line(row int) string {
	return strings.TrimRight(string(s.cells[row]), " ")
}

var ansi = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

func fixedSize(cols, rows int) SizeFunc {
	return func() (int, int) { return cols, rows }
}

func TestBoard_TruncatesToRemainingWidth(t *testing.T) {
	var out bytes.Buffer
	b := NewBoard(&out, []string{"one", "two", "six"}, fixedSize(20, 24))
	start := out.Len()

	b.ContinueBullet("one", "abc")
	b.ContinueBullet("two", strings.Repeat("x", 40))

	s := replay(t, 20, out.String())
	assert.Equal(t, "one abc", s.line(0))
	assert.Equal(t, "two "+strings.Repeat("x", 16), s.line(1))
	assert.Equal(t, "six", s.line(2))

	// Exactly cols - x characters of the long text reach the terminal.
	written := ansi.ReplaceAllString(out.String()[start:], "")
	assert.Equal(t, 20-len("two "), strings.Count(written, "x"))
}

func TestBoard_ContinueAppendsInline(t *testing.T) {
	var out bytes.Buffer
	b := NewBoard(&out, []string{"core", "web"}, fixedSize(80, 24))

	b.ContinueBullet("web", "fetch")
	b.ContinueBullet("core", "checkout")
	b.ContinueBullet("web", ", merge")

	s := replay(t, 80, out.String())
	assert.Equal(t, "core checkout", s.line(0))
	assert.Equal(t, "web  fetch, merge", s.line(1))
}

func TestBoard_EndedLinesIgnoreFurtherCalls(t *testing.T) {
	var out bytes.Buffer
	b := NewBoard(&out, []string{"a", "b"}, fixedSize(80, 24))

	b.EndBullet("a", "tagged", true)
	b.EndBullet("b", "push rejected", false)
	before := out.Len()
	b.ContinueBullet("a", "late")
	b.EndBullet("b", "again", true)
	b.ContinueBullet("unknown", "x")
	assert.Equal(t, before, out.Len())

	s := replay(t, 80, out.String())
	assert.Equal(t, "a ✓ tagged", s.line(0))
	assert.Equal(t, "b ✗ push rejected", s.line(1))
}

func TestBoard_SpinnerIsReplacedCleanly(t *testing.T) {
	var out bytes.Buffer
	b := NewBoard(&out, []string{"a", "b"}, fixedSize(80, 24))

	b.Spin()
	s := replay(t, 80, out.String())
	assert.Equal(t, "a "+spinnerFrames[1], s.line(0))
	assert.Equal(t, "b "+spinnerFrames[1], s.line(1))

	b.ContinueBullet("a", "")
	b.EndBullet("b", "", true)
	s = replay(t, 80, out.String())
	assert.Equal(t, "a", s.line(0))
	assert.Equal(t, "b ✓", s.line(1))

	// Ended lines stop spinning.
	b.Spin()
	s = replay(t, 80, out.String())
	assert.Equal(t, "b ✓", s.line(1))
}

func TestBoard_SkipsRowsOffScreen(t *testing.T) {
	var out bytes.Buffer
	b := NewBoard(&out, []string{"one", "two", "six"}, fixedSize(80, 2))
	before := out.Len()

	b.ContinueBullet("one", "hidden")
	b.ContinueBullet("two", "hidden")
	assert.Equal(t, before, out.Len(), "rows above the screen must not be drawn")

	b.ContinueBullet("six", "shown")
	s := replay(t, 80, out.String())
	assert.Equal(t, "six shown", s.line(2))
}

func TestBoard_DoneReturnsHomeAndStops(t *testing.T) {
	var out bytes.Buffer
	b := NewBoard(&out, []string{"a", "b", "c"}, fixedSize(80, 24))
	b.ContinueBullet("a", "working")

	b.Done()
	s := replay(t, 80, out.String())
	assert.Equal(t, 3, s.row)
	assert.Equal(t, 0, s.col)

	before := out.Len()
	b.Done()
	b.Spin()
	b.ContinueBullet("b", "x")
	b.EndBullet("c", "x", true)
	assert.Equal(t, before, out.Len())
}

func TestPlain_WritesOneLinePerKey(t *testing.T) {
	var out bytes.Buffer
	p := NewPlain(&out)
	p.ContinueBullet("core", "ignored")
	p.EndBullet("core", "done", true)
	p.EndBullet("core", "again", false)
	p.Done()
	p.EndBullet("web", "late", true)

	got := ansi.ReplaceAllString(out.String(), "")
	assert.Equal(t, "✓ core: done\n", got)
}
