package status

import (
	"fmt"
	"io"
	"sync"
)

// Plain reports finished lines only, one per key, for output that is not a
// terminal. It satisfies the same calls as Board.
type Plain struct {
	mu    sync.Mutex
	w     io.Writer
	ended map[string]bool
	done  bool
}

func NewPlain(w io.Writer) *Plain {
	return &Plain{w: w, ended: map[string]bool{}}
}

func (p *Plain) ContinueBullet(key, text string) {}

func (p *Plain) EndBullet(key, text string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done || p.ended[key] {
		return
	}
	p.ended[key] = true
	marker := failMarker(failMark)
	if ok {
		marker = okMarker(okMark)
	}
	fmt.Fprintf(p.w, "%s %s: %s\n", marker, key, text)
}

func (p *Plain) Spin() {}

func (p *Plain) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = true
}
