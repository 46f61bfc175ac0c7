// Package relay carries JSON messages over a byte stream (one frame per
// line) and spills large bodies to a side-channel directory so the stream
// never has to carry them.
//
// A spilled frame crosses the stream as a pointer {id, external: true}.
// The side file is written and renamed into place before the pointer is
// sent, and the receiver deletes it after reading. Credentials never reach
// the side file: they travel in the pointer only and are reattached on
// receipt.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// DefaultInlineLimit is the largest encoded frame sent inline.
const DefaultInlineLimit = 4 << 10

// Frame is one message on the stream.
type Frame struct {
	ID          string            `json:"id"`
	External    bool              `json:"external,omitempty"`
	Credentials map[string]string `json:"credentials,omitempty"`
	Body        json.RawMessage   `json:"body,omitempty"`
}

// DefaultDir returns the side-channel directory used when none is configured.
func DefaultDir() string {
	return filepath.Join(os.TempDir(), "rflow-relay")
}

type Writer struct {
	mu    sync.Mutex
	enc   *json.Encoder
	dir   string
	limit int
}

// NewWriter returns a Writer spilling frames larger than limit into dir.
// A limit <= 0 selects DefaultInlineLimit.
func NewWriter(w io.Writer, dir string, limit int) *Writer {
	if limit <= 0 {
		limit = DefaultInlineLimit
	}
	if dir == "" {
		dir = DefaultDir()
	}
	return &Writer{enc: json.NewEncoder(w), dir: dir, limit: limit}
}

// Send encodes body and writes it as one frame. It returns the frame id.
func (w *Writer) Send(body any, credentials map[string]string) (string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("relay: encode body: %w", err)
	}
	f := Frame{ID: uuid.New().String(), Credentials: credentials, Body: raw}
	inline, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("relay: encode frame: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if len(inline) <= w.limit {
		return f.ID, w.encode(f)
	}
	if err := w.spill(f.ID, raw); err != nil {
		return "", err
	}
	return f.ID, w.encode(Frame{ID: f.ID, External: true, Credentials: credentials})
}

func (w *Writer) encode(f Frame) error {
	if err := w.enc.Encode(f); err != nil {
		return fmt.Errorf("relay: write frame %s: %w", f.ID, err)
	}
	return nil
}

func (w *Writer) spill(id string, body []byte) error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("relay: side channel dir: %w", err)
	}
	tmp, err := os.CreateTemp(w.dir, id+".*.tmp")
	if err != nil {
		return fmt.Errorf("relay: side file: %w", err)
	}
	_, werr := tmp.Write(body)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("relay: write side file: %w", err)
	}
	if err := os.Rename(tmp.Name(), sidePath(w.dir, id)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("relay: publish side file: %w", err)
	}
	return nil
}

func sidePath(dir, id string) string {
	return filepath.Join(dir, id+".json")
}

type Reader struct {
	dec *json.Decoder
	dir string
}

func NewReader(r io.Reader, dir string) *Reader {
	if dir == "" {
		dir = DefaultDir()
	}
	return &Reader{dec: json.NewDecoder(r), dir: dir}
}

// Receive returns the next frame with its body resolved. It returns io.EOF
// once the stream is exhausted.
func (r *Reader) Receive() (Frame, error) {
	var f Frame
	if err := r.dec.Decode(&f); err != nil {
		return Frame{}, err
	}
	if !f.External {
		return f, nil
	}
	if f.ID == "" || filepath.Base(f.ID) != f.ID {
		return Frame{}, fmt.Errorf("relay: invalid external frame id %q", f.ID)
	}
	path := sidePath(r.dir, f.ID)
	body, err := os.ReadFile(path)
	if err != nil {
		return Frame{}, fmt.Errorf("relay: read side file: %w", err)
	}
	if err := os.Remove(path); err != nil {
		return Frame{}, fmt.Errorf("relay: remove side file: %w", err)
	}
	f.Body = body
	return f, nil
}

// Decode unmarshals the frame body into v.
func (f Frame) Decode(v any) error {
	if len(f.Body) == 0 {
		return fmt.Errorf("relay: frame %s has no body", f.ID)
	}
	if err := json.Unmarshal(f.Body, v); err != nil {
		return fmt.Errorf("relay: decode frame %s: %w", f.ID, err)
	}
	return nil
}
