package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/justapithecus/openhrv/types"
)

// ErrMissingHeader is returned when a capture does not start with a header.
var ErrMissingHeader = errors.New("capture has no header frame")

// Writer appends notifications to a capture. Safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	frames int64
}

// NewWriter writes the header for meta and returns a Writer.
// If w is an io.Closer, Close closes it.
func NewWriter(w io.Writer, meta *types.SessionMeta) (*Writer, error) {
	cw := &Writer{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		cw.closer = c
	}
	header := &Header{
		Type:      HeaderType,
		Version:   FormatVersion,
		SessionID: meta.SessionID,
		Address:   meta.Address,
		Transport: meta.Transport,
		StartedAt: meta.StartedAt.UTC(),
	}
	if err := cw.writeFrame(header); err != nil {
		return nil, err
	}
	return cw, nil
}

// Create creates (or truncates) the capture file at path.
func Create(path string, meta *types.SessionMeta) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}
	w, err := NewWriter(f, meta)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

// Write records one notification.
func (w *Writer) Write(ts time.Time, address string, data []byte) error {
	return w.writeFrame(&Notification{
		Type:    NotificationType,
		Ts:      ts.UTC(),
		Address: address,
		Data:    data,
	})
}

func (w *Writer) writeFrame(v any) error {
	frame, err := EncodeFrame(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return errors.New("capture writer closed")
	}
	if _, err := w.w.Write(frame); err != nil {
		return fmt.Errorf("failed to write capture frame: %w", err)
	}
	w.frames++
	return nil
}

// Frames returns the number of frames written, header included.
func (w *Writer) Frames() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

// Close flushes buffered frames and closes the underlying writer.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return nil
	}
	err := w.w.Flush()
	w.w = nil
	if w.closer != nil {
		err = errors.Join(err, w.closer.Close())
	}
	return err
}

// Reader reads a capture sequentially.
type Reader struct {
	dec    *FrameDecoder
	header *Header
}

// NewReader reads and validates the header.
func NewReader(r io.Reader) (*Reader, error) {
	dec := NewFrameDecoder(bufio.NewReader(r))
	payload, err := dec.ReadFrame()
	if err != nil {
		if err == io.EOF {
			return nil, ErrMissingHeader
		}
		return nil, err
	}
	frame, err := DecodeFrame(payload)
	if err != nil {
		return nil, err
	}
	header, ok := frame.(*Header)
	if !ok {
		return nil, ErrMissingHeader
	}
	if header.Version > FormatVersion {
		return nil, fmt.Errorf("unsupported capture version %d", header.Version)
	}
	return &Reader{dec: dec, header: header}, nil
}

// Header returns the capture header.
func (r *Reader) Header() *Header {
	return r.header
}

// Next returns the next notification, or io.EOF at the end of the capture.
// Non-fatal decode errors are returned as *FrameError; the caller may
// continue reading.
func (r *Reader) Next() (*Notification, error) {
	payload, err := r.dec.ReadFrame()
	if err != nil {
		return nil, err
	}
	frame, err := DecodeFrame(payload)
	if err != nil {
		return nil, err
	}
	n, ok := frame.(*Notification)
	if !ok {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "unexpected header frame"}
	}
	return n, nil
}

// ReadAll reads every remaining notification, skipping undecodable frames.
func (r *Reader) ReadAll() ([]*Notification, error) {
	var out []*Notification
	for {
		n, err := r.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			if IsFatalFrameError(err) {
				return out, err
			}
			continue
		}
		out = append(out, n)
	}
}
