package sseutil

import (
	"bufio"
	"fmt"
	"net/http"
)

// Writer serializes SSEEvent-shaped frames to the client in wire form,
// flushing after every write so streaming stays real time.
type Writer struct {
	w       *bufio.Writer
	flusher http.Flusher
}

// NewWriter wraps w (expected to also implement http.Flusher, as
// net/http.ResponseWriter does) for SSE output.
func NewWriter(w http.ResponseWriter) *Writer {
	flusher, _ := w.(http.Flusher)
	return &Writer{w: bufio.NewWriter(w), flusher: flusher}
}

// WriteEvent writes one SSE frame: an optional "event:" line, the data
// payload (without embedded newlines, per every dialect adapter's output),
// and the terminating blank line.
func (sw *Writer) WriteEvent(name string, data []byte) error {
	if name != "" {
		if _, err := fmt.Fprintf(sw.w, "event: %s\n", name); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", data); err != nil {
		return err
	}
	if err := sw.w.Flush(); err != nil {
		return err
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	return nil
}

// WriteRaw writes pre-formatted bytes (e.g. "data: [DONE]\n\n") verbatim.
func (sw *Writer) WriteRaw(data []byte) error {
	if _, err := sw.w.Write(data); err != nil {
		return err
	}
	if err := sw.w.Flush(); err != nil {
		return err
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	return nil
}
