package output

import (
	"bufio"
	"encoding/json"
	"io"
)

// JSONWriter buffers results and writes them as one JSON document.
type JSONWriter struct {
	w      *bufio.Writer
	indent string
	items  []any
}

// NewJSONWriter creates a JSON writer.
func NewJSONWriter(w io.Writer, indent string) *JSONWriter {
	return &JSONWriter{
		w:      bufio.NewWriter(w),
		indent: indent,
	}
}

// Write buffers a single item.
func (w *JSONWriter) Write(data any) error {
	w.items = append(w.items, data)
	return nil
}

// Flush writes the buffered items. A single item is written directly, more
// than one as an array.
func (w *JSONWriter) Flush() error {
	if len(w.items) == 0 {
		return nil
	}

	var v any = w.items
	if len(w.items) == 1 {
		v = w.items[0]
	}

	var (
		out []byte
		err error
	)
	if w.indent != "" {
		out, err = json.MarshalIndent(v, "", w.indent)
	} else {
		out, err = json.Marshal(v)
	}
	if err != nil {
		return err
	}
	w.items = w.items[:0]

	if _, err := w.w.Write(append(out, '\n')); err != nil {
		return err
	}
	return w.w.Flush()
}

// JSONLWriter writes newline-delimited JSON, one line per result.
type JSONLWriter struct {
	w *bufio.Writer
}

// NewJSONLWriter creates a JSONL writer.
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	return &JSONLWriter{w: bufio.NewWriter(w)}
}

// Write writes a single item as a JSON line and flushes it.
func (w *JSONLWriter) Write(data any) error {
	out, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(append(out, '\n')); err != nil {
		return err
	}
	return w.w.Flush()
}

// Flush flushes the buffer.
func (w *JSONLWriter) Flush() error {
	return w.w.Flush()
}
