package agent

import (
	"bytes"
	"sync"
)

// LineWriter is an io.Writer that splits its input into lines and hands each
// complete line, without the trailing newline, to fn. It is safe for
// concurrent use; fn is never called concurrently and must not retain line.
type LineWriter struct {
	fn func(line []byte)

	mu  sync.Mutex
	buf []byte
}

// NewLineWriter creates a LineWriter calling fn per line.
func NewLineWriter(fn func(line []byte)) *LineWriter {
	return &LineWriter{fn: fn}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(w.buf[:i], []byte{'\r'})
		w.fn(line)
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Close flushes a trailing line that was not newline terminated.
func (w *LineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buf) > 0 {
		w.fn(w.buf)
		w.buf = nil
	}
	return nil
}
