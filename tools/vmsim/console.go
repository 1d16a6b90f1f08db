package main

import (
	"bytes"

	"github.com/sirupsen/logrus"
)

// consoleWriter forwards kernel console output to logrus, one entry per
// line. Partial lines are held until the next newline or Flush.
type consoleWriter struct {
	entry *logrus.Entry
	buf   bytes.Buffer
}

func newConsoleWriter(logger *logrus.Logger) *consoleWriter {
	return &consoleWriter{entry: logger.WithField("src", "kernel")}
}

// Write implements io.Writer.
func (w *consoleWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)

	for {
		idx := bytes.IndexByte(w.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}

		line := string(w.buf.Next(idx + 1))
		w.emit(line[:idx])
	}

	return len(p), nil
}

// Flush logs any buffered partial line.
func (w *consoleWriter) Flush() {
	if w.buf.Len() == 0 {
		return
	}
	w.emit(w.buf.String())
	w.buf.Reset()
}

func (w *consoleWriter) emit(line string) {
	if len(line) == 0 {
		return
	}
	w.entry.Info(line)
}
