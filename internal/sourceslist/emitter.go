package sourceslist

import (
	"fmt"
	"io"
)

// Emitter writes sources.list files.
type Emitter struct {
	w      io.Writer
	header string
}

// NewEmitter creates a new sources.list emitter. A non-empty header is
// written as a comment before the entries.
func NewEmitter(w io.Writer, header string) *Emitter {
	return &Emitter{w: w, header: header}
}

// Emit writes lines in the given order. Order is significant to APT, so
// lines are never sorted.
func (e *Emitter) Emit(lines []Line) error {
	if e.header != "" {
		if _, err := fmt.Fprintf(e.w, "# %s\n", e.header); err != nil {
			return err
		}
	}
	for _, l := range lines {
		if _, err := fmt.Fprintln(e.w, l.String()); err != nil {
			return err
		}
	}
	return nil
}
