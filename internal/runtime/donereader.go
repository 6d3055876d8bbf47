package runtime

import (
	"io"
	"sync"
)

// Wraps an [io.Reader] and closes done on the first [io.EOF].
//
// Used to learn when a tar stream piped into an exec process has been
// fully consumed, so the process stdin can be closed.
type doneReader struct {
	r    io.Reader
	once sync.Once
	done chan struct{}
}

func newDoneReader(r io.Reader) *doneReader {
	return &doneReader{r: r, done: make(chan struct{})}
}

// Non-EOF errors are returned without closing done.
func (d *doneReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if err == io.EOF {
		d.once.Do(func() { close(d.done) })
	}
	return n, err
}
