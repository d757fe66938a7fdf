//go:build !tinygo

package hal

import (
	"os"
	"sync"

	"github.com/mattn/go-tty"
)

// hostSerial exposes the controlling terminal as the debug port. When a
// real TTY can be opened it is put in raw mode so byte-at-a-time reads
// behave like a UART; otherwise plain stdio is used.
type hostSerial struct {
	mu  sync.Mutex
	tty *tty.TTY
	r   *os.File
	w   *os.File
}

func newHostSerial() *hostSerial {
	if t, err := tty.Open(); err == nil {
		return &hostSerial{tty: t, r: t.Input(), w: t.Output()}
	}
	return &hostSerial{r: os.Stdin, w: os.Stdout}
}

func (s *hostSerial) Read(p []byte) (int, error) {
	if s.r == nil {
		return 0, ErrNotImplemented
	}
	return s.r.Read(p)
}

func (s *hostSerial) Write(p []byte) (int, error) {
	if s.w == nil {
		return 0, ErrNotImplemented
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
