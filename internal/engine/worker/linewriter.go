package worker

import (
	"strings"
	"sync"

	"go.trai.ch/kiln/internal/core/ports"
)

// lineWriter forwards a worker's stderr to the logger line by line. Partial
// writes are buffered until a newline arrives; worker stderr is diagnostics
// only and never part of the protocol.
type lineWriter struct {
	logger ports.Logger
	prefix string

	mu  sync.Mutex
	buf strings.Builder
}

func (w *lineWriter) Write(p []byte) (int, error) {
	if w.logger == nil {
		return len(p), nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		s := w.buf.String()
		idx := strings.IndexByte(s, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimRight(s[:idx], "\r")
		w.buf.Reset()
		w.buf.WriteString(s[idx+1:])
		if line != "" {
			w.logger.Info("[worker " + w.prefix + "] " + line)
		}
	}
	return len(p), nil
}
