package app

import (
	"sync"
	"testing"

	"github.com/goccy/go-json"

	"github.com/dkeye/streamrelay/internal/core"
	"github.com/dkeye/streamrelay/internal/domain"
)

// fixedCodes hands out codes in order and repeats the last one forever.
type fixedCodes struct {
	mu    sync.Mutex
	codes []domain.StreamCode
	next  int
}

func (f *fixedCodes) Generate() (domain.StreamCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.next
	if i >= len(f.codes) {
		i = len(f.codes) - 1
	}
	f.next++
	return f.codes[i], nil
}

type recordingConn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func (c *recordingConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	c.frames = append(c.frames, append(core.Frame(nil), f...))
	return nil
}

func (c *recordingConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *recordingConn) messages(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.frames))
	for _, f := range c.frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err != nil {
			t.Fatalf("frame %s: %v", f, err)
		}
		out = append(out, m)
	}
	return out
}

func (c *recordingConn) raw() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		out = append(out, string(f))
	}
	return out
}
