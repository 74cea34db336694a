// Package outputgate guards a shared line-delimited output channel. A Gate is
// the only component allowed to write to the real channel: protocol messages
// go through Protocol, and everything else (stray prints from libraries,
// diagnostics routed to stdout) goes through Write, which silently drops
// bytes while any suppression window is open.
//
// Windows are reference counted, so nested and overlapping WithSuppressed
// calls compose: passthrough is restored only when the last window closes.
// Suppression applies to Write only. Protocol lines are never held behind a
// window, so one request's store I/O cannot delay another request's response;
// the gate's lock keeps every line a single uninterrupted write.
package outputgate

import (
	"bytes"
	"io"
	"os"
	"sync"
)

// Gate serializes and filters writes to an underlying channel.
type Gate struct {
	mu sync.Mutex

	out     io.Writer
	enabled bool
	windows int
}

// New wraps out with passthrough enabled.
func New(out io.Writer) *Gate {
	return &Gate{out: out, enabled: true}
}

// Passthrough reports whether writes currently reach the real channel.
func (g *Gate) Passthrough() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.passthroughLocked()
}

func (g *Gate) passthroughLocked() bool {
	return g.enabled && g.windows == 0
}

// Write forwards p to the real channel when passthrough is enabled and
// discards it otherwise. It always reports success so callers never block or
// fail because the gate is closed.
func (g *Gate) Write(p []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.passthroughLocked() {
		_, _ = g.out.Write(p)
	}
	return len(p), nil
}

// WithSuppressed runs fn with passthrough forced off and restores the
// previous state on every exit path, including panics.
func (g *Gate) WithSuppressed(fn func() error) error {
	g.suppress()
	defer g.release()
	return fn()
}

func (g *Gate) suppress() {
	g.mu.Lock()
	g.windows++
	g.mu.Unlock()
}

func (g *Gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.windows > 0 {
		g.windows--
	}
}

// Disable forces passthrough off for the rest of the process lifetime. Protocol
// lines are dropped from then on as well.
func (g *Gate) Disable() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enabled = false
}

func (g *Gate) emitLine(line []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.enabled {
		_, _ = g.out.Write(line)
	}
}

// Protocol returns the writer used by the protocol transport. Bytes are
// buffered until a newline completes a message; each complete line reaches
// the real channel in a single write.
func (g *Gate) Protocol() io.WriteCloser {
	return &protocolWriter{gate: g}
}

type protocolWriter struct {
	gate *Gate

	mu  sync.Mutex
	buf []byte
}

func (w *protocolWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		idx := bytes.IndexByte(w.buf, '\n')
		if idx < 0 {
			break
		}
		line := make([]byte, idx+1)
		copy(line, w.buf[:idx+1])
		w.buf = w.buf[idx+1:]
		w.gate.emitLine(line)
	}
	return len(p), nil
}

// Close drops any unterminated trailing bytes; a partial line is never a
// valid message.
func (w *protocolWriter) Close() error {
	w.mu.Lock()
	w.buf = nil
	w.mu.Unlock()
	return nil
}

// Capture redirects os.Stdout into a pipe drained through g.Write, so code
// printing to stdout cannot reach the real channel behind the gate's back.
// The returned function restores os.Stdout and waits for the pipe to drain.
func (g *Gate) Capture() (restore func(), err error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	original := os.Stdout
	os.Stdout = w

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = io.Copy(g, r)
		_ = r.Close()
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			os.Stdout = original
			_ = w.Close()
			<-done
		})
	}, nil
}
