// Package sideband provides the best-effort diagnostic log that runs beside
// the protocol channel. Entries are timestamped slog text lines appended to a
// file; any failure to open or write the file is swallowed so logging can
// never disturb protocol output.
package sideband

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// DefaultFileName is the log file created under os.TempDir when no path is
// configured.
const DefaultFileName = "mongo-mcp.log"

// DefaultPath returns the fixed default location of the sideband log.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), DefaultFileName)
}

// Options configure the sideband logger.
type Options struct {
	// Path of the append-only log file. Defaults to DefaultPath().
	Path string
	// Level is the minimum level recorded. Defaults to slog.LevelInfo.
	Level slog.Leveler
}

// Writer appends to a file, opening it lazily and retrying the open after a
// failure. Write never returns an error.
type Writer struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// NewWriter returns a Writer for path.
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return len(p), nil
		}
		w.file = f
	}
	if _, err := w.file.Write(p); err != nil {
		_ = w.file.Close()
		w.file = nil
	}
	return len(p), nil
}

// Close releases the file handle. Later writes reopen it.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// New builds a slog.Logger over a sideband Writer. The returned closer
// releases the file.
func New(opts *Options) (*slog.Logger, io.Closer) {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.Path == "" {
		o.Path = DefaultPath()
	}
	if o.Level == nil {
		o.Level = slog.LevelInfo
	}
	w := NewWriter(o.Path)
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: o.Level})), w
}
