package logutil

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
)

const (
	logFileName  = "manga_dissector.log"
	maxSizeBytes = 10 * 1024 * 1024 // 10 MB
	maxArchives  = 3
)

// Setup routes the standard logger to a size-rotated file in dir (10MB, max 3
// archives). When disabled, logs are discarded so stdout stays clean for the CLI.
// An empty dir selects the user cache directory.
func Setup(enableFileLogging bool, dir string) {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	if !enableFileLogging {
		log.SetOutput(io.Discard)
		return
	}
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create log directory: %v\n", err)
		return
	}
	w, err := newRotatingWriter(filepath.Join(dir, logFileName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		return
	}
	log.SetOutput(w)
}

// DefaultDir is <user cache dir>/manga-dissector, or the working directory
// when no cache dir is known.
func DefaultDir() string {
	if d, err := os.UserCacheDir(); err == nil {
		return filepath.Join(d, "manga-dissector")
	}
	return "."
}

type rotatingWriter struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func newRotatingWriter(path string) (*rotatingWriter, error) {
	rotate(path, maxSizeBytes)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	return &rotatingWriter{path: path, f: f}, nil
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if st, err := w.f.Stat(); err == nil && st.Size()+int64(len(p)) > maxSizeBytes {
		_ = w.f.Close()
		rotate(w.path, 0)
		nf, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return 0, err
		}
		w.f = nf
	}
	return w.f.Write(p)
}

// rotate shifts path to .1, .2, .3 (oldest discarded) once it exceeds limit bytes.
func rotate(path string, limit int64) {
	st, err := os.Stat(path)
	if err != nil || st.Size() <= limit {
		return
	}
	_ = os.Remove(archiveName(path, maxArchives))
	for i := maxArchives - 1; i >= 1; i-- {
		_ = os.Rename(archiveName(path, i), archiveName(path, i+1))
	}
	_ = os.Rename(path, archiveName(path, 1))
}

func archiveName(path string, n int) string { return fmt.Sprintf("%s.%d", path, n) }

// RedactKey masks an API key, leaving first/last 4 chars: xxxx...yyyy
func RedactKey(k string) string {
	if len(k) <= 8 {
		return "********"
	}
	return fmt.Sprintf("%s...%s", k[:4], k[len(k)-4:])
}
