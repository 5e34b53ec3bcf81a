package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultMaxBytes is used when NewRotatingWriter is given a non-positive size.
const DefaultMaxBytes int64 = 64 << 20

// RotatingWriter appends to a log file that rolls over each UTC day and
// whenever a write would push it past MaxBytes.
//
// For a base path of logs/relayd.log the segments are
// logs/relayd-2026-01-02.log, logs/relayd-2026-01-02-2.log and so on, and
// logs/relayd.log is kept as a symlink to the active segment.
type RotatingWriter struct {
	BasePath string
	MaxBytes int64
	// Keep bounds how many segments are retained; zero keeps everything.
	Keep int

	mu    sync.Mutex
	day   string
	seq   int
	file  *os.File
	size  int64
	clock func() time.Time
}

// NewRotatingWriter opens the first segment under basePath. A base path of
// "-" returns a writer that discards everything.
func NewRotatingWriter(basePath string, maxBytes int64) (io.WriteCloser, error) {
	if strings.TrimSpace(basePath) == "-" {
		return nopWriteCloser{w: io.Discard}, nil
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	rw := &RotatingWriter{BasePath: basePath, MaxBytes: maxBytes, clock: time.Now}
	if err := rw.roll(0); err != nil {
		return nil, err
	}
	return rw, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.roll(int64(len(p))); err != nil {
		return 0, err
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Current returns the path of the active segment.
func (w *RotatingWriter) Current() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.segmentPath(w.day, w.seq)
}

func (w *RotatingWriter) now() time.Time {
	if w.clock == nil {
		return time.Now()
	}
	return w.clock()
}

func (w *RotatingWriter) roll(incoming int64) error {
	today := w.now().UTC().Format("2006-01-02")
	switch {
	case w.file == nil || w.day != today:
		w.day, w.seq = today, 1
	case w.size > 0 && w.size+incoming > w.MaxBytes:
		w.seq++
	default:
		return nil
	}
	return w.open()
}

func (w *RotatingWriter) segmentPath(day string, seq int) string {
	dir, name := filepath.Split(w.BasePath)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if ext == "" {
		ext = ".log"
	}
	if seq > 1 {
		return filepath.Join(dir, fmt.Sprintf("%s-%s-%d%s", stem, day, seq, ext))
	}
	return filepath.Join(dir, fmt.Sprintf("%s-%s%s", stem, day, ext))
}

func (w *RotatingWriter) open() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	dir := filepath.Dir(w.BasePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	path := w.segmentPath(w.day, w.seq)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	var size int64
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}
	w.file = f
	w.size = size
	w.link(path)
	w.prune()
	return nil
}

// link points BasePath at the active segment, falling back to a text pointer
// where symlinks are unavailable.
func (w *RotatingWriter) link(target string) {
	base := w.BasePath
	if dest, err := os.Readlink(base); err == nil && dest == filepath.Base(target) {
		return
	}
	_ = os.Remove(base)
	if err := os.Symlink(filepath.Base(target), base); err == nil {
		return
	}
	_ = os.WriteFile(base, []byte("current log file: "+target+"\n"), 0o644)
}

func (w *RotatingWriter) prune() {
	if w.Keep <= 0 {
		return
	}
	dir, name := filepath.Split(w.BasePath)
	ext := filepath.Ext(name)
	if ext == "" {
		ext = ".log"
	}
	pattern := filepath.Join(dir, strings.TrimSuffix(name, filepath.Ext(name))+"-*"+ext)
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) <= w.Keep {
		return
	}
	sort.Slice(matches, func(i, j int) bool {
		ii, _ := os.Stat(matches[i])
		jj, _ := os.Stat(matches[j])
		if ii == nil || jj == nil {
			return matches[i] < matches[j]
		}
		return ii.ModTime().Before(jj.ModTime())
	})
	active := w.segmentPath(w.day, w.seq)
	for _, m := range matches[:len(matches)-w.Keep] {
		if m != active {
			_ = os.Remove(m)
		}
	}
}

type nopWriteCloser struct{ w io.Writer }

func (n nopWriteCloser) Write(p []byte) (int, error) { return n.w.Write(p) }
func (n nopWriteCloser) Close() error                { return nil }
