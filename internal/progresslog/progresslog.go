// Package progresslog implements the append-only human-readable progress
// narrative consumed by the next session as priming context.
//
// Rotation uses github.com/klauspost/compress/gzip to bundle old entries
// into dated tar.gz archives once the log exceeds its size cap.
package progresslog

import (
	"archive/tar"
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/Fr3nn3r/ada-harness/internal/types"
)

const entryDelim = "----------------------------------------\n"

// Log appends to, and reads from, a single progress-log text file.
type Log struct {
	path        string
	archiveDir  string
	rotateBytes int64
}

// New returns a Log bound to path. archiveDir receives rotated bundles;
// rotateBytes is the size threshold that triggers rotation (0 disables it).
func New(path, archiveDir string, rotateBytes int64) *Log {
	return &Log{path: path, archiveDir: archiveDir, rotateBytes: rotateBytes}
}

// Append writes one delimited, timestamped entry. Truncation is never
// automatic; callers decide entry length.
func (l *Log) Append(e types.ProgressEntry) error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("progresslog: open: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	b.WriteString(entryDelim)
	fmt.Fprintf(&b, "[%s] %s session=%s", e.Timestamp.Format(time.RFC3339), strings.ToUpper(string(e.Kind)), e.SessionID)
	if e.FeatureID != "" {
		fmt.Fprintf(&b, " feature=%s", e.FeatureID)
	}
	b.WriteString("\n")
	b.WriteString(e.Body)
	if !strings.HasSuffix(e.Body, "\n") {
		b.WriteString("\n")
	}
	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("progresslog: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("progresslog: sync: %w", err)
	}
	return l.maybeRotate()
}

// TailLines returns the last n lines of the progress log.
func (l *Log) TailLines(n int) (string, error) {
	lines, err := l.readAllLines()
	if err != nil {
		return "", err
	}
	if n < len(lines) {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n"), nil
}

// TailKilobytes returns roughly the last k kilobytes of the progress log,
// used to prime the next agent session without ingesting the whole file.
func (l *Log) TailKilobytes(k int) (string, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("progresslog: open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("progresslog: stat: %w", err)
	}
	want := int64(k) * 1024
	start := int64(0)
	if info.Size() > want {
		start = info.Size() - want
	}
	if _, err := f.Seek(start, 0); err != nil {
		return "", fmt.Errorf("progresslog: seek: %w", err)
	}
	buf := make([]byte, info.Size()-start)
	if _, err := f.Read(buf); err != nil {
		return "", fmt.Errorf("progresslog: read: %w", err)
	}
	return string(buf), nil
}

// Full returns the entire progress log.
func (l *Log) Full() (string, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("progresslog: read: %w", err)
	}
	return string(data), nil
}

func (l *Log) readAllLines() ([]string, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("progresslog: open: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("progresslog: scan: %w", err)
	}
	return lines, nil
}

// maybeRotate moves the current log into a gzip-compressed tar bundle in
// archiveDir when it exceeds rotateBytes, then starts a fresh empty log.
func (l *Log) maybeRotate() error {
	if l.rotateBytes <= 0 || l.archiveDir == "" {
		return nil
	}
	info, err := os.Stat(l.path)
	if err != nil {
		return fmt.Errorf("progresslog: stat: %w", err)
	}
	if info.Size() < l.rotateBytes {
		return nil
	}
	if err := os.MkdirAll(l.archiveDir, 0o755); err != nil {
		return fmt.Errorf("progresslog: mkdir archive: %w", err)
	}
	bundlePath := filepath.Join(l.archiveDir, fmt.Sprintf("progress-%s.tar.gz", time.Now().Format("20060102T150405")))
	if err := archiveFile(l.path, bundlePath); err != nil {
		return err
	}
	if err := os.Truncate(l.path, 0); err != nil {
		return fmt.Errorf("progresslog: truncate after rotation: %w", err)
	}
	return nil
}

func archiveFile(srcPath, bundlePath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("progresslog: open for archive: %w", err)
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("progresslog: stat for archive: %w", err)
	}

	out, err := os.Create(bundlePath)
	if err != nil {
		return fmt.Errorf("progresslog: create archive: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	hdr := &tar.Header{
		Name: filepath.Base(srcPath),
		Mode: 0o644,
		Size: info.Size(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("progresslog: tar header: %w", err)
	}
	if _, err := io.Copy(tw, src); err != nil {
		return fmt.Errorf("progresslog: tar write: %w", err)
	}
	return nil
}
