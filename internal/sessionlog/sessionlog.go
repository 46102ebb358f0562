// Package sessionlog implements the Session Logger: one JSONL file per
// session, a sibling index.json summary, size-capped rotation into dated
// archives, and read helpers.
//
// Grounded on original_source/session_logger.py (per-line JSON with
// explicit entry kinds, immediate flush) and original_source/workspace.py
// (index.json, dated-archive rotation).
package sessionlog

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/Fr3nn3r/ada-harness/internal/types"
)

// EntryKind is a closed enumeration of JSONL line shapes.
type EntryKind string

const (
	EntrySessionStart EntryKind = "session_start"
	EntryPrompt       EntryKind = "prompt"
	EntryAssistant    EntryKind = "assistant"
	EntryToolCall     EntryKind = "tool_call"
	EntryToolResult   EntryKind = "tool_result"
	EntryUsageUpdate  EntryKind = "usage_update"
	EntryError        EntryKind = "error"
	EntryCheckpoint   EntryKind = "checkpoint"
	EntrySessionEnd   EntryKind = "session_end"
)

const maxToolResultBytes = 50000

// Entry is one JSONL line.
type Entry struct {
	Kind      EntryKind  `json:"kind"`
	Timestamp time.Time  `json:"timestamp"`
	Text      string     `json:"text,omitempty"`
	ToolName  string     `json:"tool_name,omitempty"`
	Usage     types.TokenUsage `json:"usage,omitempty"`
	Truncated bool       `json:"truncated,omitempty"`
}

// IndexEntry summarizes one session for index.json and the Telemetry API.
type IndexEntry struct {
	ID        string           `json:"id"`
	File      string           `json:"file"`
	AgentKind types.AgentKind  `json:"agent_kind"`
	FeatureID string           `json:"feature_id,omitempty"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   time.Time        `json:"ended_at,omitempty"`
	Outcome   types.Outcome    `json:"outcome,omitempty"`
	Turns     int              `json:"turns"`
	Usage     types.TokenUsage `json:"usage"`
	CostUSD   float64          `json:"cost_usd"`
	SizeBytes int64            `json:"size_bytes"`
	Archived  bool             `json:"archived,omitempty"`
}

// Logger owns the sessions directory, index.json, and archive rotation.
type Logger struct {
	dir        string
	archiveDir string
	indexPath  string
	rotateCap  int64

	mu    sync.Mutex
	index []IndexEntry

	query *QueryIndex
}

// New returns a Logger rooted at dir (holding per-session JSONL files and
// index.json), archiving into archiveDir past rotateCap bytes total. A
// query.db sqlite file is opened alongside index.json as a derived,
// rebuildable query index for the Telemetry API's paginated/filtered
// lookups; its absence or corruption is not fatal, since it can always be
// rebuilt from index.json via RebuildQueryIndex.
func New(dir, archiveDir string, rotateCap int64) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sessionlog: mkdir: %w", err)
	}
	l := &Logger{dir: dir, archiveDir: archiveDir, indexPath: filepath.Join(dir, "..", "index.json"), rotateCap: rotateCap}
	if err := l.loadIndex(); err != nil {
		return nil, err
	}
	if q, err := OpenQueryIndex(filepath.Join(dir, "..", "query.db")); err == nil {
		l.query = q
		_ = l.query.Rebuild(l.index)
	}
	return l, nil
}

// Close releases the query index handle, if one was opened.
func (l *Logger) Close() error {
	if l.query != nil {
		return l.query.Close()
	}
	return nil
}

func (l *Logger) loadIndex() error {
	data, err := os.ReadFile(l.indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			l.index = nil
			return nil
		}
		return fmt.Errorf("sessionlog: read index: %w", err)
	}
	return json.Unmarshal(data, &l.index)
}

func (l *Logger) saveIndexLocked() error {
	data, err := json.MarshalIndent(l.index, "", "  ")
	if err != nil {
		return fmt.Errorf("sessionlog: marshal index: %w", err)
	}
	dir := filepath.Dir(l.indexPath)
	tmp, err := os.CreateTemp(dir, ".index-*.tmp")
	if err != nil {
		return fmt.Errorf("sessionlog: create temp index: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sessionlog: write temp index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("sessionlog: close temp index: %w", err)
	}
	if err := os.Rename(tmpPath, l.indexPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("sessionlog: rename index: %w", err)
	}
	return nil
}

// NextSessionID mints a session id in the {YYYYMMDD}_{NNN}_{agent}_{feature}
// format documented by the original workspace layout.
func (l *Logger) NextSessionID(agentKind types.AgentKind, featureID string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	today := time.Now().Format("20060102")
	n := 1
	for _, e := range l.index {
		if e.StartedAt.Format("20060102") == today {
			n++
		}
	}
	feat := featureID
	if feat == "" {
		feat = "init"
	}
	return fmt.Sprintf("%s_%03d_%s_%s", today, n, agentKind, feat)
}

// Session is a handle for writing entries to one session's JSONL file.
type Session struct {
	logger    *Logger
	id        string
	path      string
	f         *os.File
	featureID string
	agentKind types.AgentKind
	startedAt time.Time
}

// StartSession creates the per-session JSONL file and writes the
// session_start entry.
func (l *Logger) StartSession(agentKind types.AgentKind, featureID string) (*Session, error) {
	id := l.NextSessionID(agentKind, featureID)
	path := filepath.Join(l.dir, id+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sessionlog: open: %w", err)
	}
	s := &Session{logger: l, id: id, path: path, f: f, featureID: featureID, agentKind: agentKind, startedAt: time.Now()}
	if err := s.write(Entry{Kind: EntrySessionStart, Timestamp: s.startedAt, Text: id}); err != nil {
		return nil, err
	}
	return s, nil
}

// ID returns the session's id.
func (s *Session) ID() string { return s.id }

func (s *Session) write(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("sessionlog: marshal entry: %w", err)
	}
	if _, err := s.f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("sessionlog: write entry: %w", err)
	}
	return s.f.Sync()
}

// Append writes a non-terminal entry, truncating tool-result text past
// the configured cap.
func (s *Session) Append(e Entry) error {
	if e.Kind == EntryToolResult && len(e.Text) > maxToolResultBytes {
		e.Text = e.Text[:maxToolResultBytes]
		e.Truncated = true
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	return s.write(e)
}

// Finish writes the session_end entry, closes the file, and updates
// index.json with the session's summary.
func (s *Session) Finish(rec types.SessionRecord) error {
	defer s.f.Close()
	if err := s.write(Entry{Kind: EntrySessionEnd, Timestamp: time.Now(), Text: string(rec.Outcome)}); err != nil {
		return err
	}
	info, err := os.Stat(s.path)
	var size int64
	if err == nil {
		size = info.Size()
	}

	newEntry := IndexEntry{
		ID:        s.id,
		File:      filepath.Base(s.path),
		AgentKind: s.agentKind,
		FeatureID: s.featureID,
		StartedAt: s.startedAt,
		EndedAt:   time.Now(),
		Outcome:   rec.Outcome,
		Turns:     rec.Turns,
		Usage:     rec.Usage,
		CostUSD:   rec.CostUSD,
		SizeBytes: size,
	}

	s.logger.mu.Lock()
	s.logger.index = append(s.logger.index, newEntry)
	err = s.logger.saveIndexLocked()
	s.logger.mu.Unlock()
	if err != nil {
		return err
	}
	if s.logger.query != nil {
		if err := s.logger.query.Upsert(newEntry); err != nil {
			return err
		}
	}
	return s.logger.maybeRotate()
}

// List returns the index entries matching an optional feature id and
// outcome filter, newest first, paginated.
func (l *Logger) List(page, pageSize int, featureID string, outcome types.Outcome) ([]IndexEntry, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var filtered []IndexEntry
	for _, e := range l.index {
		if featureID != "" && e.FeatureID != featureID {
			continue
		}
		if outcome != "" && e.Outcome != outcome {
			continue
		}
		filtered = append(filtered, e)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].StartedAt.After(filtered[j].StartedAt) })

	total := len(filtered)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	start := (page - 1) * pageSize
	if start >= total {
		return nil, total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return filtered[start:end], total
}

// Get returns the index entry for id, or false.
func (l *Logger) Get(id string) (IndexEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.index {
		if e.ID == id {
			return e, true
		}
	}
	return IndexEntry{}, false
}

// Load reads every JSONL entry for session id.
func (l *Logger) Load(id string) ([]Entry, error) {
	e, ok := l.Get(id)
	if !ok {
		return nil, fmt.Errorf("sessionlog: unknown session %q", id)
	}
	path := filepath.Join(l.dir, e.File)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sessionlog: read %s: %w", path, err)
	}
	return decodeEntries(data)
}

func decodeEntries(data []byte) ([]Entry, error) {
	var entries []Entry
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			return entries, fmt.Errorf("sessionlog: decode entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// AllIndexEntries returns a copy of the full session index, used by the
// cost-aggregation and workspace-stats derivations.
func (l *Logger) AllIndexEntries() []IndexEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]IndexEntry, len(l.index))
	copy(out, l.index)
	return out
}

// dirSize returns the total size of all non-archived session files.
func (l *Logger) dirSize() (int64, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return 0, fmt.Errorf("sessionlog: read dir: %w", err)
	}
	var total int64
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

// maybeRotate bundles the oldest sessions into a dated archive once the
// sessions directory exceeds rotateCap, marking their index entries
// archived.
func (l *Logger) maybeRotate() error {
	if l.rotateCap <= 0 {
		return nil
	}
	size, err := l.dirSize()
	if err != nil {
		return err
	}
	if size < l.rotateCap {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	sort.Slice(l.index, func(i, j int) bool { return l.index[i].StartedAt.Before(l.index[j].StartedAt) })

	if err := os.MkdirAll(l.archiveDir, 0o755); err != nil {
		return fmt.Errorf("sessionlog: mkdir archive: %w", err)
	}
	bundleName := fmt.Sprintf("%s.tar.gz", time.Now().Format("200601"))
	bundlePath := filepath.Join(l.archiveDir, bundleName)

	var toArchive []int
	var archived int64
	for i, e := range l.index {
		if e.Archived {
			continue
		}
		toArchive = append(toArchive, i)
		archived += e.SizeBytes
		if archived >= size/2 {
			break
		}
	}
	if len(toArchive) == 0 {
		return nil
	}

	if err := bundleSessions(l.dir, bundlePath, toArchive, l.index); err != nil {
		return err
	}
	for _, i := range toArchive {
		os.Remove(filepath.Join(l.dir, l.index[i].File))
		l.index[i].Archived = true
		if l.query != nil {
			_ = l.query.Upsert(l.index[i])
		}
	}
	return l.saveIndexLocked()
}

func bundleSessions(dir, bundlePath string, indices []int, index []IndexEntry) error {
	out, err := os.OpenFile(bundlePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("sessionlog: create bundle: %w", err)
	}
	defer out.Close()
	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	for _, i := range indices {
		e := index[i]
		path := filepath.Join(dir, e.File)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		hdr := &tar.Header{Name: e.File, Mode: 0o644, Size: int64(len(data))}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("sessionlog: tar header: %w", err)
		}
		if _, err := tw.Write(data); err != nil {
			return fmt.Errorf("sessionlog: tar write: %w", err)
		}
	}
	return nil
}
