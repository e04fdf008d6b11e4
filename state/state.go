// Package state keeps a journal of input files that were archived in full,
// so an interrupted batch can resume without rereading them.
package state

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

const journalName = "archived.jsonl"

// Input identifies one version of an input file. A file that changes size or
// modification time is a new input.
type Input struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Stat describes the current version of path.
func Stat(fs afero.Fs, path string) (Input, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return Input{}, fmt.Errorf("stat input: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return Input{Path: abs, Size: info.Size(), ModTime: info.ModTime()}, nil
}

func (i Input) Key() string {
	return i.Path + "|" + strconv.FormatInt(i.Size, 10) + "|" + strconv.FormatInt(i.ModTime.UnixNano(), 10)
}

type Tracker interface {
	AlreadyArchived(in Input) bool
	MarkArchived(in Input, summary string) error
	Snapshot() Snapshot
}

type Snapshot struct {
	Archived int
}

type MemoryTracker struct {
	mu       sync.RWMutex
	archived map[string]string
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{archived: make(map[string]string)}
}

func (m *MemoryTracker) AlreadyArchived(in Input) bool {
	m.mu.RLock()
	_, ok := m.archived[in.Key()]
	m.mu.RUnlock()
	return ok
}

func (m *MemoryTracker) MarkArchived(in Input, summary string) error {
	m.mu.Lock()
	m.archived[in.Key()] = summary
	m.mu.Unlock()
	return nil
}

func (m *MemoryTracker) Snapshot() Snapshot {
	m.mu.RLock()
	count := len(m.archived)
	m.mu.RUnlock()
	return Snapshot{Archived: count}
}

// FileTracker appends every archived input to a JSON lines journal.
type FileTracker struct {
	*MemoryTracker
	fs      afero.Fs
	path    string
	writer  *bufio.Writer
	file    afero.File
	writeMu sync.Mutex
}

type fileRecord struct {
	Key        string    `json:"key"`
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	ModTime    time.Time `json:"mtime"`
	Summary    string    `json:"summary,omitempty"`
	ArchivedAt time.Time `json:"archived_at"`
}

func NewFileTracker(fs afero.Fs, stateDir string) (*FileTracker, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, fmt.Errorf("state directory is empty")
	}

	if err := fs.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	tracker := &FileTracker{
		MemoryTracker: NewMemoryTracker(),
		fs:            fs,
		path:          filepath.Join(stateDir, journalName),
	}

	if err := tracker.load(); err != nil {
		return nil, err
	}

	file, err := fs.OpenFile(tracker.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open state file for append: %w", err)
	}
	tracker.file = file
	tracker.writer = bufio.NewWriterSize(file, 64*1024)

	return tracker, nil
}

func (f *FileTracker) load() error {
	file, err := f.fs.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}

		var record fileRecord
		if err := json.Unmarshal(text, &record); err != nil {
			return fmt.Errorf("parse state line %d: %w", line, err)
		}
		if record.Key == "" {
			continue
		}

		f.mu.Lock()
		f.archived[record.Key] = record.Summary
		f.mu.Unlock()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read state file: %w", err)
	}

	return nil
}

func (f *FileTracker) MarkArchived(in Input, summary string) error {
	key := in.Key()

	f.mu.Lock()
	if _, exists := f.archived[key]; exists {
		f.mu.Unlock()
		return nil
	}
	f.archived[key] = summary
	f.mu.Unlock()

	record := fileRecord{
		Key:        key,
		Path:       in.Path,
		Size:       in.Size,
		ModTime:    in.ModTime,
		Summary:    summary,
		ArchivedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode state record: %w", err)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if _, err := f.writer.Write(data); err != nil {
		return fmt.Errorf("write state record: %w", err)
	}
	if err := f.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}

	return nil
}

// Flush writes any buffered data to the underlying file.
func (f *FileTracker) Flush() error {
	if f.writer == nil {
		return nil
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if err := f.writer.Flush(); err != nil {
		return fmt.Errorf("flush state file: %w", err)
	}
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("sync state file: %w", err)
	}
	return nil
}

// Close flushes and closes the state file.
func (f *FileTracker) Close() error {
	if f.file == nil {
		return nil
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	var firstErr error
	if err := f.writer.Flush(); err != nil {
		firstErr = fmt.Errorf("flush state file: %w", err)
	}
	if err := f.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync state file: %w", err)
	}
	if err := f.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close state file: %w", err)
	}
	f.file = nil

	return firstErr
}
