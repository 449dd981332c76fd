// Package audit provides the append-only record of every proposal state
// transition and engine config change. Entries are JSON lines flushed and
// fsynced on write; the engine never edits or truncates what it has written.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yairfalse/vahti/types"
)

// Event classifies an audit entry.
type Event string

const (
	EventProposalCreated  Event = "proposal_created"
	EventTransition       Event = "transition"
	EventSuperseded       Event = "superseded"
	EventEvidenceAttached Event = "evidence_attached"
	EventMonitorOnly      Event = "monitor_only"
	EventConfigChanged    Event = "config_changed"
)

// Entry is a single audit record. Proposal fields are set for lifecycle
// events, config fields for config changes.
type Entry struct {
	Timestamp    time.Time           `json:"timestamp"`
	Sequence     int64               `json:"sequence"`
	Event        Event               `json:"event"`
	Actor        string              `json:"actor"`
	ProposalID   string              `json:"proposal_id,omitempty"`
	Target       string              `json:"target,omitempty"`
	FromStatus   types.Status        `json:"from_status,omitempty"`
	ToStatus     types.Status        `json:"to_status,omitempty"`
	ConfigBefore *types.EngineConfig `json:"config_before,omitempty"`
	ConfigAfter  *types.EngineConfig `json:"config_after,omitempty"`
	Detail       string              `json:"detail,omitempty"`
}

// Log is the append-only audit sink.
type Log struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	sequence int64
	dir      string
}

// Open creates or opens an audit log in the specified directory.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	// Timestamp in the filename for rotation.
	filename := fmt.Sprintf("vahti-%s.audit", time.Now().Format("20060102-150405"))
	path := filepath.Join(dir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) // #nosec G304 -- operator-chosen directory
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}

	l := &Log{
		file:   file,
		writer: bufio.NewWriter(file),
		dir:    dir,
	}

	if err := l.loadSequence(); err != nil {
		_ = file.Close()
		return nil, err
	}

	return l, nil
}

// Close flushes and closes the log.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.writer.Flush(); err != nil {
		return err
	}
	return l.file.Close()
}

// Append writes one entry. Timestamp and sequence are assigned here.
func (l *Log) Append(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sequence++
	entry.Sequence = l.sequence
	entry.Timestamp = time.Now()

	return l.writeEntry(entry)
}

// writeEntry writes a single entry and syncs to disk.
func (l *Log) writeEntry(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	if _, err := l.writer.Write(line); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}

	if _, err := l.writer.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	// Flush immediately for durability
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	return l.file.Sync()
}

// loadSequence restores the sequence counter from existing files so numbers
// stay monotonic across restarts.
func (l *Log) loadSequence() error {
	files, err := filepath.Glob(filepath.Join(l.dir, "vahti-*.audit"))
	if err != nil {
		return fmt.Errorf("failed to list audit files: %w", err)
	}

	var last int64
	for _, file := range files {
		seq, err := lastSequenceInFile(file)
		if err != nil {
			return err
		}
		if seq > last {
			last = seq
		}
	}

	l.sequence = last
	return nil
}

func lastSequenceInFile(path string) (int64, error) {
	reader, err := NewReader(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = reader.Close() }()

	var last int64
	for {
		entry, err := reader.Next()
		if err == io.EOF {
			return last, nil
		}
		if err != nil {
			return 0, err
		}
		last = entry.Sequence
	}
}

// Reader replays a single audit file.
type Reader struct {
	scanner *bufio.Scanner
	file    *os.File
}

// NewReader creates a reader for the specified file.
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path) // #nosec G304 -- path comes from our own glob
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}

	return &Reader{
		scanner: bufio.NewScanner(file),
		file:    file,
	}, nil
}

// Next reads the next entry.
func (r *Reader) Next() (*Entry, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	var entry Entry
	if err := json.Unmarshal(r.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}

	return &entry, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Replay invokes handler for every entry after since, across all files in dir.
func Replay(dir string, since time.Time, handler func(*Entry) error) error {
	files, err := filepath.Glob(filepath.Join(dir, "vahti-*.audit"))
	if err != nil {
		return fmt.Errorf("failed to list audit files: %w", err)
	}

	for _, file := range files {
		if err := replayFile(file, since, handler); err != nil {
			return err
		}
	}

	return nil
}

func replayFile(path string, since time.Time, handler func(*Entry) error) error {
	reader, err := NewReader(path)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()

	for {
		entry, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		if entry.Timestamp.After(since) {
			if err := handler(entry); err != nil {
				return err
			}
		}
	}
}
