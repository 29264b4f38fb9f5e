package riskconfig

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// AuditEntry records one parameter change. Entries are never mutated.
type AuditEntry struct {
	Timestamp time.Time   `json:"timestamp" db:"ts"`
	Profile   ProfileName `json:"profile" db:"profile"`
	Parameter string      `json:"parameter" db:"parameter"`
	OldValue  interface{} `json:"old_value" db:"-"`
	NewValue  interface{} `json:"new_value" db:"-"`
	Reason    string      `json:"reason" db:"reason"`
}

// AuditSink is an append-only store of audit entries
type AuditSink interface {
	Append(ctx context.Context, entry AuditEntry) error
	Entries(ctx context.Context) ([]AuditEntry, error)
}

// FileAuditLog appends one JSON object per line
type FileAuditLog struct {
	mu   sync.Mutex
	path string
}

// NewFileAuditLog creates the log directory if needed
func NewFileAuditLog(path string) (*FileAuditLog, error) {
	if path == "" {
		path = "risk_audit.log"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
	}
	return &FileAuditLog{path: path}, nil
}

// Append implements AuditSink
func (f *FileAuditLog) Append(_ context.Context, entry AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// Entries implements AuditSink. Unparseable lines are skipped.
func (f *FileAuditLog) Entries(_ context.Context) ([]AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer file.Close()

	var entries []AuditEntry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("failed to read audit log: %w", err)
	}
	return entries, nil
}

// MemoryAuditLog keeps entries in memory
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// NewMemoryAuditLog creates an empty in-memory audit log
func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{}
}

// Append implements AuditSink
func (m *MemoryAuditLog) Append(_ context.Context, entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

// Entries implements AuditSink
func (m *MemoryAuditLog) Entries(_ context.Context) ([]AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEntry(nil), m.entries...), nil
}

// MultiSink fans an entry out to several sinks. Entries are read from the
// first sink.
type MultiSink []AuditSink

// Append implements AuditSink; the first error is returned after every sink
// has been tried.
func (m MultiSink) Append(ctx context.Context, entry AuditEntry) error {
	var first error
	for _, s := range m {
		if err := s.Append(ctx, entry); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Entries implements AuditSink
func (m MultiSink) Entries(ctx context.Context) ([]AuditEntry, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return m[0].Entries(ctx)
}
