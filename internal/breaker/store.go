package breaker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StateStore persists the full breaker record set, keyed by record key
type StateStore interface {
	Save(ctx context.Context, records map[string]Record) error
	Load(ctx context.Context) (map[string]Record, error)
}

// FileStore keeps breaker state in a single JSON document
type FileStore struct {
	mu       sync.Mutex
	filePath string
}

// NewFileStore creates a file-backed state store
func NewFileStore(filePath string) (*FileStore, error) {
	if filePath == "" {
		filePath = "circuit_breakers.json"
	}

	dir := filepath.Dir(filePath)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	return &FileStore{filePath: filePath}, nil
}

// Path returns the state file path
func (f *FileStore) Path() string {
	return f.filePath
}

// Save writes the record set to a temp file and renames it into place
func (f *FileStore) Save(_ context.Context, records map[string]Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if records == nil {
		records = map[string]Record{}
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal breaker state: %w", err)
	}

	tempFile := f.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary state file: %w", err)
	}

	if err := os.Rename(tempFile, f.filePath); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to commit state file: %w", err)
	}

	return nil
}

// Load reads the record set. A missing file is an empty state.
func (f *FileStore) Load(_ context.Context) (map[string]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.filePath)
	if os.IsNotExist(err) {
		return map[string]Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read breaker state file: %w", err)
	}

	records := make(map[string]Record)
	if len(data) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal breaker state: %w", err)
	}
	return records, nil
}

// Backup copies the current state file next to itself with a timestamp
// suffix and returns the backup path.
func (f *FileStore) Backup() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read state file for backup: %w", err)
	}

	backupPath := fmt.Sprintf("%s.backup_%s", f.filePath, time.Now().Format("20060102_150405"))
	if err := os.WriteFile(backupPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to create backup file: %w", err)
	}
	return backupPath, nil
}

// MemoryStore keeps the last saved record set in memory
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	saves   int
	err     error
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Save implements StateStore
func (m *MemoryStore) Save(_ context.Context, records map[string]Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = make(map[string]Record, len(records))
	for k, r := range records {
		m.records[k] = r.clone()
	}
	m.saves++
	return nil
}

// Load implements StateStore
func (m *MemoryStore) Load(_ context.Context) (map[string]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Record, len(m.records))
	for k, r := range m.records {
		out[k] = r.clone()
	}
	return out, nil
}

// Saves returns how many successful saves the store has seen
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// FailWith makes subsequent saves return err. nil restores normal behaviour.
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
