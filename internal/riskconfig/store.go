package riskconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// ProfileStore persists one parameter tree per profile
type ProfileStore interface {
	// Load returns found=false when the profile has never been saved
	Load(name ProfileName) (tree Tree, found bool, err error)
	Save(name ProfileName, tree Tree) error
}

// YAMLStore keeps each profile in <dir>/<profile>.yaml
type YAMLStore struct {
	mu  sync.Mutex
	dir string
}

// NewYAMLStore creates the profile directory if needed
func NewYAMLStore(dir string) (*YAMLStore, error) {
	if dir == "" {
		dir = "risk_profiles"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}
	return &YAMLStore{dir: dir}, nil
}

func (s *YAMLStore) path(name ProfileName) string {
	return filepath.Join(s.dir, string(name)+".yaml")
}

// Load implements ProfileStore
func (s *YAMLStore) Load(name ProfileName) (Tree, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(name))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read profile %s: %w", name, err)
	}

	tree := make(Tree)
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, false, fmt.Errorf("failed to parse profile %s: %w", name, err)
	}
	return tree, true, nil
}

// Save writes the profile to a temp file and renames it into place
func (s *YAMLStore) Save(name ProfileName, tree Tree) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(tree)
	if err != nil {
		return fmt.Errorf("failed to marshal profile %s: %w", name, err)
	}

	target := s.path(name)
	tempFile := target + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary profile file: %w", err)
	}
	if err := os.Rename(tempFile, target); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to commit profile file: %w", err)
	}
	return nil
}

// MemoryStore is a ProfileStore for tests and dry runs
type MemoryStore struct {
	mu    sync.Mutex
	trees map[ProfileName]Tree
	err   error
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{trees: make(map[ProfileName]Tree)}
}

// Load implements ProfileStore
func (m *MemoryStore) Load(name ProfileName) (Tree, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tree, ok := m.trees[name]
	return copyTree(tree), ok, nil
}

// Save implements ProfileStore
func (m *MemoryStore) Save(name ProfileName, tree Tree) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.trees[name] = copyTree(tree)
	return nil
}

// FailWith makes subsequent saves fail with err
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
