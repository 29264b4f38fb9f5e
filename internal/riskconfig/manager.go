package riskconfig

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	riskerrors "github.com/ducminhle1904/risk-control-plane/internal/errors"
	"github.com/ducminhle1904/risk-control-plane/internal/logger"
)

const component = "risk_config"

// Options configures a Manager
type Options struct {
	Store  ProfileStore
	Audit  AuditSink
	Logger *logger.Logger
	Now    func() time.Time
}

// Manager holds the named risk profiles and records every change to them
type Manager struct {
	mu       sync.RWMutex
	profiles map[ProfileName]Tree

	// writeMu is held across mutate, save and audit. Readers only take mu.
	writeMu sync.Mutex

	store ProfileStore
	audit AuditSink
	log   *logger.Logger
	now   func() time.Time
}

// NewManager loads every builtin profile, writing the default tree back to
// the store when a profile is absent. A stored custom profile is loaded too.
func NewManager(opts Options) *Manager {
	m := &Manager{
		profiles: make(map[ProfileName]Tree),
		store:    opts.Store,
		audit:    opts.Audit,
		log:      logger.OrNop(opts.Logger),
		now:      opts.Now,
	}
	if m.store == nil {
		m.store = NewMemoryStore()
	}
	if m.audit == nil {
		m.audit = NewMemoryAuditLog()
	}
	if m.now == nil {
		m.now = time.Now
	}

	for _, name := range BuiltinProfiles() {
		tree, found, err := m.store.Load(name)
		if err != nil {
			m.log.Warning("failed to load profile %s, using defaults: %v", name, err)
		}
		if !found || err != nil {
			tree, _ = DefaultTree(name)
			if err == nil {
				if saveErr := m.store.Save(name, tree); saveErr != nil {
					m.log.Error("failed to write default profile %s: %v", name, saveErr)
				}
			}
		}
		m.profiles[name] = tree
	}

	if tree, found, err := m.store.Load(Custom); err != nil {
		m.log.Warning("failed to load custom profile: %v", err)
	} else if found {
		m.profiles[Custom] = tree
	}

	return m
}

// Profiles returns the loaded profile names in sorted order
func (m *Manager) Profiles() []ProfileName {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]ProfileName, 0, len(m.profiles))
	for name := range m.profiles {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Profile returns a deep copy of the named profile tree
func (m *Manager) Profile(name ProfileName) (Tree, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tree, ok := m.profiles[name]
	if !ok {
		return nil, false
	}
	return copyTree(tree), true
}

// resolveLocked returns the tree for profile, falling back to the default
// profile with a warning when it is unknown.
func (m *Manager) resolveLocked(profile ProfileName) (ProfileName, Tree) {
	if profile == "" {
		profile = DefaultProfile
	}
	if tree, ok := m.profiles[profile]; ok {
		return profile, tree
	}
	m.log.Warning("unknown risk profile %q, falling back to %s", profile, DefaultProfile)
	return DefaultProfile, m.profiles[DefaultProfile]
}

// GetParam walks a dot path such as "drawdown_limits.max_daily_drawdown".
// A missing path logs a warning and returns def.
func (m *Manager) GetParam(path string, profile ProfileName, def interface{}) interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	resolved, tree := m.resolveLocked(profile)
	value, ok := lookup(tree, path)
	if !ok {
		m.log.Warning("risk parameter %s missing in profile %s, using default %v", path, resolved, def)
		return def
	}
	return deepCopy(value)
}

// Float reads a numeric parameter
func (m *Manager) Float(path string, profile ProfileName, def float64) float64 {
	v := m.GetParam(path, profile, def)
	f, ok := toFloat(v)
	if !ok {
		m.log.Warning("risk parameter %s is not numeric (%T), using default %v", path, v, def)
		return def
	}
	return f
}

// Int reads an integer parameter
func (m *Manager) Int(path string, profile ProfileName, def int) int {
	v := m.GetParam(path, profile, def)
	f, ok := toFloat(v)
	if !ok {
		m.log.Warning("risk parameter %s is not numeric (%T), using default %d", path, v, def)
		return def
	}
	return int(f)
}

// Strings reads a list parameter
func (m *Manager) Strings(path string, profile ProfileName) []string {
	v := m.GetParam(path, profile, []string{})
	switch list := v.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		if list == "" {
			return nil
		}
		return strings.Split(list, ",")
	default:
		m.log.Warning("risk parameter %s is not a list (%T)", path, v)
		return nil
	}
}

// SetParam writes value at path, creating intermediate nodes, persists the
// profile and appends one audit entry. A store or audit failure is logged
// and does not undo the in-memory change.
func (m *Manager) SetParam(path string, value interface{}, profile ProfileName, reason string) error {
	keys, err := splitPath(path)
	if err != nil {
		return err
	}
	if profile == "" {
		profile = DefaultProfile
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	tree, ok := m.profiles[profile]
	if !ok {
		m.mu.Unlock()
		return riskerrors.Wrap(riskerrors.ErrUnknownProfile, riskerrors.CategoryConfiguration, component, "set_param")
	}

	old, _ := lookup(tree, path)
	old = deepCopy(old)
	if err := assign(tree, keys, deepCopy(value)); err != nil {
		m.mu.Unlock()
		return err
	}
	snapshot := copyTree(tree)
	m.mu.Unlock()

	if err := m.store.Save(profile, snapshot); err != nil {
		m.log.Error("failed to persist profile %s: %v", profile, err)
	}

	entry := AuditEntry{
		Timestamp: m.now().UTC(),
		Profile:   profile,
		Parameter: path,
		OldValue:  old,
		NewValue:  deepCopy(value),
		Reason:    reason,
	}
	if err := m.audit.Append(context.Background(), entry); err != nil {
		m.log.Error("failed to append audit entry for %s.%s: %v", profile, path, err)
	}

	m.log.Info("risk parameter %s.%s changed from %v to %v (%s)", profile, path, old, value, reason)
	return nil
}

// CreateCustomProfile copies template into the custom slot and persists it
func (m *Manager) CreateCustomProfile(template ProfileName) error {
	if template == "" {
		template = DefaultProfile
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	tree, ok := m.profiles[template]
	if !ok {
		m.mu.Unlock()
		return riskerrors.Wrap(riskerrors.ErrUnknownProfile, riskerrors.CategoryConfiguration, component, "create_custom_profile")
	}
	custom := copyTree(tree)
	m.profiles[Custom] = custom
	snapshot := copyTree(custom)
	m.mu.Unlock()

	if err := m.store.Save(Custom, snapshot); err != nil {
		m.log.Error("failed to persist custom profile: %v", err)
	}
	m.log.Info("custom risk profile created from %s", template)
	return nil
}

// AuditTrail returns every recorded change, oldest first
func (m *Manager) AuditTrail(ctx context.Context) ([]AuditEntry, error) {
	entries, err := m.audit.Entries(ctx)
	if err != nil {
		return nil, riskerrors.NewPersistenceError(component, "audit_trail", err)
	}
	return entries, nil
}

func splitPath(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, riskerrors.Wrap(riskerrors.ErrInvalidPath, riskerrors.CategoryValidation, component, "set_param")
	}
	keys := strings.Split(path, ".")
	for _, k := range keys {
		if k == "" {
			return nil, riskerrors.Wrap(fmt.Errorf("%w: %q", riskerrors.ErrInvalidPath, path), riskerrors.CategoryValidation, component, "set_param")
		}
	}
	return keys, nil
}

func lookup(tree Tree, path string) (interface{}, bool) {
	if tree == nil || path == "" {
		return nil, false
	}
	var node interface{} = tree
	for _, key := range strings.Split(path, ".") {
		m, ok := node.(map[string]interface{})
		if !ok {
			return nil, false
		}
		node, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

func assign(tree Tree, keys []string, value interface{}) error {
	node := tree
	for i, key := range keys[:len(keys)-1] {
		child, exists := node[key]
		if !exists {
			next := make(map[string]interface{})
			node[key] = next
			node = next
			continue
		}
		next, ok := child.(map[string]interface{})
		if !ok {
			path := strings.Join(keys[:i+1], ".")
			return riskerrors.Wrap(fmt.Errorf("%w: %s is a value, not a category", riskerrors.ErrInvalidPath, path),
				riskerrors.CategoryValidation, component, "set_param")
		}
		node = next
	}
	node[keys[len(keys)-1]] = value
	return nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
