// Package workspace manages the per-round output directories of a harvest.
//
// The manager is the only writer and deleter of round directories. Each
// round lives under <root>/<i>; once round i+1 has been produced, round i
// is retired. Retirement either deletes the directory immediately or, under
// the deferred policy, marks it and removes it in a final garbage-collection
// pass after the whole run succeeds.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// RetentionPolicy controls when retired rounds are removed from disk.
type RetentionPolicy string

const (
	// RetainImmediate deletes a round as soon as its successor is produced.
	RetainImmediate RetentionPolicy = "immediate"
	// RetainDeferred marks retired rounds and deletes them in Collect.
	RetainDeferred RetentionPolicy = "deferred"
)

// IsValid checks if the policy value is valid
func (p RetentionPolicy) IsValid() bool {
	return p == RetainImmediate || p == RetainDeferred
}

// RetiredMarker is written into a round directory retired under the
// deferred policy.
const RetiredMarker = "_RETIRED"

// FileStatus describes one entry of a directory listing.
type FileStatus struct {
	Path    string
	Name    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// RoundPaths are the derived locations of one round's artifacts.
type RoundPaths struct {
	Root           string
	Contexts       string
	ContextsScored string
	ContextsTop    string
	Patterns       string
	PatternsScored string
}

// ScoredContextsRaw is the seed-compatible scored context collection.
func (p RoundPaths) ScoredContextsRaw() string {
	return filepath.Join(p.ContextsScored, "scored-contexts-raw")
}

// ScoredPatternsRaw is the seed-compatible scored pattern collection.
func (p RoundPaths) ScoredPatternsRaw() string {
	return filepath.Join(p.PatternsScored, "scored-patterns-raw")
}

// Manager creates, lists, and retires round directories under a root.
type Manager struct {
	root    string
	policy  RetentionPolicy
	pending []string
	log     *zap.Logger
}

// New creates a manager for root. A nil logger disables logging.
func New(root string, policy RetentionPolicy, log *zap.Logger) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root cannot be empty")
	}
	if policy == "" {
		policy = RetainImmediate
	}
	if !policy.IsValid() {
		return nil, fmt.Errorf("invalid retention policy %q", policy)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{root: root, policy: policy, log: log}, nil
}

// Root returns the workspace root directory.
func (m *Manager) Root() string { return m.root }

// Policy returns the retention policy in effect.
func (m *Manager) Policy() RetentionPolicy { return m.policy }

// RoundDir returns the directory of round i.
func (m *Manager) RoundDir(i int) string {
	return filepath.Join(m.root, strconv.Itoa(i))
}

// Paths returns the derived artifact locations of round i.
func (m *Manager) Paths(i int) RoundPaths {
	dir := m.RoundDir(i)
	return RoundPaths{
		Root:           dir,
		Contexts:       filepath.Join(dir, "contexts"),
		ContextsScored: filepath.Join(dir, "contexts-scored"),
		ContextsTop:    filepath.Join(dir, "contexts-scored-top"),
		Patterns:       filepath.Join(dir, "patterns"),
		PatternsScored: filepath.Join(dir, "patterns-scored"),
	}
}

// CreateDirectory creates path and any missing parents.
func (m *Manager) CreateDirectory(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// RemoveDirectory removes path and everything below it. Removing a path
// that does not exist is not an error.
func (m *Manager) RemoveDirectory(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove directory %s: %w", path, err)
	}
	m.log.Debug("removed directory", zap.String("path", path))
	return nil
}

// ListEntries returns the entries of a directory sorted by name. A missing
// directory yields an empty listing.
func (m *Manager) ListEntries(path string) ([]FileStatus, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", path, err)
	}

	statuses := make([]FileStatus, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", filepath.Join(path, entry.Name()), err)
		}
		statuses = append(statuses, FileStatus{
			Path:    filepath.Join(path, entry.Name()),
			Name:    entry.Name(),
			IsDir:   entry.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses, nil
}

// roundEntries are the names that only a round directory holds.
var roundEntries = map[string]bool{
	"contexts":            true,
	"contexts-scored":     true,
	"contexts-scored-top": true,
	"patterns":            true,
	"patterns-scored":     true,
	"_split-contexts":     true,
	"_split-patterns":     true,
	RetiredMarker:         true,
}

// IsRoundDir reports whether path is a round directory: it is empty or
// holds only round artifacts. A missing path is not a round directory.
func (m *Manager) IsRoundDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if !info.IsDir() {
		return false, nil
	}
	entries, err := m.ListEntries(path)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if !roundEntries[e.Name] {
			return false, nil
		}
	}
	return true, nil
}

// Rounds returns the indices of the round directories present under the
// root, ascending. Numeric directories holding anything other than round
// artifacts are not rounds and are never touched.
func (m *Manager) Rounds() ([]int, error) {
	entries, err := m.ListEntries(m.root)
	if err != nil {
		return nil, err
	}
	var rounds []int
	for _, e := range entries {
		if !e.IsDir {
			continue
		}
		i, err := strconv.Atoi(e.Name)
		if err != nil || i < 0 {
			continue
		}
		ok, err := m.IsRoundDir(e.Path)
		if err != nil {
			return nil, err
		}
		if !ok {
			m.log.Debug("skipping foreign directory", zap.String("path", e.Path))
			continue
		}
		rounds = append(rounds, i)
	}
	sort.Ints(rounds)
	return rounds, nil
}

// ForeignDirError reports a directory at a round's location that does not
// belong to any round.
type ForeignDirError struct {
	Path string
}

func (e *ForeignDirError) Error() string {
	return fmt.Sprintf("%s exists and is not a round directory", e.Path)
}

// CheckRound returns a *ForeignDirError when round i's location is taken
// by a directory or file that is not a round.
func (m *Manager) CheckRound(i int) error {
	dir := m.RoundDir(i)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	ok, err := m.IsRoundDir(dir)
	if err != nil {
		return err
	}
	if !ok {
		return &ForeignDirError{Path: dir}
	}
	return nil
}

// PrepareRound creates round i's directory, discarding anything a previous
// aborted run left there. It refuses to replace a foreign directory.
func (m *Manager) PrepareRound(i int) (RoundPaths, error) {
	paths := m.Paths(i)
	if err := m.CheckRound(i); err != nil {
		return paths, err
	}
	if err := m.RemoveDirectory(paths.Root); err != nil {
		return paths, err
	}
	if err := m.CreateDirectory(paths.Root); err != nil {
		return paths, err
	}
	return paths, nil
}

// Retire disposes of round i's directory according to the retention
// policy. It must only be called once round i+1 has been fully produced.
func (m *Manager) Retire(i int) error {
	dir := m.RoundDir(i)
	switch m.policy {
	case RetainDeferred:
		marker := filepath.Join(dir, RetiredMarker)
		if err := os.WriteFile(marker, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0644); err != nil {
			return fmt.Errorf("failed to mark round %d retired: %w", i, err)
		}
		m.pending = append(m.pending, dir)
		m.log.Debug("round marked for deletion", zap.Int("round", i), zap.String("dir", dir))
		return nil
	default:
		if err := m.RemoveDirectory(dir); err != nil {
			return err
		}
		m.log.Debug("round retired", zap.Int("round", i), zap.String("dir", dir))
		return nil
	}
}

// Pending returns the directories awaiting garbage collection.
func (m *Manager) Pending() []string {
	out := make([]string, len(m.pending))
	copy(out, m.pending)
	return out
}

// Collect removes every round retired under the deferred policy. It is
// called only after the run has succeeded. Returns the number of
// directories removed.
func (m *Manager) Collect() (int, error) {
	removed := 0
	for len(m.pending) > 0 {
		dir := m.pending[0]
		if err := m.RemoveDirectory(dir); err != nil {
			return removed, err
		}
		m.pending = m.pending[1:]
		removed++
	}
	return removed, nil
}
