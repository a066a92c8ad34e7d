// Package progress persists generation checkpoints so an interrupted run
// can resume without repeating completed work. The checkpoint is a single
// JSON file replaced atomically on every save; the durability contract is
// that once Save returns, everything passed to it is on stable storage.
package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/haasonsaas/tauforge/internal/dialogue"
)

// Checkpoint is the on-disk record. Resume is only permitted when the
// stored fingerprint matches the current configuration.
type Checkpoint struct {
	TargetCount       int                     `json:"target_count"`
	Completed         []dialogue.Conversation `json:"completed"`
	ConfigFingerprint string                  `json:"config_fingerprint"`
}

// Count returns the number of completed conversations.
func (c *Checkpoint) Count() int {
	return len(c.Completed)
}

// Remaining returns how many conversations are still needed for target.
func (c *Checkpoint) Remaining(target int) int {
	if r := target - len(c.Completed); r > 0 {
		return r
	}
	return 0
}

// IsComplete reports whether the checkpoint already covers target.
func (c *Checkpoint) IsComplete(target int) bool {
	return target > 0 && len(c.Completed) >= target
}

// Store reads and writes the checkpoint file for one output path.
type Store struct {
	mu          sync.Mutex
	path        string
	fingerprint string
	now         func() time.Time
}

// NewStore creates a store for the checkpoint at path. fingerprint is the
// hash of the current configuration; Load compares it against the stored
// one.
func NewStore(path, fingerprint string) *Store {
	return &Store{
		path:        path,
		fingerprint: fingerprint,
		now:         time.Now,
	}
}

// Path returns the checkpoint file path.
func (s *Store) Path() string {
	return s.path
}

// HasProgress reports whether a checkpoint file exists.
func (s *Store) HasProgress() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Load reads the checkpoint. An absent file yields an empty checkpoint and
// a fingerprint match; anything the file holds beyond valid JSON is the
// caller's problem to interpret.
func (s *Store) Load() (*Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Checkpoint{Completed: []dialogue.Conversation{}}, true, nil
		}
		return nil, false, fmt.Errorf("failed to read progress file: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, false, fmt.Errorf("progress file is corrupt: %w", err)
	}
	if cp.Completed == nil {
		cp.Completed = []dialogue.Conversation{}
	}
	return &cp, cp.ConfigFingerprint == s.fingerprint, nil
}

// Save replaces the checkpoint with the full completed list. The write
// goes to a temp file first and lands via rename, so a crash mid-save
// never truncates existing progress.
func (s *Store) Save(completed []dialogue.Conversation, target int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if completed == nil {
		completed = []dialogue.Conversation{}
	}
	cp := Checkpoint{
		TargetCount:       target,
		Completed:         completed,
		ConfigFingerprint: s.fingerprint,
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := writeFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	return nil
}

// Backup renames the checkpoint to `<path>.backup_<YYYYMMDD_HHMMSS>` and
// returns the backup path. Backing up an absent file is a no-op.
func (s *Store) Backup() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	backupPath := fmt.Sprintf("%s.backup_%s", s.path, s.now().Format("20060102_150405"))
	if err := os.Rename(s.path, backupPath); err != nil {
		return "", fmt.Errorf("failed to back up progress: %w", err)
	}
	return backupPath, nil
}

// Clean removes the checkpoint file. Missing files are fine.
func (s *Store) Clean() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove progress file: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
