package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/haasonsaas/tauforge/internal/dialogue"
)

// SaveConversations writes the list as a pretty-printed JSON array. The
// write lands via temp file + rename so readers never observe a partial
// file. With backup set, an existing file is renamed aside first, to
// `<path>.backup_<YYYYMMDD_HHMMSS>`.
func SaveConversations(path string, conversations []dialogue.Conversation, backup bool) error {
	if conversations == nil {
		conversations = []dialogue.Conversation{}
	}
	data, err := json.MarshalIndent(conversations, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode conversations: %w", err)
	}

	if backup {
		if _, statErr := os.Stat(path); statErr == nil {
			backupPath := fmt.Sprintf("%s.backup_%s", path, time.Now().Format("20060102_150405"))
			if err := os.Rename(path, backupPath); err != nil {
				return fmt.Errorf("failed to back up existing output: %w", err)
			}
		}
	}

	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// LoadConversations reads a JSON array of conversation records, as written
// by SaveConversations or by the checkpoint finalizer.
func LoadConversations(path string) ([]dialogue.Conversation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read conversations: %w", err)
	}
	var list []dialogue.Conversation
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("%s is not a conversation array: %w", path, err)
	}
	return list, nil
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
