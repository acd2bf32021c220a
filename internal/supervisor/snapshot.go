package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fentz26/conductor/internal/models"
)

// WriteSnapshot fully replaces the snapshot file. An empty snapshot removes it.
func WriteSnapshot(path string, snap models.ProcessSnapshot) error {
	if path == "" {
		return nil
	}
	if len(snap) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove snapshot: %w", err)
		}
		return nil
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".processes-*.json")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot reads a snapshot file. A missing file is an empty snapshot.
func ReadSnapshot(path string) (models.ProcessSnapshot, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return models.ProcessSnapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	snap := models.ProcessSnapshot{}
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return snap, nil
}
