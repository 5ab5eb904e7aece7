package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// StateStore persists the last block the journal has seen.
type StateStore interface {
	Load(ctx context.Context) (uint64, bool, error)
	Save(ctx context.Context, block uint64) error
}

// FileStateStore keeps the journal progress of one contract in a JSON file.
// An empty Path disables it. When Address is set, a file written for another
// contract is rejected instead of silently resuming from the wrong block.
type FileStateStore struct {
	Path    string
	Address string
	ChainID uint64
}

type progressFile struct {
	Address   string `json:"address,omitempty"`
	ChainID   uint64 `json:"chain_id,omitempty"`
	LastBlock uint64 `json:"last_processed_block"`
	SavedAt   string `json:"saved_at"`
}

func (s *FileStateStore) Load(_ context.Context) (uint64, bool, error) {
	if s == nil || s.Path == "" {
		return 0, false, nil
	}
	raw, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read progress %s: %w", s.Path, err)
	}

	var p progressFile
	if err := json.Unmarshal(raw, &p); err != nil {
		return 0, false, fmt.Errorf("parse progress %s: %w", s.Path, err)
	}
	if s.Address != "" && p.Address != "" && !strings.EqualFold(s.Address, p.Address) {
		return 0, false, fmt.Errorf("progress %s belongs to contract %s, not %s", s.Path, p.Address, s.Address)
	}
	if s.ChainID != 0 && p.ChainID != 0 && s.ChainID != p.ChainID {
		return 0, false, fmt.Errorf("progress %s belongs to chain %d, not %d", s.Path, p.ChainID, s.ChainID)
	}
	return p.LastBlock, true, nil
}

func (s *FileStateStore) Save(_ context.Context, block uint64) error {
	if s == nil || s.Path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("create progress dir: %w", err)
	}

	raw, err := json.Marshal(progressFile{
		Address:   s.Address,
		ChainID:   s.ChainID,
		LastBlock: block,
		SavedAt:   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write progress: %w", err)
	}
	return os.Rename(tmp, s.Path)
}
