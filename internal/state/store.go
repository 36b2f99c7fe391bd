// Package state persists per-session indicator snapshots so sessions resume
// after a restart without recomputing from scratch. Positions are not
// persisted; they are recovered from the exchange on start.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hemalabs/hedgegrid/internal/indicators"
)

// cciTailSize is how many trailing CCI values are kept in a snapshot.
const cciTailSize = 50

// IndicatorSnapshot is the persisted indicator state of one session.
type IndicatorSnapshot struct {
	UserID     string              `json:"userId"`
	Symbol     string              `json:"symbol"`
	SAR        indicators.SARState `json:"sar"`
	CCIHistory []float64           `json:"cciHistory,omitempty"`
	SavedAt    time.Time           `json:"savedAt"`
}

// Store reads and writes snapshots under a base directory, one file per
// session.
type Store struct {
	dir string
}

// NewStore creates the base directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(userID string) string {
	return filepath.Join(s.dir, userID+".json")
}

// Save writes a snapshot atomically via a temp file and rename. The CCI
// history is truncated to its tail.
func (s *Store) Save(snapshot IndicatorSnapshot) error {
	if len(snapshot.CCIHistory) > cciTailSize {
		snapshot.CCIHistory = snapshot.CCIHistory[len(snapshot.CCIHistory)-cciTailSize:]
	}
	snapshot.SavedAt = time.Now().UTC()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp := s.path(snapshot.UserID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path(snapshot.UserID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// Load reads a session's snapshot. Returns (snapshot, false, nil) when none
// exists.
func (s *Store) Load(userID string) (IndicatorSnapshot, bool, error) {
	data, err := os.ReadFile(s.path(userID))
	if errors.Is(err, os.ErrNotExist) {
		return IndicatorSnapshot{}, false, nil
	}
	if err != nil {
		return IndicatorSnapshot{}, false, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot IndicatorSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return IndicatorSnapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snapshot, true, nil
}

// Delete removes a session's snapshot; missing files are not an error.
func (s *Store) Delete(userID string) error {
	err := os.Remove(s.path(userID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}
