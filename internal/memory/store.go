// Package memory is the file-backed blob store that keeps session context
// small: full candidate records live on disk as individual JSON files with
// an index, and only lightweight refs stay in the session.
package memory

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trendradar/orchestrator/internal/metrics"
	"github.com/trendradar/orchestrator/internal/models"
)

const (
	indexFile      = "index.json"
	itemsDir       = "items"
	scratchpadFile = "scratchpad.md"
)

// ErrNotFound is returned when a ref id has no stored record.
var ErrNotFound = errors.New("blob not found")

type index struct {
	Items     []models.ItemRef `json:"items"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Store is a directory-backed item store. Safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	dir    string
	idx    index
	logger *zap.Logger
}

// NewStore opens (or creates) a store rooted at dir and loads the existing
// index, so a restarted session can resume over its previous blobs.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, itemsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	s := &Store{dir: dir, logger: logger}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(s.dir, indexFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read blob index: %w", err)
	}
	if err := json.Unmarshal(data, &s.idx); err != nil {
		return fmt.Errorf("decode blob index: %w", err)
	}
	s.logger.Info("Blob index restored",
		zap.String("dir", s.dir),
		zap.Int("items", len(s.idx.Items)),
	)
	return nil
}

// RefID derives the stable blob id for a record: the first 12 hex chars of
// the md5 of its URL, falling back to the title for url-less records.
func RefID(item *models.CollectedItem) string {
	key := item.URL
	if key == "" {
		key = item.Title
	}
	sum := md5.Sum([]byte(key))
	return hex.EncodeToString(sum[:])[:12]
}

// Put writes one item and returns its ref. Re-putting the same URL
// overwrites the blob and keeps a single index entry.
func (s *Store) Put(item *models.CollectedItem) (models.ItemRef, error) {
	data, err := models.EncodeItem(item)
	if err != nil {
		return models.ItemRef{}, fmt.Errorf("encode item: %w", err)
	}
	ref := models.ItemRef{
		RefID:     RefID(item),
		URL:       item.URL,
		Title:     item.Title,
		Platform:  item.Platform,
		ViewCount: item.ViewCount,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, itemsDir, ref.RefID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return models.ItemRef{}, fmt.Errorf("write blob: %w", err)
	}

	replaced := false
	for i := range s.idx.Items {
		if s.idx.Items[i].RefID == ref.RefID {
			s.idx.Items[i] = ref
			replaced = true
			break
		}
	}
	if !replaced {
		s.idx.Items = append(s.idx.Items, ref)
	}
	if err := s.writeIndexLocked(); err != nil {
		return models.ItemRef{}, err
	}
	return ref, nil
}

// PutAll externalizes a batch, skipping items that fail to encode or write
// rather than aborting the batch.
func (s *Store) PutAll(items []models.CollectedItem) []models.ItemRef {
	refs := make([]models.ItemRef, 0, len(items))
	for i := range items {
		ref, err := s.Put(&items[i])
		if err != nil {
			s.logger.Warn("Externalizing item failed",
				zap.String("url", items[i].URL),
				zap.Error(err),
			)
			continue
		}
		refs = append(refs, ref)
		metrics.ItemsExternalized.Inc()
	}
	return refs
}

// Get loads a stored item by ref id.
func (s *Store) Get(refID string) (*models.CollectedItem, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, itemsDir, refID+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, refID)
	}
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", refID, err)
	}
	return models.DecodeItem(data)
}

// Refs returns a copy of the index entries.
func (s *Store) Refs() []models.ItemRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ItemRef, len(s.idx.Items))
	copy(out, s.idx.Items)
	return out
}

// AppendScratchpad appends one timestamped note to the session scratchpad
// file.
func (s *Store) AppendScratchpad(note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(filepath.Join(s.dir, scratchpadFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open scratchpad: %w", err)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "- [%s] %s\n", time.Now().Format(time.RFC3339), note)
	return err
}

// Cleanup drops blobs older than the retention window by index update time.
// A zero retention disables cleanup.
func (s *Store) Cleanup(retention time.Duration) error {
	if retention <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-retention)
	entries, err := os.ReadDir(filepath.Join(s.dir, itemsDir))
	if err != nil {
		return fmt.Errorf("scan blob dir: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, itemsDir, entry.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("Blob store cleaned up", zap.Int("removed", removed))
	}
	return nil
}

func (s *Store) writeIndexLocked() error {
	s.idx.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(&s.idx, "", "  ")
	if err != nil {
		return fmt.Errorf("encode blob index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, indexFile), data, 0o644); err != nil {
		return fmt.Errorf("write blob index: %w", err)
	}
	return nil
}
