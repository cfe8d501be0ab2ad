// Package state implements the durable deployment record store (spec.md
// §4.4): atomic JSON writes with an index, updated in place, for lookups, so a
// crash mid-write never corrupts a previously-durable record. Grounded on
// the atomic-write protocol in
// _examples/OkGeneraL-Agent/internal/storage/secure_store.go (temp file +
// rename), with encryption and the checksum dropped — deployment records
// are not secrets — and an explicit fsync added before rename, since
// spec.md §9 requires the write to be durable, not merely atomic.
package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"mcp-cicd-agent/internal/cicderr"
	"mcp-cicd-agent/internal/models"
)

// Store persists DeploymentRecords as one JSON file per deployment ID,
// plus an index file for listing and latest-successful lookups.
type Store struct {
	dir string
	mu  sync.Mutex
}

// New constructs a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, cicderr.Wrap(cicderr.KindConfiguration, err,
			"failed to create deployment state directory", map[string]any{"dir": dir})
	}
	return &Store{dir: dir}, nil
}

func (s *Store) recordPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *Store) indexPath() string {
	return filepath.Join(s.dir, "index.json")
}

// Save writes record atomically and updates the index in the same
// critical section, so a reader never observes an index entry whose
// record file does not yet exist.
func (s *Store) Save(record *models.DeploymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := atomicWriteJSON(s.recordPath(record.DeploymentID), record); err != nil {
		return cicderr.Wrap(cicderr.KindConfiguration, err,
			"failed to persist deployment record", map[string]any{"deployment_id": record.DeploymentID})
	}

	index, err := s.loadIndexLocked()
	if err != nil {
		return err
	}
	index.Upsert(models.IndexEntry{
		DeploymentID: record.DeploymentID,
		RepoURL:      record.RepoURL,
		Status:       record.Status,
		UpdatedAt:    record.UpdatedAt,
	})
	if err := atomicWriteJSON(s.indexPath(), index); err != nil {
		return cicderr.Wrap(cicderr.KindConfiguration, err, "failed to update deployment index", nil)
	}
	return nil
}

// Load reads a single deployment record by ID, returning (nil, nil) if no
// record with that ID exists.
func (s *Store) Load(deploymentID string) (*models.DeploymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var record models.DeploymentRecord
	if err := readJSON(s.recordPath(deploymentID), &record); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, cicderr.Wrap(cicderr.KindConfiguration, err,
			"failed to read deployment record", map[string]any{"deployment_id": deploymentID})
	}
	return &record, nil
}

// FindLatestSuccessful returns the most recently updated running
// deployment for repoURL, excluding excludeID (used by rollback to skip
// the deployment currently being rolled back). Returns nil, nil if none
// exists.
func (s *Store) FindLatestSuccessful(repoURL, excludeID string) (*models.DeploymentRecord, error) {
	s.mu.Lock()
	index, err := s.loadIndexLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var candidates []models.IndexEntry
	for _, e := range index.Entries {
		if e.RepoURL != repoURL || e.Status != models.StatusRunning {
			continue
		}
		if excludeID != "" && e.DeploymentID == excludeID {
			continue
		}
		candidates = append(candidates, e)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].UpdatedAt.After(candidates[j].UpdatedAt)
	})
	return s.Load(candidates[0].DeploymentID)
}

// ListAll returns every index entry, most recently updated first.
func (s *Store) ListAll() ([]models.IndexEntry, error) {
	s.mu.Lock()
	index, err := s.loadIndexLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	entries := append([]models.IndexEntry(nil), index.Entries...)
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
	})
	return entries, nil
}

func (s *Store) loadIndexLocked() (*models.Index, error) {
	var index models.Index
	if err := readJSON(s.indexPath(), &index); err != nil {
		if os.IsNotExist(err) {
			return &models.Index{}, nil
		}
		return nil, cicderr.Wrap(cicderr.KindConfiguration, err, "failed to read deployment index", nil)
	}
	return &index, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// atomicWriteJSON writes v to path by marshaling to a temp file in the
// same directory, fsyncing it, and renaming it over path. The rename is
// atomic on POSIX filesystems; the fsync ensures the bytes survive a
// crash before the rename is even attempted.
func atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-state-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
