package state

import (
	"testing"
	"time"

	"mcp-cicd-agent/internal/models"
)

func newRecord(id, repoURL string, status models.DeploymentStatus, updatedAt time.Time) *models.DeploymentRecord {
	return &models.DeploymentRecord{
		DeploymentID: id,
		RepoURL:      repoURL,
		Status:       status,
		CreatedAt:    updatedAt,
		UpdatedAt:    updatedAt,
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	record := newRecord("dep-20260101-abc123", "https://github.com/u/r.git", models.StatusRunning, time.Now().UTC())
	if err := store.Save(record); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load(record.DeploymentID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.DeploymentID != record.DeploymentID || loaded.RepoURL != record.RepoURL {
		t.Errorf("loaded record mismatch: %+v", loaded)
	}
}

func TestLoadMissingReturnsNil(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	record, err := store.Load("dep-20260101-missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record != nil {
		t.Errorf("expected nil record, got %+v", record)
	}
}

func TestIndexUpsertKeepsOneEntryPerID(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	record := newRecord("dep-20260101-abc123", "https://github.com/u/r.git", models.StatusBuilding, time.Now().UTC())
	if err := store.Save(record); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	record.Status = models.StatusRunning
	record.UpdatedAt = time.Now().UTC()
	if err := store.Save(record); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	entries, err := store.ListAll()
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one index entry, got %d", len(entries))
	}
	if entries[0].Status != models.StatusRunning {
		t.Errorf("Status = %v, want %v", entries[0].Status, models.StatusRunning)
	}
}

func TestFindLatestSuccessfulExcludesAndSorts(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	repo := "https://github.com/u/r.git"
	older := newRecord("dep-20260101-older", repo, models.StatusRunning, time.Now().UTC().Add(-time.Hour))
	newer := newRecord("dep-20260101-newer", repo, models.StatusRunning, time.Now().UTC())
	excluded := newRecord("dep-20260101-excl", repo, models.StatusRunning, time.Now().UTC().Add(time.Hour))
	failed := newRecord("dep-20260101-failed", repo, models.StatusFailed, time.Now().UTC().Add(2*time.Hour))

	for _, r := range []*models.DeploymentRecord{older, newer, excluded, failed} {
		if err := store.Save(r); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	got, err := store.FindLatestSuccessful(repo, excluded.DeploymentID)
	if err != nil {
		t.Fatalf("FindLatestSuccessful failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected a match, got nil")
	}
	if got.DeploymentID != newer.DeploymentID {
		t.Errorf("DeploymentID = %v, want %v", got.DeploymentID, newer.DeploymentID)
	}
}

func TestFindLatestSuccessfulNoMatch(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := store.FindLatestSuccessful("https://github.com/u/none.git", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}
