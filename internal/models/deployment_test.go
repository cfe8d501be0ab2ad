package models

import (
	"testing"
	"time"
)

func TestIndexUpsertInsertsNewEntry(t *testing.T) {
	idx := &Index{}
	idx.Upsert(IndexEntry{DeploymentID: "dep-1", Status: StatusRunning})
	if len(idx.Entries) != 1 {
		t.Fatalf("Entries = %v, want 1 entry", idx.Entries)
	}
}

func TestIndexUpsertReplacesExistingEntry(t *testing.T) {
	idx := &Index{}
	now := time.Now().UTC()
	idx.Upsert(IndexEntry{DeploymentID: "dep-1", Status: StatusBuilding, UpdatedAt: now})
	idx.Upsert(IndexEntry{DeploymentID: "dep-1", Status: StatusRunning, UpdatedAt: now.Add(time.Minute)})

	if len(idx.Entries) != 1 {
		t.Fatalf("Entries = %v, want exactly 1 entry after upsert of same id", idx.Entries)
	}
	if idx.Entries[0].Status != StatusRunning {
		t.Errorf("Status = %v, want %v", idx.Entries[0].Status, StatusRunning)
	}
}
