// Package store provides unit tests for the record store contract.
package store

import (
	"testing"

	"github.com/ifirmawan/akvo-mis-sub000/internal/models"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema failed: %v", err)
	}
	return NewRepository(db)
}

// TestJobCreateAndGetActive tests that the most recent job is returned.
func TestJobCreateAndGetActive(t *testing.T) {
	repo := newTestRepo(t)

	none, err := repo.GetActiveJob(models.JobTypeSubmissionSync, "u1")
	if err != nil {
		t.Fatalf("GetActiveJob failed: %v", err)
	}
	if none != nil {
		t.Fatal("Expected nil for empty job table")
	}

	first := &models.Job{Type: models.JobTypeSubmissionSync, User: "u1", CreatedAt: 100}
	if err := repo.CreateJob(first); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	second := &models.Job{Type: models.JobTypeSubmissionSync, User: "u1", CreatedAt: 200}
	if err := repo.CreateJob(second); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	active, err := repo.GetActiveJob(models.JobTypeSubmissionSync, "u1")
	if err != nil {
		t.Fatalf("GetActiveJob failed: %v", err)
	}
	if active == nil || active.ID != second.ID {
		t.Errorf("Expected most recent job %d, got %+v", second.ID, active)
	}

	if active.Status != models.JobStatusPending {
		t.Errorf("Expected default PENDING status, got %d", active.Status)
	}

	// Jobs are scoped per (type, user)
	other, err := repo.GetActiveJob(models.JobTypeDataPointPull, "u1")
	if err != nil {
		t.Fatalf("GetActiveJob failed: %v", err)
	}
	if other != nil {
		t.Error("Expected no active job for a different type")
	}
}

// TestJobUpdatePatch tests partial job updates.
func TestJobUpdatePatch(t *testing.T) {
	repo := newTestRepo(t)

	job := &models.Job{Type: models.JobTypeSubmissionSync, User: "u1"}
	if err := repo.CreateJob(job); err != nil {
		t.Fatal(err)
	}

	patch := map[string]interface{}{
		"status":  models.JobStatusInProgress,
		"attempt": 2,
		"info":    "3f2b8c1a-9d4e-4f6a-8b2c-1d3e5f7a9b0c",
	}
	if err := repo.UpdateJob(job.ID, patch); err != nil {
		t.Fatalf("UpdateJob failed: %v", err)
	}

	got, err := repo.GetActiveJob(models.JobTypeSubmissionSync, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.JobStatusInProgress || got.Attempt != 2 {
		t.Errorf("Patch not applied: %+v", got)
	}
	if got.Info != "3f2b8c1a-9d4e-4f6a-8b2c-1d3e5f7a9b0c" {
		t.Errorf("Info not applied: %q", got.Info)
	}

	// Updating a missing job reports no rows
	if err := repo.UpdateJob(9999, patch); err == nil {
		t.Error("Expected error updating missing job")
	}
}

// TestJobDelete tests job retirement.
func TestJobDelete(t *testing.T) {
	repo := newTestRepo(t)

	job := &models.Job{Type: models.JobTypeSubmissionSync, User: "u1"}
	if err := repo.CreateJob(job); err != nil {
		t.Fatal(err)
	}
	if err := repo.DeleteJob(job.ID); err != nil {
		t.Fatalf("DeleteJob failed: %v", err)
	}

	n, err := repo.CountJobs()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("Expected 0 jobs after delete, got %d", n)
	}
}

// TestSelectUnsyncedOrder tests the oldest-first query contract.
func TestSelectUnsyncedOrder(t *testing.T) {
	repo := newTestRepo(t)

	newer := &models.DataPoint{FormID: 1, User: "u1", Submitted: 1, CreatedAt: 300}
	older := &models.DataPoint{FormID: 1, User: "u1", Submitted: 1, CreatedAt: 100}
	synced := int64(500)
	done := &models.DataPoint{FormID: 1, User: "u1", Submitted: 1, CreatedAt: 200, SyncedAt: &synced}
	draft := &models.DataPoint{FormID: 1, User: "u1", Submitted: 0, CreatedAt: 50}

	for _, dp := range []*models.DataPoint{newer, older, done, draft} {
		if err := repo.InsertDataPoint(dp); err != nil {
			t.Fatalf("InsertDataPoint failed: %v", err)
		}
	}

	got, err := repo.SelectUnsynced("u1")
	if err != nil {
		t.Fatalf("SelectUnsynced failed: %v", err)
	}
	// Unsynced drafts are included: they go out through the
	// draft-update variant.
	if len(got) != 3 {
		t.Fatalf("Expected 3 unsynced datapoints, got %d", len(got))
	}
	if got[0].ID != draft.ID || got[1].ID != older.ID || got[2].ID != newer.ID {
		t.Errorf("Expected oldest first, got [%d, %d, %d]", got[0].ID, got[1].ID, got[2].ID)
	}
}

// TestGetDataPointByUUID tests UUID lookup.
func TestGetDataPointByUUID(t *testing.T) {
	repo := newTestRepo(t)

	dp := &models.DataPoint{FormID: 1, User: "u1", Submitted: 1}
	if err := repo.InsertDataPoint(dp); err != nil {
		t.Fatal(err)
	}
	if dp.UUID == "" {
		t.Fatal("Expected UUID to be assigned on insert")
	}

	got, err := repo.GetDataPointByUUID(dp.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != dp.ID {
		t.Errorf("Expected datapoint %d, got %+v", dp.ID, got)
	}

	missing, err := repo.GetDataPointByUUID("no-such-uuid")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Error("Expected nil for unknown UUID")
	}
}

// TestUpdateDataPointByUUID tests the upsert building block.
func TestUpdateDataPointByUUID(t *testing.T) {
	repo := newTestRepo(t)

	dp := &models.DataPoint{FormID: 1, User: "u1", Submitted: 0}
	if err := repo.InsertDataPoint(dp); err != nil {
		t.Fatal(err)
	}

	now := int64(12345)
	err := repo.UpdateDataPointByUUID(dp.UUID, map[string]interface{}{
		"answers":   `{"1":"yes"}`,
		"synced_at": now,
		"repeats":   `{"5":[0,1]}`,
	})
	if err != nil {
		t.Fatalf("UpdateDataPointByUUID failed: %v", err)
	}

	got, err := repo.GetDataPointByUUID(dp.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SyncedAt == nil || *got.SyncedAt != now {
		t.Errorf("Expected synced_at %d, got %v", now, got.SyncedAt)
	}
	if string(got.Answers) != `{"1":"yes"}` {
		t.Errorf("Expected answers updated, got %s", got.Answers)
	}
}

// TestDeleteOrphanDrafts tests the restricted sweep: only unlinked
// drafts already confirmed synced are removed.
func TestDeleteOrphanDrafts(t *testing.T) {
	repo := newTestRepo(t)

	synced := int64(100)
	draftID := "remote-9"

	// Unlinked and synced: swept
	swept := &models.DataPoint{FormID: 1, User: "u1", Submitted: 0, SyncedAt: &synced}
	// Unlinked but never synced: user work, kept
	kept := &models.DataPoint{FormID: 1, User: "u1", Submitted: 0}
	// Linked: kept
	linked := &models.DataPoint{FormID: 1, User: "u1", Submitted: 0, SyncedAt: &synced, DraftID: &draftID}

	for _, dp := range []*models.DataPoint{swept, kept, linked} {
		if err := repo.InsertDataPoint(dp); err != nil {
			t.Fatal(err)
		}
	}

	n, err := repo.DeleteOrphanDrafts("u1")
	if err != nil {
		t.Fatalf("DeleteOrphanDrafts failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 draft swept, got %d", n)
	}

	if got, _ := repo.GetDataPointByUUID(kept.UUID); got == nil {
		t.Error("Never-synced draft should not be swept")
	}
	if got, _ := repo.GetDataPointByUUID(linked.UUID); got == nil {
		t.Error("Linked draft should not be swept")
	}
}

// TestFormUpsert tests form version storage.
func TestFormUpsert(t *testing.T) {
	repo := newTestRepo(t)

	f := &models.Form{ID: 7, User: "u1", Name: "Household survey", Version: "1.0"}
	if err := repo.UpsertForm(f); err != nil {
		t.Fatalf("UpsertForm failed: %v", err)
	}

	f.Version = "1.1"
	if err := repo.UpsertForm(f); err != nil {
		t.Fatalf("UpsertForm update failed: %v", err)
	}

	got, err := repo.GetForm(7)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Version != "1.1" {
		t.Errorf("Expected version 1.1, got %+v", got)
	}

	forms, err := repo.ListForms("u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(forms) != 1 {
		t.Errorf("Expected 1 form, got %d", len(forms))
	}
}
