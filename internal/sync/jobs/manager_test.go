// Package jobs provides unit tests for the job state machine.
package jobs

import (
	"testing"

	"github.com/ifirmawan/akvo-mis-sub000/internal/models"
	"github.com/ifirmawan/akvo-mis-sub000/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Repository) {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema failed: %v", err)
	}
	repo := store.NewRepository(db)
	return NewManager(repo), repo
}

// TestClaimCreatesJob verifies claiming with no existing job creates
// one and promotes it to IN_PROGRESS.
func TestClaimCreatesJob(t *testing.T) {
	m, _ := newTestManager(t)

	job, err := m.Claim(models.JobTypeSubmissionSync, "u1", "")
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if job.Status != models.JobStatusInProgress {
		t.Errorf("Expected IN_PROGRESS, got %d", job.Status)
	}
	if job.Attempt != 0 {
		t.Errorf("Expected attempt 0, got %d", job.Attempt)
	}
}

// TestClaimReusesInProgress verifies an overlapping trigger reuses the
// existing lease instead of creating a second job.
func TestClaimReusesInProgress(t *testing.T) {
	m, repo := newTestManager(t)

	first, err := m.Claim(models.JobTypeSubmissionSync, "u1", "")
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.Claim(models.JobTypeSubmissionSync, "u1", "")
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Errorf("Expected reuse of job %d, got %d", first.ID, second.ID)
	}

	n, _ := repo.CountJobs()
	if n != 1 {
		t.Errorf("Expected 1 job row, got %d", n)
	}
}

// TestClaimPromotesFailed verifies FAILED jobs within the attempt
// ceiling are promoted back to IN_PROGRESS.
func TestClaimPromotesFailed(t *testing.T) {
	m, _ := newTestManager(t)

	job, err := m.Claim(models.JobTypeSubmissionSync, "u1", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Fail(job); err != nil {
		t.Fatal(err)
	}

	claimed, err := m.Claim(models.JobTypeSubmissionSync, "u1", "")
	if err != nil {
		t.Fatalf("Claim after failure failed: %v", err)
	}
	if claimed.Status != models.JobStatusInProgress {
		t.Errorf("Expected IN_PROGRESS, got %d", claimed.Status)
	}
}

// TestFinishAttemptIncrements verifies attempt increments while work
// remains and the counter is below the ceiling.
func TestFinishAttemptIncrements(t *testing.T) {
	m, _ := newTestManager(t)

	job, err := m.Claim(models.JobTypeSubmissionSync, "u1", "")
	if err != nil {
		t.Fatal(err)
	}
	job.Attempt = 2
	if err := m.Advance(job.ID, map[string]interface{}{"attempt": 2}); err != nil {
		t.Fatal(err)
	}

	if err := m.FinishAttempt(job, true); err != nil {
		t.Fatalf("FinishAttempt failed: %v", err)
	}

	got, err := m.GetActive(models.JobTypeSubmissionSync, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Attempt != 3 {
		t.Errorf("Expected attempt 3, got %d", got.Attempt)
	}
	if got.Status != models.JobStatusInProgress {
		t.Errorf("Expected IN_PROGRESS, got %d", got.Status)
	}
}

// TestFinishAttemptResetsAtCeiling verifies the attempt counter resets
// to 0 with status PENDING exactly when it reaches the ceiling with
// work remaining: retry is unbounded, data is never abandoned.
func TestFinishAttemptResetsAtCeiling(t *testing.T) {
	m, _ := newTestManager(t)

	job, err := m.Claim(models.JobTypeSubmissionSync, "u1", "")
	if err != nil {
		t.Fatal(err)
	}
	job.Attempt = models.MaxAttempt
	if err := m.Advance(job.ID, map[string]interface{}{"attempt": models.MaxAttempt}); err != nil {
		t.Fatal(err)
	}

	if err := m.FinishAttempt(job, true); err != nil {
		t.Fatalf("FinishAttempt failed: %v", err)
	}

	got, err := m.GetActive(models.JobTypeSubmissionSync, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.JobStatusPending {
		t.Errorf("Expected PENDING, got %d", got.Status)
	}
	if got.Attempt != 0 {
		t.Errorf("Expected attempt reset to 0, got %d", got.Attempt)
	}
}

// TestFinishAttemptRetires verifies a job with no remaining work is
// deleted, never left stored, even at the attempt ceiling.
func TestFinishAttemptRetires(t *testing.T) {
	m, repo := newTestManager(t)

	job, err := m.Claim(models.JobTypeSubmissionSync, "u1", "")
	if err != nil {
		t.Fatal(err)
	}
	job.Attempt = models.MaxAttempt
	if err := m.Advance(job.ID, map[string]interface{}{"attempt": models.MaxAttempt}); err != nil {
		t.Fatal(err)
	}

	if err := m.FinishAttempt(job, false); err != nil {
		t.Fatalf("FinishAttempt failed: %v", err)
	}

	n, _ := repo.CountJobs()
	if n != 0 {
		t.Errorf("Expected retired job to be deleted, %d rows remain", n)
	}
}

// TestClaimRetiresOutOfRangeAttempt verifies a malformed counter does
// not wedge the queue forever.
func TestClaimRetiresOutOfRangeAttempt(t *testing.T) {
	m, repo := newTestManager(t)

	job, err := m.Create(models.JobTypeSubmissionSync, "u1", models.JobStatusFailed, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Advance(job.ID, map[string]interface{}{"attempt": models.MaxAttempt + 2}); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Claim(models.JobTypeSubmissionSync, "u1", ""); err == nil {
		t.Error("Expected claim error for out-of-range attempt")
	}

	n, _ := repo.CountJobs()
	if n != 0 {
		t.Errorf("Expected malformed job to be retired, %d rows remain", n)
	}
}

// TestClaimCarriesInfo verifies the info hint is stored on claim when
// the job has none.
func TestClaimCarriesInfo(t *testing.T) {
	m, _ := newTestManager(t)

	uuid := "3f2b8c1a-9d4e-4f6a-8b2c-1d3e5f7a9b0c"
	job, err := m.Claim(models.JobTypeDataPointPull, "u1", uuid)
	if err != nil {
		t.Fatal(err)
	}

	got, err := m.GetActive(models.JobTypeDataPointPull, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != job.ID || got.Info != uuid {
		t.Errorf("Expected info %q carried, got %q", uuid, got.Info)
	}
}
