// Package jobs owns the job state machine: claiming, advancing,
// retrying, and retiring sync jobs.
//
// A job row is a lease on a unit of recurring work, not a queue entry
// with history. It is always the single current attempt for its
// (type, user) pair, and terminal success is represented by deleting
// the row, never by a stored state.
package jobs

import (
	"time"

	apperrors "github.com/ifirmawan/akvo-mis-sub000/internal/errors"
	"github.com/ifirmawan/akvo-mis-sub000/internal/logging"
	"github.com/ifirmawan/akvo-mis-sub000/internal/models"
	"github.com/ifirmawan/akvo-mis-sub000/internal/store"
)

// Manager drives job lifecycle transitions against the record store.
type Manager struct {
	repo *store.Repository
}

// NewManager creates a new Manager.
func NewManager(repo *store.Repository) *Manager {
	return &Manager{repo: repo}
}

// GetActive returns the most recently created job of a type for a
// user, or nil when none exists.
func (m *Manager) GetActive(jobType models.JobType, user string) (*models.Job, error) {
	return m.repo.GetActiveJob(jobType, user)
}

// Create inserts a new job with the given status and optional info.
func (m *Manager) Create(jobType models.JobType, user string, status models.JobStatus, info string) (*models.Job, error) {
	job := &models.Job{
		Type:      jobType,
		User:      user,
		Status:    status,
		Info:      info,
		CreatedAt: time.Now().Unix(),
	}
	if err := m.repo.CreateJob(job); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "create job", err)
	}
	return job, nil
}

// Advance applies a partial update (status, attempt, info) to a job.
func (m *Manager) Advance(jobID int64, patch map[string]interface{}) error {
	if err := m.repo.UpdateJob(jobID, patch); err != nil {
		return apperrors.Wrap(apperrors.ErrJobClaimFailed, "advance job", err)
	}
	return nil
}

// Retire deletes a job, the only representation of terminal success.
func (m *Manager) Retire(jobID int64) error {
	return m.repo.DeleteJob(jobID)
}

// Claim returns an IN_PROGRESS job for the pair, creating one when none
// exists and promoting a PENDING or retryable FAILED job.
//
// The check-then-update here is deliberately not atomic: the two
// scheduler triggers can race between GetActive and Advance. The worst
// outcome is a duplicate lease driving one extra pass, which is
// harmless because pulls upsert by UUID and pushes retry independently.
func (m *Manager) Claim(jobType models.JobType, user, info string) (*models.Job, error) {
	job, err := m.GetActive(jobType, user)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "get active job", err)
	}

	if job == nil {
		created, err := m.Create(jobType, user, models.JobStatusPending, info)
		if err != nil {
			return nil, err
		}
		job = created
	}

	switch job.Status {
	case models.JobStatusInProgress:
		// Another trigger already holds the lease; reuse it.
		return job, nil
	case models.JobStatusFailed:
		if job.Attempt > models.MaxAttempt {
			// A malformed counter must not wedge the queue; retire and
			// start over next cycle.
			logging.Warn("Retiring job with out-of-range attempt",
				map[string]interface{}{"job_id": job.ID, "attempt": job.Attempt})
			if err := m.Retire(job.ID); err != nil {
				return nil, err
			}
			return nil, apperrors.New(apperrors.ErrJobClaimFailed, "job attempt out of range")
		}
	}

	patch := map[string]interface{}{"status": models.JobStatusInProgress}
	if info != "" && job.Info == "" {
		patch["info"] = info
	}
	if err := m.Advance(job.ID, patch); err != nil {
		// The row vanished between the read and the update. Attempt
		// retirement anyway so a malformed job cannot wedge the queue.
		_ = m.Retire(job.ID)
		return nil, err
	}
	job.Status = models.JobStatusInProgress
	return job, nil
}

// FinishAttempt settles a job after one pass.
//
// With work remaining: attempt below the ceiling increments and the
// job stays IN_PROGRESS; at the ceiling the job resets to PENDING with
// attempt 0, giving unbounded retry rather than abandonment. With no
// work remaining the job is retired.
func (m *Manager) FinishAttempt(job *models.Job, workRemains bool) error {
	if !workRemains {
		return m.Retire(job.ID)
	}

	if job.Attempt < models.MaxAttempt {
		return m.Advance(job.ID, map[string]interface{}{
			"status":  models.JobStatusInProgress,
			"attempt": job.Attempt + 1,
		})
	}

	return m.Advance(job.ID, map[string]interface{}{
		"status":  models.JobStatusPending,
		"attempt": 0,
	})
}

// Fail marks a job FAILED, preserving its attempt counter for the next
// claim to evaluate.
func (m *Manager) Fail(job *models.Job) error {
	return m.Advance(job.ID, map[string]interface{}{
		"status": models.JobStatusFailed,
	})
}
