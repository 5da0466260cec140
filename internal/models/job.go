// Package models provides data model definitions for the sync engine.
package models

// JobType identifies which sync queue a job belongs to.
type JobType string

const (
	JobTypeSubmissionSync   JobType = "submission-sync"
	JobTypeDataPointPull    JobType = "datapoint-pull"
	JobTypeFormVersionCheck JobType = "form-version-check"
)

// JobStatus is the persisted state of a job.
// SUCCESS is never stored: a successfully finished job is deleted.
type JobStatus int

const (
	JobStatusPending    JobStatus = 1
	JobStatusInProgress JobStatus = 2
	JobStatusSuccess    JobStatus = 3
	JobStatusFailed     JobStatus = 4
)

// MaxAttempt is the attempt ceiling before a job is either retired
// (no work left) or reset to PENDING with attempt 0 (work remains).
const MaxAttempt = 3

// Job is a persisted lease on one recurring sync duty for a (type, user)
// pair. At most one logically active job exists per pair; this is enforced
// by always acting on the most recently created job, not by a uniqueness
// constraint.
type Job struct {
	ID        int64     `db:"id" json:"id"`
	Type      JobType   `db:"type" json:"type"`
	User      string    `db:"user" json:"user"`
	Status    JobStatus `db:"status" json:"status"`
	Attempt   int       `db:"attempt" json:"attempt"`
	Info      string    `db:"info" json:"info"` // free-form; usually a datapoint UUID
	CreatedAt int64     `db:"created_at" json:"created_at"`
}

// TableName returns the table name for Job.
func (Job) TableName() string {
	return "jobs"
}
