// Package store provides CRUD repository operations for the sync engine.
package store

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ifirmawan/akvo-mis-sub000/internal/models"
	"github.com/ifirmawan/akvo-mis-sub000/internal/uuid"
)

// Repository provides the record store contract: job CRUD and datapoint
// query/mutation operations.
type Repository struct {
	db *sql.DB

	// Prepared statement cache for frequently used queries.
	// Statements are prepared on first use and cached for reuse.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db.DB}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// buildSet renders a partial update patch into a SET clause with
// deterministic column order.
func buildSet(patch map[string]interface{}) (string, []interface{}) {
	cols := make([]string, 0, len(patch))
	for c := range patch {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	parts := make([]string, 0, len(cols))
	args := make([]interface{}, 0, len(cols))
	for _, c := range cols {
		parts = append(parts, c+" = ?")
		args = append(args, patch[c])
	}
	return strings.Join(parts, ", "), args
}

// =====================================================
// Job Operations
// =====================================================

// GetActiveJob returns the most recently created job of a type for a
// user, or nil when none exists.
func (r *Repository) GetActiveJob(jobType models.JobType, user string) (*models.Job, error) {
	query := `
	SELECT id, type, user, status, attempt, info, created_at
	FROM jobs WHERE type = ? AND user = ?
	ORDER BY created_at DESC, id DESC LIMIT 1
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	var job models.Job
	err = stmt.QueryRow(jobType, user).Scan(
		&job.ID, &job.Type, &job.User, &job.Status,
		&job.Attempt, &job.Info, &job.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// CreateJob inserts a new job. Status defaults to PENDING when unset.
func (r *Repository) CreateJob(job *models.Job) error {
	if job.Status == 0 {
		job.Status = models.JobStatusPending
	}
	if job.CreatedAt == 0 {
		job.CreatedAt = time.Now().Unix()
	}

	res, err := r.db.Exec(`
	INSERT INTO jobs (type, user, status, attempt, info, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		job.Type, job.User, job.Status, job.Attempt, job.Info, job.CreatedAt)
	if err != nil {
		return err
	}
	job.ID, err = res.LastInsertId()
	return err
}

// UpdateJob applies a partial update (status, attempt, info) to a job.
func (r *Repository) UpdateJob(id int64, patch map[string]interface{}) error {
	if len(patch) == 0 {
		return nil
	}
	set, args := buildSet(patch)
	args = append(args, id)

	res, err := r.db.Exec("UPDATE jobs SET "+set+" WHERE id = ?", args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteJob deletes a job. Deletion is the only representation of
// terminal success; there is no stored SUCCEEDED state.
func (r *Repository) DeleteJob(id int64) error {
	_, err := r.db.Exec("DELETE FROM jobs WHERE id = ?", id)
	return err
}

// CountJobs returns the number of stored jobs, used by tests and the
// status surface.
func (r *Repository) CountJobs() (int, error) {
	var n int
	err := r.db.QueryRow("SELECT COUNT(*) FROM jobs").Scan(&n)
	return n, err
}

// =====================================================
// DataPoint Operations
// =====================================================

const datapointColumns = `id, uuid, form_id, user, name, geo, answers, submitted,
	duration, created_at, submitted_at, synced_at, draft_id, repeats`

func scanDataPoint(row interface{ Scan(...interface{}) error }) (*models.DataPoint, error) {
	var dp models.DataPoint
	var answers string
	err := row.Scan(
		&dp.ID, &dp.UUID, &dp.FormID, &dp.User, &dp.Name, &dp.Geo, &answers,
		&dp.Submitted, &dp.Duration, &dp.CreatedAt, &dp.SubmittedAt,
		&dp.SyncedAt, &dp.DraftID, &dp.Repeats,
	)
	if err != nil {
		return nil, err
	}
	dp.Answers = []byte(answers)
	return &dp, nil
}

func (r *Repository) queryDataPoints(query string, args ...interface{}) ([]*models.DataPoint, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.DataPoint
	for rows.Next() {
		dp, err := scanDataPoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, dp)
	}
	return out, rows.Err()
}

// SelectUnsynced returns all datapoints not yet confirmed by the
// remote service, oldest first. Submission sync processes them in this
// order; drafts among them go out through the draft-update variant.
func (r *Repository) SelectUnsynced(user string) ([]*models.DataPoint, error) {
	return r.queryDataPoints(`
	SELECT `+datapointColumns+` FROM datapoints
	WHERE user = ? AND synced_at IS NULL
	ORDER BY created_at ASC, id ASC`, user)
}

// SelectDraftsPendingSync returns local drafts that have never been
// confirmed remotely.
func (r *Repository) SelectDraftsPendingSync(user string) ([]*models.DataPoint, error) {
	return r.queryDataPoints(`
	SELECT `+datapointColumns+` FROM datapoints
	WHERE user = ? AND submitted = 0 AND synced_at IS NULL
	ORDER BY created_at ASC, id ASC`, user)
}

// GetDataPointByUUID returns a datapoint by its client-stable UUID, or
// nil when none exists.
func (r *Repository) GetDataPointByUUID(u string) (*models.DataPoint, error) {
	query := `SELECT ` + datapointColumns + ` FROM datapoints WHERE uuid = ? LIMIT 1`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}
	dp, err := scanDataPoint(stmt.QueryRow(u))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return dp, nil
}

// InsertDataPoint inserts a new datapoint. A missing UUID is assigned;
// a missing creation time defaults to now.
func (r *Repository) InsertDataPoint(dp *models.DataPoint) error {
	if dp.UUID == "" {
		dp.UUID = uuid.New()
	}
	if dp.CreatedAt == 0 {
		dp.CreatedAt = time.Now().Unix()
	}
	if len(dp.Answers) == 0 {
		dp.Answers = []byte("{}")
	}
	if dp.Repeats == "" {
		dp.Repeats = "{}"
	}

	// A pulled record keeps its server-assigned row id so later pulls
	// address the same placeholder.
	if dp.ID > 0 {
		_, err := r.db.Exec(`
		INSERT INTO datapoints (id, uuid, form_id, user, name, geo, answers, submitted,
			duration, created_at, submitted_at, synced_at, draft_id, repeats)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			dp.ID, dp.UUID, dp.FormID, dp.User, dp.Name, dp.Geo, string(dp.Answers),
			dp.Submitted, dp.Duration, dp.CreatedAt, dp.SubmittedAt,
			dp.SyncedAt, dp.DraftID, dp.Repeats)
		return err
	}

	res, err := r.db.Exec(`
	INSERT INTO datapoints (uuid, form_id, user, name, geo, answers, submitted,
		duration, created_at, submitted_at, synced_at, draft_id, repeats)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		dp.UUID, dp.FormID, dp.User, dp.Name, dp.Geo, string(dp.Answers),
		dp.Submitted, dp.Duration, dp.CreatedAt, dp.SubmittedAt,
		dp.SyncedAt, dp.DraftID, dp.Repeats)
	if err != nil {
		return err
	}
	dp.ID, err = res.LastInsertId()
	return err
}

// UpdateDataPoint applies a partial update to a datapoint by row id.
func (r *Repository) UpdateDataPoint(id int64, patch map[string]interface{}) error {
	if len(patch) == 0 {
		return nil
	}
	set, args := buildSet(patch)
	args = append(args, id)
	_, err := r.db.Exec("UPDATE datapoints SET "+set+" WHERE id = ?", args...)
	return err
}

// UpdateDataPointByUUID applies a partial update to a datapoint by UUID.
func (r *Repository) UpdateDataPointByUUID(u string, patch map[string]interface{}) error {
	if len(patch) == 0 {
		return nil
	}
	set, args := buildSet(patch)
	args = append(args, u)
	_, err := r.db.Exec("UPDATE datapoints SET "+set+" WHERE uuid = ?", args...)
	return err
}

// DeleteDataPointByID deletes a datapoint row.
func (r *Repository) DeleteDataPointByID(id int64) error {
	_, err := r.db.Exec("DELETE FROM datapoints WHERE id = ?", id)
	return err
}

// DeleteSyncedDrafts deletes local drafts already confirmed remotely.
// Draft reconciliation runs this before a pass: those drafts are
// superseded by the server copy and are re-fetched, not re-pushed.
func (r *Repository) DeleteSyncedDrafts(user string) (int64, error) {
	res, err := r.db.Exec(`
	DELETE FROM datapoints
	WHERE user = ? AND submitted = 0 AND synced_at IS NOT NULL`, user)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteOrphanDrafts deletes unlinked local drafts that a reconciliation
// pass has already confirmed superseded (synced_at set, no draft_id).
// Drafts never confirmed remotely are kept: deleting them would discard
// unsynced user work.
func (r *Repository) DeleteOrphanDrafts(user string) (int64, error) {
	res, err := r.db.Exec(`
	DELETE FROM datapoints
	WHERE user = ? AND submitted = 0 AND draft_id IS NULL AND synced_at IS NOT NULL`, user)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountDataPoints returns the number of stored datapoints.
func (r *Repository) CountDataPoints() (int, error) {
	var n int
	err := r.db.QueryRow("SELECT COUNT(*) FROM datapoints").Scan(&n)
	return n, err
}

// =====================================================
// Form Operations
// =====================================================

// GetForm returns a stored form definition, or nil when none exists.
func (r *Repository) GetForm(id int64) (*models.Form, error) {
	var f models.Form
	err := r.db.QueryRow(`
	SELECT id, user, name, version, json, created_at, updated_at
	FROM forms WHERE id = ?`, id).Scan(
		&f.ID, &f.User, &f.Name, &f.Version, &f.JSON, &f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// UpsertForm inserts a form definition or replaces the stored version.
func (r *Repository) UpsertForm(f *models.Form) error {
	now := time.Now().Unix()
	if f.CreatedAt == 0 {
		f.CreatedAt = now
	}
	f.UpdatedAt = now

	_, err := r.db.Exec(`
	INSERT INTO forms (id, user, name, version, json, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		version = excluded.version,
		json = excluded.json,
		updated_at = excluded.updated_at`,
		f.ID, f.User, f.Name, f.Version, f.JSON, f.CreatedAt, f.UpdatedAt)
	return err
}

// ListForms returns all stored form definitions for a user.
func (r *Repository) ListForms(user string) ([]*models.Form, error) {
	rows, err := r.db.Query(`
	SELECT id, user, name, version, json, created_at, updated_at
	FROM forms WHERE user = ? ORDER BY id ASC`, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Form
	for rows.Next() {
		var f models.Form
		if err := rows.Scan(&f.ID, &f.User, &f.Name, &f.Version, &f.JSON,
			&f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}
