package sync

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ifirmawan/akvo-mis-sub000/internal/api"
	apperrors "github.com/ifirmawan/akvo-mis-sub000/internal/errors"
	"github.com/ifirmawan/akvo-mis-sub000/internal/logging"
	"github.com/ifirmawan/akvo-mis-sub000/internal/models"
	"github.com/ifirmawan/akvo-mis-sub000/internal/network"
	"github.com/ifirmawan/akvo-mis-sub000/internal/store"
	"github.com/ifirmawan/akvo-mis-sub000/internal/sync/attachments"
	"github.com/ifirmawan/akvo-mis-sub000/internal/sync/jobs"
	"github.com/ifirmawan/akvo-mis-sub000/internal/uuid"
)

// RemoteClient is the slice of the remote service client the engine
// consumes. *api.Client satisfies it.
type RemoteClient interface {
	SyncDataPoint(ctx context.Context, payload *api.SubmissionPayload, draftID string, mode api.SyncMode) error
	ListDataPoints(ctx context.Context, page int) (*api.ListPage, error)
	ListDrafts(ctx context.Context, page int) (*api.ListPage, error)
	FetchRecord(ctx context.Context, url string) (*api.Record, error)
	ListForms(ctx context.Context) ([]api.Form, error)
	UploadImage(ctx context.Context, path string) (string, error)
	UploadAttachment(ctx context.Context, path string) (string, error)
}

// Config holds the per-device settings a pass consumes.
type Config struct {
	User            string
	RequiredNetwork string // empty = any network
}

// Engine runs the reconciliation procedures. One logical pass runs at
// a time; the scheduler's in-progress guards uphold that.
type Engine struct {
	repo     *store.Repository
	client   RemoteClient
	gate     network.Gate
	jobs     *jobs.Manager
	notifier Notifier
	cfg      Config
}

// NewEngine creates a new Engine. A nil notifier drops all events.
func NewEngine(repo *store.Repository, client RemoteClient, gate network.Gate, cfg Config, notifier Notifier) *Engine {
	return &Engine{
		repo:     repo,
		client:   client,
		gate:     gate,
		jobs:     jobs.NewManager(repo),
		notifier: notifier,
		cfg:      cfg,
	}
}

func (e *Engine) notify(ev Event) {
	if e.notifier != nil {
		e.notifier.Notify(ev)
	}
}

// gatePass checks connectivity. It runs before any job or datapoint
// mutation and is evaluated fresh on every invocation.
func (e *Engine) gatePass() error {
	if !e.gate.Online() {
		return apperrors.New(apperrors.ErrOffline, "device is offline")
	}
	if !e.gate.OnRequiredNetwork(e.cfg.RequiredNetwork) {
		return apperrors.New(apperrors.ErrNetworkRestricted,
			"current network does not match "+e.cfg.RequiredNetwork)
	}
	return nil
}

// questionScope unions the ids of questions with the given types
// across all stored form definitions. A store error propagates: an
// empty scope would let local file paths be posted as answer values.
func (e *Engine) questionScope(types ...models.QuestionType) (map[string]bool, error) {
	out := map[string]bool{}
	forms, err := e.repo.ListForms(e.cfg.User)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "list forms", err)
	}
	for _, f := range forms {
		def, err := models.ParseFormDefinition(f.JSON)
		if err != nil {
			logging.Warn("Skipping unparseable form definition",
				map[string]interface{}{"form_id": f.ID})
			continue
		}
		for id := range def.QuestionIDsByType(types...) {
			out[id] = true
		}
	}
	return out, nil
}

// failJob marks the lease FAILED when a pass aborts before it can
// settle the attempt, so the next claim re-evaluates the counter.
func (e *Engine) failJob(job *models.Job) {
	if err := e.jobs.Fail(job); err != nil {
		logging.Error("Failed to mark job failed", err,
			map[string]interface{}{"job_id": job.ID})
	}
}

// Result summarizes one submission sync pass.
type Result struct {
	Total  int
	Synced int
	Failed int
}

// SubmissionSync pushes every locally captured datapoint not yet
// confirmed by the remote service. Records are processed independently
// in creation order; a failure in one never blocks the others.
func (e *Engine) SubmissionSync(ctx context.Context) (*Result, error) {
	if err := e.gatePass(); err != nil {
		return nil, err
	}

	job, err := e.jobs.Claim(models.JobTypeSubmissionSync, e.cfg.User, "")
	if err != nil {
		return nil, err
	}

	records, err := e.repo.SelectUnsynced(e.cfg.User)
	if err != nil {
		e.failJob(job)
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "select unsynced", err)
	}

	if len(records) == 0 {
		if err := e.jobs.Retire(job.ID); err != nil {
			return nil, err
		}
		return &Result{}, nil
	}

	e.notify(Event{Kind: EventProgress, JobType: models.JobTypeSubmissionSync})

	photoScope, err := e.questionScope(models.QuestionTypePhoto)
	if err != nil {
		e.failJob(job)
		return nil, err
	}
	fileScope, err := e.questionScope(models.QuestionTypeAttachment)
	if err != nil {
		e.failJob(job)
		return nil, err
	}

	// Photos and generic attachments upload through separate endpoints;
	// run the uploader once per question type and merge the results.
	refs := map[int64]map[string]string{}
	photos := attachments.UploadAll(ctx, records, photoScope, e.client.UploadImage)
	files := attachments.UploadAll(ctx, records, fileScope, e.client.UploadAttachment)
	for _, u := range append(photos, files...) {
		if refs[u.DataPointID] == nil {
			refs[u.DataPointID] = map[string]string{}
		}
		refs[u.DataPointID][u.QuestionKey] = u.RemoteFileRef
	}

	result := &Result{Total: len(records)}
	now := time.Now().Unix()

	for _, dp := range records {
		if err := e.pushOne(ctx, job, dp, refs[dp.ID], now); err != nil {
			logging.Warn("Datapoint submission failed, demoted to draft",
				map[string]interface{}{"datapoint_id": dp.ID, "error": err.Error()})
			// Demote so the record survives and is retried next pass.
			if dberr := e.repo.UpdateDataPoint(dp.ID, map[string]interface{}{
				"submitted": 0,
			}); dberr != nil {
				logging.Error("Failed to demote datapoint", dberr,
					map[string]interface{}{"datapoint_id": dp.ID})
			}
			result.Failed++
			continue
		}

		if err := e.repo.UpdateDataPoint(dp.ID, map[string]interface{}{
			"synced_at": now,
		}); err != nil {
			logging.Error("Failed to mark datapoint synced", err,
				map[string]interface{}{"datapoint_id": dp.ID})
			result.Failed++
			continue
		}
		result.Synced++
	}

	if result.Failed == 0 {
		if err := e.jobs.Retire(job.ID); err != nil {
			return result, err
		}
		e.notify(Event{
			Kind: EventSuccess, JobType: models.JobTypeSubmissionSync,
			Synced: result.Synced, Refresh: true,
		})
		return result, nil
	}

	e.notify(Event{
		Kind: EventReSync, JobType: models.JobTypeSubmissionSync,
		Synced: result.Synced, Failed: result.Failed,
	})
	if err := e.jobs.FinishAttempt(job, true); err != nil {
		return result, err
	}
	return result, nil
}

// pushOne builds and posts the payload for one datapoint.
func (e *Engine) pushOne(ctx context.Context, job *models.Job, dp *models.DataPoint, uploaded map[string]string, now int64) error {
	answers, err := dp.AnswerMap()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSubmissionFailed, "decode answers", err)
	}
	for key, ref := range uploaded {
		answers[key] = ref
	}

	payload := &api.SubmissionPayload{
		FormID:      dp.FormID,
		Name:        dp.Name,
		Duration:    normalizeDuration(dp.Duration),
		SubmittedAt: submittedAtOr(dp, now),
		Submitter:   dp.User,
		Geo:         parseGeo(dp.Geo),
		Answers:     answers,
	}

	// Attach the record's UUID when it has the recognized shape, else
	// fall back to any UUID the job's info field carries.
	if uuid.IsValid(dp.UUID) {
		payload.UUID = dp.UUID
	} else if uuid.IsValid(job.Info) {
		payload.UUID = job.Info
	}

	draftID, mode := syncMode(dp)
	return e.client.SyncDataPoint(ctx, payload, draftID, mode)
}

// syncMode selects the endpoint variant from the submitted flag and
// the draft correlation id.
func syncMode(dp *models.DataPoint) (string, api.SyncMode) {
	if dp.DraftID == nil {
		return "", api.SyncModeCreate
	}
	if dp.Submitted == 1 {
		return *dp.DraftID, api.SyncModePublish
	}
	return *dp.DraftID, api.SyncModeDraft
}

// normalizeDuration rounds to an integer and floors at 1: a computed
// duration of zero is a measurement artifact, not a valid value.
func normalizeDuration(d float64) int {
	n := int(math.Round(d))
	if n < 1 {
		return 1
	}
	return n
}

func submittedAtOr(dp *models.DataPoint, now int64) int64 {
	if dp.SubmittedAt > 0 {
		return dp.SubmittedAt
	}
	return now
}

// parseGeo parses the delimited "lat|lng" storage form.
func parseGeo(geo string) []float64 {
	if geo == "" {
		return nil
	}
	parts := strings.Split(geo, "|")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil
		}
		out = append(out, v)
	}
	return out
}
