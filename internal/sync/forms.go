package sync

import (
	"context"

	apperrors "github.com/ifirmawan/akvo-mis-sub000/internal/errors"
	"github.com/ifirmawan/akvo-mis-sub000/internal/logging"
	"github.com/ifirmawan/akvo-mis-sub000/internal/models"
)

// CheckFormVersions compares every remote form's version against the
// stored definition and refreshes the ones that changed. Runs under a
// form-version-check job with the standard attempt rules.
func (e *Engine) CheckFormVersions(ctx context.Context) (int, error) {
	if err := e.gatePass(); err != nil {
		return 0, err
	}

	job, err := e.jobs.Claim(models.JobTypeFormVersionCheck, e.cfg.User, "")
	if err != nil {
		return 0, err
	}

	remote, err := e.client.ListForms(ctx)
	if err != nil {
		e.notify(Event{
			Kind: EventFailed, JobType: models.JobTypeFormVersionCheck,
			Err: err.Error(),
		})
		if jerr := e.jobs.FinishAttempt(job, true); jerr != nil {
			return 0, jerr
		}
		return 0, apperrors.Wrap(apperrors.ErrSyncFailed, "list forms", err)
	}

	updated := 0
	for _, rf := range remote {
		local, err := e.repo.GetForm(rf.ID)
		if err != nil {
			e.failJob(job)
			return updated, apperrors.Wrap(apperrors.ErrDatabase, "get form", err)
		}
		if local != nil && local.Version == rf.Version {
			continue
		}

		if err := e.repo.UpsertForm(&models.Form{
			ID:      rf.ID,
			User:    e.cfg.User,
			Name:    rf.Name,
			Version: rf.Version,
			JSON:    rf.JSON,
		}); err != nil {
			e.failJob(job)
			return updated, apperrors.Wrap(apperrors.ErrDatabase, "upsert form", err)
		}
		updated++
		logging.Info("Form definition updated",
			map[string]interface{}{"form_id": rf.ID, "version": rf.Version})
	}

	if err := e.jobs.Retire(job.ID); err != nil {
		return updated, err
	}
	if updated > 0 {
		e.notify(Event{
			Kind: EventSuccess, JobType: models.JobTypeFormVersionCheck,
			Refresh: true,
		})
	}
	return updated, nil
}
