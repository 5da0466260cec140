package sync

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/ifirmawan/akvo-mis-sub000/internal/api"
	apperrors "github.com/ifirmawan/akvo-mis-sub000/internal/errors"
	"github.com/ifirmawan/akvo-mis-sub000/internal/logging"
	"github.com/ifirmawan/akvo-mis-sub000/internal/models"
)

// listFn is one of the paginated list endpoints.
type listFn func(ctx context.Context, page int) (*api.ListPage, error)

// collectPages fetches every page of a listing and concatenates the
// items, reporting fractional progress after each page. A page failure
// propagates and aborts the remaining pages; items already returned
// stay processed, which is consistent because upserts are idempotent.
func (e *Engine) collectPages(ctx context.Context, list listFn, jobType models.JobType) ([]api.ListItem, error) {
	var items []api.ListItem
	for page := 1; ; page++ {
		p, err := list(ctx, page)
		if err != nil {
			return items, err
		}
		items = append(items, p.Data...)

		if p.Total > 0 {
			e.notify(Event{
				Kind:     EventProgress,
				JobType:  jobType,
				Progress: float64(p.Current) / float64(p.Total),
			})
		}
		if p.Current >= p.Total {
			return items, nil
		}
	}
}

// PullDataPoints pulls newly available or updated remote datapoints
// into local storage. It runs under an explicit user-initiated pull
// job, distinct from the periodic submission sync.
func (e *Engine) PullDataPoints(ctx context.Context) error {
	if err := e.gatePass(); err != nil {
		return err
	}

	job, err := e.jobs.Claim(models.JobTypeDataPointPull, e.cfg.User, "")
	if err != nil {
		return err
	}

	if err := e.pullAll(ctx); err != nil {
		e.notify(Event{
			Kind: EventFailed, JobType: models.JobTypeDataPointPull,
			Err: err.Error(),
		})
		if jerr := e.jobs.FinishAttempt(job, true); jerr != nil {
			return jerr
		}
		return apperrors.Wrap(apperrors.ErrPullFailed, "pull datapoints", err)
	}

	if err := e.jobs.Retire(job.ID); err != nil {
		return err
	}
	e.notify(Event{
		Kind: EventSuccess, JobType: models.JobTypeDataPointPull,
		Refresh: true,
	})
	return nil
}

func (e *Engine) pullAll(ctx context.Context) error {
	items, err := e.collectPages(ctx, e.client.ListDataPoints, models.JobTypeDataPointPull)
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	for _, item := range items {
		rec, err := e.client.FetchRecord(ctx, item.URL)
		if err != nil {
			return err
		}
		if err := e.upsertRecord(rec, now); err != nil {
			return err
		}
	}
	return nil
}

// upsertRecord applies one remote record to local storage, keyed by
// UUID so a repeated pull overwrites instead of duplicating.
func (e *Engine) upsertRecord(rec *api.Record, now int64) error {
	answers, err := json.Marshal(rec.Answers)
	if err != nil {
		return err
	}
	repeats, err := e.repeatsFor(rec)
	if err != nil {
		return err
	}

	local, err := e.repo.GetDataPointByUUID(rec.UUID)
	if err != nil {
		return err
	}

	if local != nil {
		return e.repo.UpdateDataPointByUUID(rec.UUID, map[string]interface{}{
			"answers":   string(answers),
			"synced_at": now,
			"repeats":   repeats,
		})
	}

	// A local placeholder may already occupy the server-assigned id;
	// the server copy is authoritative, so drop it before inserting.
	if rec.ID > 0 {
		if err := e.repo.DeleteDataPointByID(rec.ID); err != nil {
			return err
		}
	}

	dp := &models.DataPoint{
		ID:          rec.ID,
		UUID:        rec.UUID,
		FormID:      rec.FormID,
		User:        e.cfg.User,
		Name:        rec.Name,
		Geo:         joinGeo(rec.Geo),
		Answers:     answers,
		Submitted:   1,
		CreatedAt:   now,
		SubmittedAt: rec.LastUpdated,
		SyncedAt:    &now,
		Repeats:     repeats,
	}
	return e.repo.InsertDataPoint(dp)
}

// repeatsFor computes the repeat-index map for every repeatable group
// of the record's form.
func (e *Engine) repeatsFor(rec *api.Record) (string, error) {
	form, err := e.repo.GetForm(rec.FormID)
	if err != nil {
		return "", err
	}
	if form == nil {
		return "{}", nil
	}
	def, err := models.ParseFormDefinition(form.JSON)
	if err != nil {
		logging.Warn("Unparseable form definition during pull",
			map[string]interface{}{"form_id": rec.FormID})
		return "{}", nil
	}

	out := map[string][]int{}
	for groupID, questionIDs := range def.RepeatableGroups() {
		if idx := ComputeRepeats(rec.Answers, questionIDs); idx != nil {
			out[groupID] = idx
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ComputeRepeats scans answer keys for the "-N" suffix pattern
// restricted to the group's question ids and materializes the repeat
// index array [0..N] for the maximum N observed. An unsuffixed key
// counts as instance 0. Returns nil when the group has no answers.
func ComputeRepeats(answers map[string]interface{}, questionIDs []string) []int {
	inGroup := make(map[string]bool, len(questionIDs))
	for _, id := range questionIDs {
		inGroup[id] = true
	}

	max := -1
	for key := range answers {
		base, suffix := key, 0
		if i := strings.LastIndex(key, "-"); i > 0 {
			n, err := strconv.Atoi(key[i+1:])
			if err == nil && n >= 0 {
				base, suffix = key[:i], n
			}
		}
		if !inGroup[base] {
			continue
		}
		if suffix > max {
			max = suffix
		}
	}

	if max < 0 {
		return nil
	}
	idx := make([]int, max+1)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// joinGeo renders coordinates back into the delimited storage form.
func joinGeo(geo []float64) string {
	if len(geo) == 0 {
		return ""
	}
	parts := make([]string, len(geo))
	for i, v := range geo {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, "|")
}
