package sync

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/ifirmawan/akvo-mis-sub000/internal/errors"
	"github.com/ifirmawan/akvo-mis-sub000/internal/logging"
	"github.com/ifirmawan/akvo-mis-sub000/internal/models"
)

// ReconcileDrafts merges remote draft datapoints with local drafts in
// both directions. It runs when a draft-state-change signal fires or
// when local drafts are pending sync; it holds no job lease.
//
// An error during the pass surfaces as a failed status event carrying
// the error text; it is returned for the caller's information but the
// pass never panics outward.
func (e *Engine) ReconcileDrafts(ctx context.Context) error {
	if err := e.gatePass(); err != nil {
		return err
	}

	if err := e.reconcileDrafts(ctx); err != nil {
		e.notify(Event{Kind: EventFailed, Err: err.Error()})
		return apperrors.Wrap(apperrors.ErrDraftSyncFailed, "reconcile drafts", err)
	}

	e.notify(Event{Kind: EventSuccess, Refresh: true})
	return nil
}

func (e *Engine) reconcileDrafts(ctx context.Context) error {
	// Local drafts already confirmed remotely are superseded by the
	// server copy: re-fetched below, never re-pushed.
	deleted, err := e.repo.DeleteSyncedDrafts(e.cfg.User)
	if err != nil {
		return err
	}
	if deleted > 0 {
		logging.Debug("Removed synced local drafts before reconciliation",
			map[string]interface{}{"count": deleted})
	}

	items, err := e.collectPages(ctx, e.client.ListDrafts, "")
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	for _, item := range items {
		rec, err := e.client.FetchRecord(ctx, item.URL)
		if err != nil {
			return err
		}

		answers, err := json.Marshal(rec.Answers)
		if err != nil {
			return err
		}
		draftID := strconv.FormatInt(rec.ID, 10)

		local, err := e.repo.GetDataPointByUUID(rec.UUID)
		if err != nil {
			return err
		}

		switch {
		case local != nil && local.SyncedAt != nil:
			if err := e.repo.UpdateDataPointByUUID(rec.UUID, map[string]interface{}{
				"answers":   string(answers),
				"name":      rec.Name,
				"draft_id":  draftID,
				"synced_at": now,
			}); err != nil {
				return err
			}
		case local == nil && strings.TrimSpace(rec.Name) != "":
			dp := &models.DataPoint{
				UUID:      rec.UUID,
				FormID:    rec.FormID,
				User:      e.cfg.User,
				Name:      rec.Name,
				Geo:       joinGeo(rec.Geo),
				Answers:   answers,
				Submitted: 0,
				CreatedAt: now,
				SyncedAt:  &now,
				DraftID:   &draftID,
			}
			if err := e.repo.InsertDataPoint(dp); err != nil {
				return err
			}
		}
		// A local draft that has never synced keeps precedence: the
		// submission path pushes it out instead.
	}

	// Sweep unlinked drafts the pass confirmed superseded. Drafts that
	// were never synced are kept; deleting them would discard user work.
	if _, err := e.repo.DeleteOrphanDrafts(e.cfg.User); err != nil {
		return err
	}
	return nil
}

// DraftsPending reports whether any local draft still awaits its first
// remote confirmation.
func (e *Engine) DraftsPending() bool {
	drafts, err := e.repo.SelectDraftsPendingSync(e.cfg.User)
	if err != nil {
		logging.Error("Failed to query pending drafts", err)
		return false
	}
	return len(drafts) > 0
}
