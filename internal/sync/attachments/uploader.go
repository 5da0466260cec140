// Package attachments scans datapoint answer sets for file-bearing
// answers and uploads them to the remote service.
package attachments

import (
	"context"
	"strings"
	"sync"

	"github.com/ifirmawan/akvo-mis-sub000/internal/logging"
	"github.com/ifirmawan/akvo-mis-sub000/internal/models"
)

// localFileScheme prefixes answers that still point at on-device files.
const localFileScheme = "file://"

// Uploader sends one file to the remote service and returns its remote
// reference. The api.Client's UploadImage and UploadAttachment methods
// satisfy this.
type Uploader func(ctx context.Context, path string) (string, error)

// Uploaded maps one successfully uploaded file back to the datapoint
// and question key that produced it.
type Uploaded struct {
	QuestionKey   string
	DataPointID   int64
	RemoteFileRef string
}

// pending is one local file reference discovered during scanning.
type pending struct {
	questionKey string
	datapointID int64
	path        string
}

// Scan finds local file references in a batch of datapoints for the
// given set of in-scope question ids. A question key with a repeat
// suffix ("12-3") is in scope when its base id ("12") is.
func Scan(batch []*models.DataPoint, questionIDs map[string]bool) []pending {
	var found []pending
	for _, dp := range batch {
		answers, err := dp.AnswerMap()
		if err != nil {
			logging.Warn("Skipping datapoint with unreadable answers",
				map[string]interface{}{"datapoint_id": dp.ID})
			continue
		}
		for key, value := range answers {
			base := key
			if i := strings.LastIndex(key, "-"); i > 0 {
				base = key[:i]
			}
			if !questionIDs[base] && !questionIDs[key] {
				continue
			}
			str, ok := value.(string)
			if !ok || !strings.HasPrefix(str, localFileScheme) {
				continue
			}
			found = append(found, pending{
				questionKey: key,
				datapointID: dp.ID,
				path:        strings.TrimPrefix(str, localFileScheme),
			})
		}
	}
	return found
}

// UploadAll uploads every discovered file concurrently, at most once
// each per invocation. Individual failures never abort the batch: a
// failed upload leaves the original local reference in place so the
// next sync attempt retries it, and only fulfilled uploads are
// returned.
func UploadAll(ctx context.Context, batch []*models.DataPoint, questionIDs map[string]bool, upload Uploader) []Uploaded {
	files := Scan(batch, questionIDs)
	if len(files) == 0 {
		return nil
	}

	var (
		mu  sync.Mutex
		out []Uploaded
		wg  sync.WaitGroup
	)

	for _, f := range files {
		wg.Add(1)
		go func(f pending) {
			defer wg.Done()

			ref, err := upload(ctx, f.path)
			if err != nil {
				logging.Warn("Attachment upload failed, will retry next pass",
					map[string]interface{}{
						"datapoint_id": f.datapointID,
						"question":     f.questionKey,
						"error":        err.Error(),
					})
				return
			}

			mu.Lock()
			out = append(out, Uploaded{
				QuestionKey:   f.questionKey,
				DataPointID:   f.datapointID,
				RemoteFileRef: ref,
			})
			mu.Unlock()
		}(f)
	}

	wg.Wait()
	return out
}
