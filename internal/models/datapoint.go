package models

import "encoding/json"

// DataPoint is one captured form response, draft or finalized.
//
// Answers is the raw answer set keyed by question id; repeated-group
// instances use a "-N" key suffix (question "5", instance 2 => "5-2").
// Repeats is a serialized map of repeatable-group id to the list of
// active repeat indices for that group.
type DataPoint struct {
	ID          int64           `db:"id" json:"id"`
	UUID        string          `db:"uuid" json:"uuid"`
	FormID      int64           `db:"form_id" json:"form_id"`
	User        string          `db:"user" json:"user"`
	Name        string          `db:"name" json:"name"`
	Geo         string          `db:"geo" json:"geo"` // "lat|lng" delimited
	Answers     json.RawMessage `db:"answers" json:"answers"`
	Submitted   int             `db:"submitted" json:"submitted"` // 1 = finalized, 0 = draft
	Duration    float64         `db:"duration" json:"duration"`
	CreatedAt   int64           `db:"created_at" json:"created_at"`
	SubmittedAt int64           `db:"submitted_at" json:"submitted_at"`
	SyncedAt    *int64          `db:"synced_at" json:"synced_at"` // nil = not yet confirmed remotely
	DraftID     *string         `db:"draft_id" json:"draft_id"`   // server-side draft correlation id
	Repeats     string          `db:"repeats" json:"repeats"`     // JSON: {"groupID": [0,1,...]}
}

// TableName returns the table name for DataPoint.
func (DataPoint) TableName() string {
	return "datapoints"
}

// IsDraft reports whether the datapoint has not been finalized.
func (d *DataPoint) IsDraft() bool {
	return d.Submitted == 0
}

// AnswerMap decodes the answer set. An empty or missing answer set
// decodes to an empty map, never an error.
func (d *DataPoint) AnswerMap() (map[string]interface{}, error) {
	if len(d.Answers) == 0 {
		return map[string]interface{}{}, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(d.Answers, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// RepeatMap decodes the repeat-index map.
func (d *DataPoint) RepeatMap() (map[string][]int, error) {
	if d.Repeats == "" {
		return map[string][]int{}, nil
	}
	var m map[string][]int
	if err := json.Unmarshal([]byte(d.Repeats), &m); err != nil {
		return nil, err
	}
	return m, nil
}
