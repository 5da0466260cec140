package models

// QuestionType identifies how a question's answer is captured.
// Only the file-bearing types matter to the sync engine; everything
// else passes through untouched.
type QuestionType string

const (
	QuestionTypePhoto      QuestionType = "photo"
	QuestionTypeAttachment QuestionType = "attachment"
	QuestionTypeGeo        QuestionType = "geo"
)

// Form is a stored form definition. The renderer owns the definition
// JSON; the sync engine only tracks versions and the question groups
// needed for repeat-index computation and attachment scanning.
type Form struct {
	ID        int64  `db:"id" json:"id"`
	User      string `db:"user" json:"user"`
	Name      string `db:"name" json:"name"`
	Version   string `db:"version" json:"version"`
	JSON      string `db:"json" json:"json"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Form.
func (Form) TableName() string {
	return "forms"
}
