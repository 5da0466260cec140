package models

import "encoding/json"

// FormDefinition is the slice of a stored form definition the sync
// engine cares about: question ids, their types, and which groups are
// repeatable. The renderer owns the rest.
type FormDefinition struct {
	QuestionGroups []QuestionGroup `json:"question_groups"`
}

// QuestionGroup is one group of questions in a form.
type QuestionGroup struct {
	ID         string     `json:"id"`
	Repeatable bool       `json:"repeatable"`
	Questions  []Question `json:"questions"`
}

// Question is one question of a form.
type Question struct {
	ID   string       `json:"id"`
	Type QuestionType `json:"type"`
}

// ParseFormDefinition decodes a stored form definition JSON.
func ParseFormDefinition(raw string) (*FormDefinition, error) {
	var def FormDefinition
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		return nil, err
	}
	return &def, nil
}

// QuestionIDsByType returns the set of question ids whose type is one
// of the given types.
func (d *FormDefinition) QuestionIDsByType(types ...QuestionType) map[string]bool {
	want := make(map[QuestionType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	out := map[string]bool{}
	for _, g := range d.QuestionGroups {
		for _, q := range g.Questions {
			if want[q.Type] {
				out[q.ID] = true
			}
		}
	}
	return out
}

// RepeatableGroups returns, for every repeatable group, the ids of its
// member questions.
func (d *FormDefinition) RepeatableGroups() map[string][]string {
	out := map[string][]string{}
	for _, g := range d.QuestionGroups {
		if !g.Repeatable {
			continue
		}
		ids := make([]string, 0, len(g.Questions))
		for _, q := range g.Questions {
			ids = append(ids, q.ID)
		}
		out[g.ID] = ids
	}
	return out
}
