package question

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/agentlink/internal/domain"
)

func TestFormVisitsFieldsInDeclarationOrder(t *testing.T) {
	f, err := NewForm(deployForm())
	require.NoError(t, err)

	var visited []string
	answers := map[string]json.RawMessage{
		"env":     json.RawMessage(`"staging"`),
		"branch":  json.RawMessage(`"release"`),
		"message": json.RawMessage(`"ship it"`),
	}
	for !f.Done() {
		section, field, ok := f.Current()
		require.True(t, ok)
		visited = append(visited, section+"."+field.Name)
		require.NoError(t, f.Answer(answers[field.Name]))
	}
	assert.Equal(t, []string{"target.env", "target.branch", "notes.message"}, visited)

	result, err := f.Result()
	require.NoError(t, err)
	assert.Equal(t, map[string]map[string]any{
		"target": {"env": "staging", "branch": "release"},
		"notes":  {"message": "ship it"},
	}, result)
}

func TestFormResultRequiresEveryField(t *testing.T) {
	f, err := NewForm(deployForm())
	require.NoError(t, err)
	require.NoError(t, f.Answer(json.RawMessage(`"prod"`)))

	_, err = f.Result()
	ve := requireInvalid(t, err)
	assert.Equal(t, "target.branch", ve.Field)

	answered, total := f.Progress()
	assert.Equal(t, 1, answered)
	assert.Equal(t, 3, total)
}

func TestFormAnswerRejectsAndStays(t *testing.T) {
	q := deployForm()
	q.Sections[0].Fields[1].Question.DefaultValue = ""
	f, err := NewForm(q)
	require.NoError(t, err)

	require.NoError(t, f.Answer(json.RawMessage(`"prod"`)))
	ve := requireInvalid(t, f.Answer(json.RawMessage(`""`)))
	assert.Equal(t, "target.branch", ve.Field)

	_, field, _ := f.Current()
	assert.Equal(t, "branch", field.Name)
}

func TestFormBack(t *testing.T) {
	f, err := NewForm(deployForm())
	require.NoError(t, err)
	assert.False(t, f.Back())

	require.NoError(t, f.Answer(json.RawMessage(`"prod"`)))
	require.NoError(t, f.Answer(json.RawMessage(`null`)))
	section, _, _ := f.Current()
	assert.Equal(t, "notes", section)

	require.True(t, f.Back())
	section, field, _ := f.Current()
	assert.Equal(t, "target", section)
	assert.Equal(t, "branch", field.Name)
}

func TestFormSkipsEmptySections(t *testing.T) {
	f, err := NewForm(domain.Question{
		Type: domain.QuestionForm,
		Sections: domain.Sections{
			{Name: "empty"},
			{Name: "only", Fields: []domain.FormField{{Name: "x", Question: domain.Question{Type: domain.QuestionText}}}},
		},
	})
	require.NoError(t, err)
	section, _, ok := f.Current()
	require.True(t, ok)
	assert.Equal(t, "only", section)

	require.NoError(t, f.Answer(json.RawMessage(`"y"`)))
	b, err := f.MarshalResult()
	require.NoError(t, err)
	assert.JSONEq(t, `{"empty":{},"only":{"x":"y"}}`, string(b))
}

func TestFormRejectsOtherKinds(t *testing.T) {
	_, err := NewForm(domain.Question{Type: domain.QuestionText})
	requireInvalid(t, err)
}

func TestFormAnswerEnforcesSelectionMinimum(t *testing.T) {
	f, err := NewForm(requiredChoiceForm())
	require.NoError(t, err)

	ve := requireInvalid(t, f.Answer(json.RawMessage("null")))
	assert.Equal(t, "target.env", ve.Field)
	ve = requireInvalid(t, f.Answer(nil))
	assert.Equal(t, "target.env", ve.Field)
	assert.False(t, f.Done())

	require.NoError(t, f.Answer(json.RawMessage(`"staging"`)))
	require.NoError(t, f.Answer(json.RawMessage("null")))
	require.True(t, f.Done())

	result, err := f.Result()
	require.NoError(t, err)
	assert.Equal(t, map[string]map[string]any{
		"target": {"env": "staging", "files": nil},
	}, result)
}
