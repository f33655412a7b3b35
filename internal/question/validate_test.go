package question

import (
	"encoding/json"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/agentlink/internal/domain"
)

func intPtr(n int) *int { return &n }

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func requireInvalid(t *testing.T, err error) *ValidationError {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalidArgument(err), "expected invalid argument, got %v", err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	return ve
}

var fruitTree = []domain.TreeNode{
	{Label: "Fruit", Children: []domain.TreeNode{
		{Label: "Apple", Value: "apple"},
		{Label: "Pear"},
	}},
	{Label: "Nuts", Value: "nuts"},
}

func TestValidateText(t *testing.T) {
	required := domain.Question{Type: domain.QuestionText, Required: true}

	_, err := Validate(required, raw(t, ""))
	requireInvalid(t, err)

	v, err := Validate(required, raw(t, "   "))
	require.NoError(t, err)
	assert.Equal(t, "   ", v)

	v, err = Validate(required, raw(t, "Ada"))
	require.NoError(t, err)
	assert.Equal(t, "Ada", v)

	withDefault := domain.Question{Type: domain.QuestionText, Required: true, DefaultValue: "main"}
	v, err = Validate(withDefault, raw(t, ""))
	require.NoError(t, err)
	assert.Equal(t, "main", v)

	_, err = Validate(required, raw(t, 42))
	requireInvalid(t, err)
}

func TestValidateNullIsAlwaysValid(t *testing.T) {
	questions := []domain.Question{
		{Type: domain.QuestionText, Required: true},
		{Type: domain.QuestionTreeSelect, Tree: fruitTree, MinimumSelections: intPtr(1)},
		{Type: domain.QuestionFileSelect, MinimumSelections: intPtr(2)},
		{Type: domain.QuestionForm},
	}
	for _, q := range questions {
		for _, r := range []json.RawMessage{nil, json.RawMessage("null"), json.RawMessage(" null ")} {
			v, err := Validate(q, r)
			require.NoError(t, err, q.Type)
			assert.Nil(t, v)
		}
	}
}

func TestValidateTreeSelectShapes(t *testing.T) {
	single := domain.Question{Type: domain.QuestionTreeSelect, Tree: fruitTree, MaximumSelections: intPtr(1)}
	v, err := Validate(single, raw(t, []string{"apple"}))
	require.NoError(t, err)
	assert.Equal(t, "apple", v)

	v, err = Validate(single, raw(t, "Pear"))
	require.NoError(t, err)
	assert.Equal(t, "Pear", v, "label is the value when none is given")

	multi := domain.Question{Type: domain.QuestionTreeSelect, Tree: fruitTree}
	v, err = Validate(multi, raw(t, []string{"nuts", "apple"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"nuts", "apple"}, v)

	v, err = Validate(multi, raw(t, []string{}))
	require.NoError(t, err)
	assert.Nil(t, v, "empty optional selection is null")
}

func TestValidateTreeSelectRejects(t *testing.T) {
	q := domain.Question{
		Type:              domain.QuestionTreeSelect,
		Tree:              fruitTree,
		MinimumSelections: intPtr(1),
		MaximumSelections: intPtr(2),
	}

	_, err := Validate(q, raw(t, []string{}))
	requireInvalid(t, err)
	_, err = Validate(q, raw(t, []string{"apple", "Pear", "nuts"}))
	requireInvalid(t, err)
	_, err = Validate(q, raw(t, []string{"Apple"}))
	requireInvalid(t, err)
	_, err = Validate(q, raw(t, []string{"nuts", "nuts"}))
	requireInvalid(t, err)
	_, err = Validate(q, raw(t, map[string]string{"a": "b"}))
	requireInvalid(t, err)
}

func TestValidateFileSelect(t *testing.T) {
	filesOnly := domain.Question{Type: domain.QuestionFileSelect, Root: "/work", AllowFiles: true}
	_, err := Validate(filesOnly, raw(t, []string{"/work/main.go"}))
	require.NoError(t, err)
	_, err = Validate(filesOnly, raw(t, []string{"/work/src/"}))
	requireInvalid(t, err)
	_, err = Validate(filesOnly, raw(t, []string{"/etc/passwd"}))
	requireInvalid(t, err)
	_, err = Validate(filesOnly, raw(t, []string{"relative/path.txt"}))
	require.NoError(t, err)

	dirsOnly := domain.Question{Type: domain.QuestionFileSelect, AllowDirectories: true}
	_, err = Validate(dirsOnly, raw(t, []string{"src/"}))
	require.NoError(t, err)
	_, err = Validate(dirsOnly, raw(t, []string{"src/a.go"}))
	requireInvalid(t, err)

	unspecified := domain.Question{Type: domain.QuestionFileSelect}
	_, err = Validate(unspecified, raw(t, []string{"a.go"}))
	require.NoError(t, err)
}

func deployForm() domain.Question {
	return domain.Question{
		Type: domain.QuestionForm,
		Sections: domain.Sections{
			{Name: "target", Fields: []domain.FormField{
				{Name: "env", Question: domain.Question{
					Type: domain.QuestionTreeSelect, Tree: []domain.TreeNode{{Label: "staging"}, {Label: "prod"}},
					MaximumSelections: intPtr(1),
				}},
				{Name: "branch", Question: domain.Question{Type: domain.QuestionText, Required: true, DefaultValue: "main"}},
			}},
			{Name: "notes", Fields: []domain.FormField{
				{Name: "message", Question: domain.Question{Type: domain.QuestionText}},
			}},
		},
	}
}

func TestValidateForm(t *testing.T) {
	v, err := Validate(deployForm(), raw(t, map[string]any{
		"target": map[string]any{"env": "prod"},
	}))
	require.NoError(t, err)
	assert.Equal(t, map[string]map[string]any{
		"target": {"env": "prod", "branch": "main"},
		"notes":  {"message": ""},
	}, v)
}

func TestValidateFormRejects(t *testing.T) {
	_, err := Validate(deployForm(), raw(t, map[string]any{"other": map[string]any{}}))
	requireInvalid(t, err)

	_, err = Validate(deployForm(), raw(t, map[string]any{"target": map[string]any{"color": "red"}}))
	ve := requireInvalid(t, err)
	assert.Equal(t, "target.color", ve.Field)

	_, err = Validate(deployForm(), raw(t, map[string]any{"target": map[string]any{"env": "dev"}}))
	ve = requireInvalid(t, err)
	assert.Equal(t, "target.env", ve.Field)

	q := deployForm()
	q.Sections[0].Fields[1].Question.DefaultValue = ""
	_, err = Validate(q, raw(t, map[string]any{"target": map[string]any{"env": "prod"}}))
	ve = requireInvalid(t, err)
	assert.Equal(t, "target.branch", ve.Field)
}

func requiredChoiceForm() domain.Question {
	return domain.Question{
		Type: domain.QuestionForm,
		Sections: domain.Sections{
			{Name: "target", Fields: []domain.FormField{
				{Name: "env", Question: domain.Question{
					Type: domain.QuestionTreeSelect, Tree: []domain.TreeNode{{Label: "staging"}, {Label: "prod"}},
					MinimumSelections: intPtr(1), MaximumSelections: intPtr(1),
				}},
				{Name: "files", Question: domain.Question{Type: domain.QuestionFileSelect}},
			}},
		},
	}
}

func TestValidateFormEnforcesSelectionMinimum(t *testing.T) {
	for _, submitted := range []map[string]any{
		{"target": map[string]any{}},
		{"target": map[string]any{"env": nil}},
		{"target": map[string]any{"env": []string{}}},
		{},
	} {
		_, err := Validate(requiredChoiceForm(), raw(t, submitted))
		ve := requireInvalid(t, err)
		assert.Equal(t, "target.env", ve.Field)
	}

	v, err := Validate(requiredChoiceForm(), raw(t, map[string]any{"target": map[string]any{"env": "prod"}}))
	require.NoError(t, err)
	assert.Equal(t, map[string]map[string]any{
		"target": {"env": "prod", "files": nil},
	}, v)

	// Null still cancels the form as a whole.
	v, err = Validate(requiredChoiceForm(), json.RawMessage("null"))
	require.NoError(t, err)
	assert.Nil(t, v)
}
