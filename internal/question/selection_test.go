package question

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/agentlink/internal/domain"
)

func TestSelectionExclusiveWhenSingle(t *testing.T) {
	s, err := NewSelection(domain.Question{
		Type:              domain.QuestionTreeSelect,
		Tree:              fruitTree,
		MinimumSelections: intPtr(1),
		MaximumSelections: intPtr(1),
	})
	require.NoError(t, err)

	require.NoError(t, s.Toggle("apple"))
	require.NoError(t, s.Toggle("nuts"))
	assert.False(t, s.IsSelected("apple"))
	assert.Equal(t, []string{"nuts"}, s.Selected())

	v, err := s.Result()
	require.NoError(t, err)
	assert.Equal(t, "nuts", v)
}

func TestSelectionToggleOffAndMinimum(t *testing.T) {
	s, err := NewSelection(domain.Question{
		Type:              domain.QuestionTreeSelect,
		Tree:              fruitTree,
		MinimumSelections: intPtr(1),
	})
	require.NoError(t, err)

	require.NoError(t, s.Toggle("Pear"))
	require.NoError(t, s.Toggle("Pear"))
	assert.Empty(t, s.Selected())

	_, err = s.Result()
	requireInvalid(t, err)
}

func TestSelectionMaximum(t *testing.T) {
	s, err := NewSelection(domain.Question{
		Type:              domain.QuestionTreeSelect,
		Tree:              fruitTree,
		MaximumSelections: intPtr(2),
	})
	require.NoError(t, err)

	require.NoError(t, s.Toggle("apple"))
	require.NoError(t, s.Toggle("Pear"))
	requireInvalid(t, s.Toggle("nuts"))
	assert.Equal(t, []string{"apple", "Pear"}, s.Selected())

	b, err := s.MarshalResult()
	require.NoError(t, err)
	assert.JSONEq(t, `["apple","Pear"]`, string(b))
}

func TestSelectionRejectsUnknownValue(t *testing.T) {
	s, err := NewSelection(domain.Question{Type: domain.QuestionTreeSelect, Tree: fruitTree})
	require.NoError(t, err)
	requireInvalid(t, s.Toggle("Kiwi"))
}

func TestSelectionFileAllowance(t *testing.T) {
	s, err := NewSelection(domain.Question{Type: domain.QuestionFileSelect, AllowDirectories: true})
	require.NoError(t, err)
	require.NoError(t, s.Toggle("docs/"))
	requireInvalid(t, s.Toggle("docs/readme.md"))

	s.Clear()
	v, err := s.Result()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestSelectionRejectsOtherKinds(t *testing.T) {
	_, err := NewSelection(domain.Question{Type: domain.QuestionText})
	requireInvalid(t, err)
}
