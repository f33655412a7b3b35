package question

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/ashureev/agentlink/internal/domain"
)

// Selection is the in-progress answer to a treeSelect or fileSelect
// question. When at most one value may be chosen, selecting a value
// replaces the previous one.
type Selection struct {
	q        domain.Question
	keys     map[string]struct{}
	selected []string
}

// NewSelection starts an empty selection for q.
func NewSelection(q domain.Question) (*Selection, error) {
	s := &Selection{q: q}
	switch q.Type {
	case domain.QuestionTreeSelect:
		s.keys = treeKeys(q.Tree)
	case domain.QuestionFileSelect:
	default:
		return nil, fmt.Errorf("selection over %q question: %w", q.Type, invalid("not a selection question"))
	}
	return s, nil
}

// Toggle selects value, or deselects it if it is already selected.
func (s *Selection) Toggle(value string) error {
	if i := slices.Index(s.selected, value); i >= 0 {
		s.selected = slices.Delete(s.selected, i, i+1)
		return nil
	}
	if err := s.admissible(value); err != nil {
		return err
	}
	if s.q.SingleSelection() {
		s.selected = []string{value}
		return nil
	}
	if hi := s.q.MaxSelections(); hi > 0 && len(s.selected) >= hi {
		return invalid("select at most %d", hi)
	}
	s.selected = append(s.selected, value)
	return nil
}

func (s *Selection) admissible(value string) error {
	if s.q.Type == domain.QuestionFileSelect {
		return checkPath(s.q, value)
	}
	if _, ok := s.keys[value]; !ok {
		return invalid("%q is not an option", value)
	}
	return nil
}

// IsSelected reports whether value is currently selected.
func (s *Selection) IsSelected(value string) bool {
	return slices.Contains(s.selected, value)
}

// Selected returns the selected values in selection order.
func (s *Selection) Selected() []string {
	return slices.Clone(s.selected)
}

// Clear drops every selected value.
func (s *Selection) Clear() {
	s.selected = nil
}

// Result validates the selection and returns it in response shape.
func (s *Selection) Result() (any, error) {
	if err := checkSelection(s.q, s.selected); err != nil {
		return nil, err
	}
	return selectionResult(s.q, s.selected), nil
}

// MarshalResult is Result encoded as JSON, ready for Coordinator.Submit.
func (s *Selection) MarshalResult() (json.RawMessage, error) {
	v, err := s.Result()
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
