package question

import (
	"encoding/json"
	"fmt"

	"github.com/ashureev/agentlink/internal/domain"
)

// Form walks a form question field by field in declaration order. The
// result is only available once every field of every section is answered.
type Form struct {
	q       domain.Question
	section int
	field   int
	values  map[string]map[string]any
}

// NewForm starts a wizard over q.
func NewForm(q domain.Question) (*Form, error) {
	if q.Type != domain.QuestionForm {
		return nil, fmt.Errorf("form over %q question: %w", q.Type, invalid("not a form question"))
	}
	f := &Form{q: q, values: make(map[string]map[string]any, len(q.Sections))}
	for _, s := range q.Sections {
		f.values[s.Name] = make(map[string]any, len(s.Fields))
	}
	f.skipEmpty()
	return f, nil
}

// skipEmpty moves past sections without fields.
func (f *Form) skipEmpty() {
	for f.section < len(f.q.Sections) && f.field >= len(f.q.Sections[f.section].Fields) {
		f.section++
		f.field = 0
	}
}

// Done reports whether every field has been answered.
func (f *Form) Done() bool {
	return f.section >= len(f.q.Sections)
}

// Current returns the field awaiting an answer.
func (f *Form) Current() (section string, field domain.FormField, ok bool) {
	if f.Done() {
		return "", domain.FormField{}, false
	}
	s := f.q.Sections[f.section]
	return s.Name, s.Fields[f.field], true
}

// Answer validates raw against the current field, records it and moves to
// the next field. On error the wizard does not move.
func (f *Form) Answer(raw json.RawMessage) error {
	section, field, ok := f.Current()
	if !ok {
		return invalid("form is already complete")
	}
	v, err := fieldResult(field.Question, raw)
	if err != nil {
		return fieldError(section, field.Name, err)
	}
	f.values[section][field.Name] = v
	f.field++
	f.skipEmpty()
	return nil
}

// Back steps to the previous field. Its recorded answer is kept until it
// is answered again.
func (f *Form) Back() bool {
	section, field := f.section, f.field
	for {
		if field > 0 {
			f.section, f.field = section, field-1
			return true
		}
		if section == 0 {
			return false
		}
		section--
		field = len(f.q.Sections[section].Fields)
	}
}

// Progress returns the number of answered fields and the total.
func (f *Form) Progress() (answered, total int) {
	for i, s := range f.q.Sections {
		total += len(s.Fields)
		switch {
		case i < f.section:
			answered += len(s.Fields)
		case i == f.section:
			answered += f.field
		}
	}
	return answered, total
}

// Result returns section -> field -> result once the form is complete.
func (f *Form) Result() (map[string]map[string]any, error) {
	if !f.Done() {
		section, field, _ := f.Current()
		return nil, &ValidationError{Field: section + "." + field.Name, Reason: "form is incomplete"}
	}
	out := make(map[string]map[string]any, len(f.values))
	for s, fields := range f.values {
		m := make(map[string]any, len(fields))
		for k, v := range fields {
			m[k] = v
		}
		out[s] = m
	}
	return out, nil
}

// MarshalResult is Result encoded as JSON, ready for Coordinator.Submit.
func (f *Form) MarshalResult() (json.RawMessage, error) {
	v, err := f.Result()
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
