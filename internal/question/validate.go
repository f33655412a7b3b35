// Package question implements the question/answer protocol: validating and
// shaping results for each question kind, and issuing exactly one response
// per request.
package question

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/containerd/errdefs"

	"github.com/ashureev/agentlink/internal/domain"
)

// ValidationError is a local rejection of a result. It is never sent to the
// agent.
type ValidationError struct {
	// Field is "section.field" for form fields, empty otherwise.
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid response: " + e.Reason
	}
	return fmt.Sprintf("invalid response for %s: %s", e.Field, e.Reason)
}

// Unwrap classifies validation errors as invalid-argument.
func (e *ValidationError) Unwrap() error {
	return errdefs.ErrInvalidArgument
}

func invalid(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func isNull(raw json.RawMessage) bool {
	r := bytes.TrimSpace(raw)
	return len(r) == 0 || bytes.Equal(r, []byte("null"))
}

// Validate checks a submitted result against q and returns it in the shape
// the agent expects. A null result is a cancellation and is always valid.
func Validate(q domain.Question, raw json.RawMessage) (any, error) {
	if isNull(raw) {
		return nil, nil
	}
	switch q.Type {
	case domain.QuestionText:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, invalid("expected a string")
		}
		return textResult(q, s)
	case domain.QuestionTreeSelect, domain.QuestionFileSelect:
		values, err := decodeSelection(raw)
		if err != nil {
			return nil, err
		}
		if err := checkSelection(q, values); err != nil {
			return nil, err
		}
		return selectionResult(q, values), nil
	case domain.QuestionForm:
		var sections map[string]map[string]json.RawMessage
		if err := json.Unmarshal(raw, &sections); err != nil {
			return nil, invalid("expected an object of sections")
		}
		return formResult(q, sections)
	default:
		return nil, invalid("unsupported question type %q", q.Type)
	}
}

func textResult(q domain.Question, s string) (any, error) {
	if s == "" {
		s = q.DefaultValue
	}
	if q.Required && s == "" {
		return nil, invalid("a value is required")
	}
	return s, nil
}

func decodeSelection(raw json.RawMessage) ([]string, error) {
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, invalid("expected a string or a list of strings")
	}
	return many, nil
}

// checkSelection enforces cardinality bounds, membership for tree questions
// and the file/directory allowance for file questions. Directory paths are
// recognised by a trailing slash.
func checkSelection(q domain.Question, values []string) error {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if _, dup := seen[v]; dup {
			return invalid("%q selected more than once", v)
		}
		seen[v] = struct{}{}
	}

	if lo := q.MinSelections(); len(values) < lo {
		return invalid("select at least %d", lo)
	}
	if hi := q.MaxSelections(); hi > 0 && len(values) > hi {
		return invalid("select at most %d", hi)
	}

	switch q.Type {
	case domain.QuestionTreeSelect:
		keys := treeKeys(q.Tree)
		for _, v := range values {
			if _, ok := keys[v]; !ok {
				return invalid("%q is not an option", v)
			}
		}
	case domain.QuestionFileSelect:
		for _, v := range values {
			if err := checkPath(q, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkPath(q domain.Question, p string) error {
	if p == "" {
		return invalid("empty path")
	}
	isDir := strings.HasSuffix(p, "/")
	allowFiles, allowDirs := q.AllowFiles, q.AllowDirectories
	if !allowFiles && !allowDirs {
		allowFiles = true
	}
	if isDir && !allowDirs {
		return invalid("%q is a directory; only files may be selected", p)
	}
	if !isDir && !allowFiles {
		return invalid("%q is a file; only directories may be selected", p)
	}
	if q.Root != "" && path.IsAbs(p) {
		root := path.Clean(q.Root)
		clean := path.Clean(p)
		if clean != root && !strings.HasPrefix(clean, strings.TrimSuffix(root, "/")+"/") {
			return invalid("%q is outside %s", p, q.Root)
		}
	}
	return nil
}

func treeKeys(nodes []domain.TreeNode) map[string]struct{} {
	keys := make(map[string]struct{})
	for _, n := range nodes {
		n.Walk(func(n domain.TreeNode) bool {
			keys[n.Key()] = struct{}{}
			return true
		})
	}
	return keys
}

// selectionResult shapes a validated selection: a single string when at most
// one value may be chosen, null when nothing was chosen, a list otherwise.
func selectionResult(q domain.Question, values []string) any {
	if len(values) == 0 {
		return nil
	}
	if q.SingleSelection() {
		return values[0]
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}

func formResult(q domain.Question, submitted map[string]map[string]json.RawMessage) (any, error) {
	for name := range submitted {
		if !hasSection(q.Sections, name) {
			return nil, invalid("unknown section %q", name)
		}
	}
	out := make(map[string]map[string]any, len(q.Sections))
	for _, section := range q.Sections {
		fields := submitted[section.Name]
		for name := range fields {
			if !hasField(section, name) {
				return nil, &ValidationError{Field: section.Name + "." + name, Reason: "unknown field"}
			}
		}
		values := make(map[string]any, len(section.Fields))
		for _, f := range section.Fields {
			raw := fields[f.Name]
			v, err := fieldResult(f.Question, raw)
			if err != nil {
				return nil, fieldError(section.Name, f.Name, err)
			}
			values[f.Name] = v
		}
		out[section.Name] = values
	}
	return out, nil
}

// fieldResult validates one form field. Null cancels a whole question but
// not a single field: inside a form it is an absent value and still has to
// satisfy the field's requirements.
func fieldResult(q domain.Question, raw json.RawMessage) (any, error) {
	if !isNull(raw) {
		return Validate(q, raw)
	}
	switch q.Type {
	case domain.QuestionText:
		return textResult(q, "")
	case domain.QuestionTreeSelect, domain.QuestionFileSelect:
		if err := checkSelection(q, nil); err != nil {
			return nil, err
		}
		return selectionResult(q, nil), nil
	default:
		return Validate(q, raw)
	}
}

func fieldError(section, field string, err error) error {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return &ValidationError{Field: section + "." + field, Reason: ve.Reason}
	}
	return err
}

func hasSection(sections domain.Sections, name string) bool {
	for _, s := range sections {
		if s.Name == name {
			return true
		}
	}
	return false
}

func hasField(section domain.FormSection, name string) bool {
	for _, f := range section.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}
