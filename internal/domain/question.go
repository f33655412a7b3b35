package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// QuestionType names the shape of a question descriptor.
type QuestionType string

const (
	QuestionText       QuestionType = "text"
	QuestionTreeSelect QuestionType = "treeSelect"
	QuestionFileSelect QuestionType = "fileSelect"
	QuestionForm       QuestionType = "form"
)

// Question is a question descriptor. Fields that do not apply to Type are
// left at their zero value.
type Question struct {
	Type  QuestionType `json:"type"`
	Label string       `json:"label,omitempty"`

	// text
	Required      bool   `json:"required,omitempty"`
	DefaultValue  string `json:"defaultValue,omitempty"`
	ExpectedLines int    `json:"expectedLines,omitempty"`
	Masked        bool   `json:"masked,omitempty"`

	// treeSelect
	Tree []TreeNode `json:"tree,omitempty"`

	// fileSelect
	Root             string `json:"root,omitempty"`
	AllowFiles       bool   `json:"allowFiles,omitempty"`
	AllowDirectories bool   `json:"allowDirectories,omitempty"`

	// treeSelect, fileSelect
	MinimumSelections *int `json:"minimumSelections,omitempty"`
	MaximumSelections *int `json:"maximumSelections,omitempty"`

	// form
	Sections Sections `json:"sections,omitempty"`
}

// MinSelections returns the lower cardinality bound, 0 when unset.
func (q Question) MinSelections() int {
	if q.MinimumSelections == nil {
		return 0
	}
	return *q.MinimumSelections
}

// MaxSelections returns the upper cardinality bound, 0 when unbounded.
func (q Question) MaxSelections() int {
	if q.MaximumSelections == nil {
		return 0
	}
	return *q.MaximumSelections
}

// SingleSelection reports whether at most one value may be selected.
func (q Question) SingleSelection() bool {
	return q.MaxSelections() == 1
}

// TreeNode is one node of a treeSelect question.
type TreeNode struct {
	Label    string     `json:"label"`
	Value    string     `json:"value,omitempty"`
	Children []TreeNode `json:"children,omitempty"`
}

// Key returns the value submitted when the node is selected.
func (n TreeNode) Key() string {
	if n.Value != "" {
		return n.Value
	}
	return n.Label
}

// Walk visits n and its descendants depth-first in declaration order.
// It stops early when fn returns false.
func (n TreeNode) Walk(fn func(TreeNode) bool) bool {
	if !fn(n) {
		return false
	}
	for _, c := range n.Children {
		if !c.Walk(fn) {
			return false
		}
	}
	return true
}

// FormField is a named field inside a form section.
type FormField struct {
	Name     string
	Question Question
}

// FormSection is a named, ordered group of form fields.
type FormSection struct {
	Name   string
	Fields []FormField
}

// Sections holds form sections in declaration order. On the wire it is a
// JSON object of JSON objects; key order is significant and preserved.
type Sections []FormSection

// MarshalJSON encodes the sections as ordered nested objects.
func (s Sections) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, section := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(&buf, section.Name); err != nil {
			return nil, err
		}
		buf.WriteByte('{')
		for j, field := range section.Fields {
			if j > 0 {
				buf.WriteByte(',')
			}
			if err := writeKey(&buf, field.Name); err != nil {
				return nil, err
			}
			data, err := json.Marshal(field.Question)
			if err != nil {
				return nil, fmt.Errorf("marshal field %s.%s: %w", section.Name, field.Name, err)
			}
			buf.Write(data)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes nested objects keeping their key order.
func (s *Sections) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	var out Sections
	err := decodeObject(dec, func(sectionName string) error {
		section := FormSection{Name: sectionName}
		err := decodeObject(dec, func(fieldName string) error {
			var q Question
			if err := dec.Decode(&q); err != nil {
				return fmt.Errorf("field %s.%s: %w", sectionName, fieldName, err)
			}
			if q.Type == QuestionForm {
				return fmt.Errorf("field %s.%s: nested forms are not supported", sectionName, fieldName)
			}
			section.Fields = append(section.Fields, FormField{Name: fieldName, Question: q})
			return nil
		})
		if err != nil {
			return err
		}
		out = append(out, section)
		return nil
	})
	if err != nil {
		return fmt.Errorf("decode form sections: %w", err)
	}
	*s = out
	return nil
}

func writeKey(buf *bytes.Buffer, key string) error {
	data, err := json.Marshal(key)
	if err != nil {
		return err
	}
	buf.Write(data)
	buf.WriteByte(':')
	return nil
}

func decodeObject(dec *json.Decoder, each func(key string) error) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", tok)
		}
		if err := each(key); err != nil {
			return err
		}
	}
	_, err = dec.Token()
	return err
}

// QuestionRequest is a pending question as carried by question.request
// events and by the execution state's waitingOn list.
type QuestionRequest struct {
	RequestID       string   `json:"requestId"`
	Timestamp       int64    `json:"timestamp"`
	Question        Question `json:"question"`
	AutoSubmitAfter int      `json:"autoSubmitAfter,omitempty"`
}

// Deadline returns the auto-submit deadline, if auto-submit is enabled.
func (r QuestionRequest) Deadline() (time.Time, bool) {
	if r.AutoSubmitAfter <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(r.Timestamp + int64(r.AutoSubmitAfter)*1000), true
}

// Response is the body sent back to the agent for a question.
// A nil Result is a cancellation.
type Response struct {
	Type      EventType `json:"type"`
	RequestID string    `json:"requestId"`
	Result    any       `json:"result"`
	Timestamp int64     `json:"timestamp"`
}

// NewResponse builds a question.response body stamped with now.
func NewResponse(requestID string, result any, now time.Time) Response {
	return Response{
		Type:      EventQuestionResponse,
		RequestID: requestID,
		Result:    result,
		Timestamp: now.UnixMilli(),
	}
}
