package tracker

import (
	"fmt"
	"sort"
	"strings"

	"tasktrack/pkg/depgraph"
)

// ValidationError collects field-level input problems.
type ValidationError struct {
	Fields map[string][]string `json:"errors"`
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], "; "))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Add records msg against field.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

// orNil returns e if any field was recorded.
func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

func invalid(field, msg string) *ValidationError {
	v := &ValidationError{}
	v.Add(field, msg)
	return v
}

// DecisionError is returned when the dependency engine denies a change.
// Field names the request attribute the denial is reported against.
type DecisionError struct {
	Field    string
	Decision depgraph.Decision
	Message  string
}

func (e *DecisionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Decision.Reason, e.Message)
}
