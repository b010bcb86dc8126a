package plan

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingAnchor marks a plan whose edit lacks the expected line content
// required for verification. Such plans are rejected at the boundary.
var ErrMissingAnchor = errors.New("edit is missing its expected line content")

// ErrNoActionableChange marks a recommendation for which no viable edit
// remains. Callers treat it as "skip this recommendation", not a failure.
var ErrNoActionableChange = errors.New("no actionable change")

var requiredParams = map[Operation][]string{
	OpAttributeValueUpdate: {"attribute", "old_value", "new_value"},
	OpStyleValueUpdate:     {"property", "old_value", "new_value"},
	OpTextContentUpdate:    {"old_text", "new_text"},
	OpAttributeAppend:      {"attribute", "value"},
}

// Validate checks a plan against the schema before it leaves the planner.
// Plans arrive as loosely structured JSON from a model call, so every field
// the executor depends on is checked here rather than trusted downstream.
func Validate(p *ChangePlan) error {
	if p == nil {
		return fmt.Errorf("plan is nil")
	}
	if strings.TrimSpace(p.Strategy) == "" {
		return fmt.Errorf("plan strategy is required")
	}
	if len(p.Edits) == 0 {
		return fmt.Errorf("plan must include at least one edit")
	}

	seen := make(map[string]struct{}, len(p.Edits))
	for idx, edit := range p.Edits {
		if err := ValidateEdit(edit); err != nil {
			return fmt.Errorf("edit %d: %w", idx, err)
		}
		key := fmt.Sprintf("%s:%d", edit.File, edit.LineNumber)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("edit %d: duplicate target %s line %d in one plan", idx, edit.File, edit.LineNumber)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// ValidateEdit checks a single edit against the schema.
func ValidateEdit(edit PlannedEdit) error {
	if strings.TrimSpace(edit.File) == "" {
		return fmt.Errorf("file is required")
	}
	if edit.LineNumber < 1 {
		return fmt.Errorf("line_number must be a positive 1-indexed line, got %d", edit.LineNumber)
	}
	if strings.TrimSpace(edit.ExpectedLine) == "" {
		return ErrMissingAnchor
	}

	required, ok := requiredParams[edit.Operation]
	if !ok {
		return fmt.Errorf("unknown operation %q", edit.Operation)
	}
	for _, key := range required {
		if strings.TrimSpace(edit.Params[key]) == "" && !optionalEmpty(edit.Operation, key) {
			return fmt.Errorf("operation %s requires param %q", edit.Operation, key)
		}
	}
	return nil
}

// optionalEmpty allows params whose empty value is meaningful: replacing
// text with nothing is a legitimate text content update.
func optionalEmpty(op Operation, key string) bool {
	switch op {
	case OpTextContentUpdate:
		return key == "new_text"
	case OpAttributeValueUpdate, OpStyleValueUpdate:
		return key == "new_value"
	}
	return false
}
