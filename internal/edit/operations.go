package edit

import (
	"fmt"
	"strings"

	"polish/internal/plan"
)

// applyOperation rewrites a single raw line according to the operation.
// It returns the new line and whether the operation was applicable; an
// inapplicable operation leaves the line alone and the caller records a
// skip. Leading whitespace is preserved because replacements are substring
// based.
func applyOperation(line string, op plan.Operation, params map[string]string) (string, bool, error) {
	switch op {
	case plan.OpAttributeValueUpdate:
		return replaceInAttribute(line, params["attribute"], params["old_value"], params["new_value"])
	case plan.OpStyleValueUpdate:
		return replaceAfterProperty(line, params["property"], params["old_value"], params["new_value"])
	case plan.OpTextContentUpdate:
		old := params["old_text"]
		if old == "" || !strings.Contains(line, old) {
			return line, false, nil
		}
		return strings.Replace(line, old, params["new_text"], 1), true, nil
	case plan.OpAttributeAppend:
		return appendToAttribute(line, params["attribute"], params["value"])
	default:
		return line, false, fmt.Errorf("unknown operation %q", op)
	}
}

// attributeValueSpan locates the quoted value of attr in line, returning the
// start and end indexes of the value between the quotes.
func attributeValueSpan(line, attr string) (int, int, bool) {
	if attr == "" {
		return 0, 0, false
	}
	for _, quote := range []byte{'"', '\''} {
		marker := attr + "=" + string(quote)
		start := strings.Index(line, marker)
		if start < 0 {
			continue
		}
		valueStart := start + len(marker)
		rel := strings.IndexByte(line[valueStart:], quote)
		if rel < 0 {
			continue
		}
		return valueStart, valueStart + rel, true
	}
	return 0, 0, false
}

func replaceInAttribute(line, attr, old, new string) (string, bool, error) {
	start, end, ok := attributeValueSpan(line, attr)
	if !ok {
		return line, false, nil
	}
	value := line[start:end]
	if old == "" || !strings.Contains(value, old) {
		return line, false, nil
	}
	return line[:start] + strings.Replace(value, old, new, 1) + line[end:], true, nil
}

func appendToAttribute(line, attr, value string) (string, bool, error) {
	if strings.TrimSpace(value) == "" {
		return line, false, nil
	}
	start, end, ok := attributeValueSpan(line, attr)
	if !ok {
		return line, false, nil
	}
	existing := line[start:end]
	for _, token := range strings.Fields(existing) {
		if token == value {
			// Already present; appending again would double-apply.
			return line, false, nil
		}
	}
	appended := value
	if existing != "" {
		appended = existing + " " + value
	}
	return line[:start] + appended + line[end:], true, nil
}

// replaceAfterProperty replaces old with new in the first occurrence after
// the CSS property name, so "margin: 4px" edits do not clobber an identical
// value belonging to an earlier property on the same line.
func replaceAfterProperty(line, property, old, new string) (string, bool, error) {
	if property == "" || old == "" {
		return line, false, nil
	}
	propIdx := strings.Index(line, property+":")
	if propIdx < 0 {
		return line, false, nil
	}
	tail := line[propIdx:]
	if !strings.Contains(tail, old) {
		return line, false, nil
	}
	return line[:propIdx] + strings.Replace(tail, old, new, 1), true, nil
}
