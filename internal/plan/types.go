package plan

import "polish/internal/oracle"

// Operation is the kind of same-line substring replacement an edit performs.
// Every operation leaves the file's line count unchanged, which is what lets
// later edits in a plan trust their stated line numbers.
type Operation string

const (
	OpAttributeValueUpdate Operation = "attribute_value_update"
	OpStyleValueUpdate     Operation = "style_value_update"
	OpTextContentUpdate    Operation = "text_content_update"
	OpAttributeAppend      Operation = "attribute_append"
)

// KnownOperations lists every valid operation.
var KnownOperations = []Operation{
	OpAttributeValueUpdate,
	OpStyleValueUpdate,
	OpTextContentUpdate,
	OpAttributeAppend,
}

// PlannedEdit is one verified, line-anchored edit.
//
// ExpectedLine is the trimmed text of the line as the planner observed it at
// planning time. It is the verification anchor the executor checks before
// touching anything, not documentation.
type PlannedEdit struct {
	File          string            `json:"file"`
	LineNumber    int               `json:"line_number"`
	ExpectedLine  string            `json:"expected_line_content"`
	Operation     Operation         `json:"operation"`
	Params        map[string]string `json:"params,omitempty"`
	Justification string            `json:"justification,omitempty"`
}

// ChangePlan is the ordered edit list produced for one recommendation.
// Immutable after creation; edits apply in list order.
type ChangePlan struct {
	Recommendation oracle.Recommendation `json:"recommendation"`
	Strategy       string                `json:"strategy"`
	ExpectedImpact string                `json:"expected_impact,omitempty"`
	Edits          []PlannedEdit         `json:"edits"`
}

// CandidateFile is one file offered to the planner, identified by its path
// relative to the target root.
type CandidateFile struct {
	Path    string
	Content string
}
