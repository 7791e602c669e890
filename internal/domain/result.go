package domain

// ExecutionResult is the uniform per-statement output shape. A statement
// that returns no rows (mutation, DDL) is normalized to a single "Message"
// column with one affected-row-count row.
type ExecutionResult struct {
	Columns        []string `json:"columns"`
	Rows           [][]any  `json:"rows"`
	ElapsedSeconds float64  `json:"elapsedSeconds"`
	Truncated      bool     `json:"truncated"`
}

// PendingEdit describes one row-level change captured by the grid: the
// primary-key values that identify the row and the new values per column.
// An edit without determinable primary-key values cannot be applied.
type PendingEdit struct {
	PrimaryKey map[string]any `json:"pk"`
	Changes    map[string]any `json:"changes"`
}
