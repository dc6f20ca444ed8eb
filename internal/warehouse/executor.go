package warehouse

import "context"

// Table is a tabular query result: ordered column names plus rows of
// string-rendered cells, matching the wire shape the Databricks statement
// API returns (data_array).
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Empty reports whether the table carries no rows.
func (t Table) Empty() bool {
	return len(t.Rows) == 0
}

// Executor runs ad-hoc SQL against an invoice warehouse and returns the
// result as a Table. Implemented by Databricks (remote SQL warehouse) and
// Local (embedded SQLite with synthetic data).
type Executor interface {
	Execute(ctx context.Context, query string) (Table, error)
}
