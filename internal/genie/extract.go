package genie

import "holdbusters/internal/warehouse"

// placeholderText is rendered when a completed message carries no content,
// so callers never display an empty answer.
const placeholderText = "Response received (no text content)"

// Answer is the normalized form of a completed message.
type Answer struct {
	Text string `json:"text"`
	// SQL is the generated query, empty when the service answered without one.
	SQL string `json:"sql,omitempty"`
	// Result is the service's own execution of SQL, when it ran the query
	// inline. Nil when only SQL (or neither) came back.
	Result *warehouse.Table `json:"result,omitempty"`
}

// Extract normalizes a heterogeneous message payload: the first attachment
// exposing a query sub-object supplies SQL and any inline result; the
// message content supplies the text, falling back to a placeholder when
// empty.
func Extract(msg Message) Answer {
	a := Answer{Text: msg.Content}
	if a.Text == "" {
		a.Text = placeholderText
	}

	for _, att := range msg.Attachments {
		if att.Query == nil || att.Query.Query == "" {
			continue
		}
		a.SQL = att.Query.Query
		if r := att.Query.Result; r != nil {
			t := &warehouse.Table{Rows: r.DataArray}
			for _, c := range r.Schema.Columns {
				t.Columns = append(t.Columns, c.Name)
			}
			a.Result = t
		}
		break
	}
	return a
}
