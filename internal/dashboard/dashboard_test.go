package dashboard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"holdbusters/internal/warehouse"
)

// routingExecutor answers each query by matching a substring. Overview
// fans queries out concurrently, so the call log is mutex-guarded.
type routingExecutor struct {
	routes map[string]warehouse.Table
	err    error

	mu      sync.Mutex
	queries []string
}

func newRoutingExecutor(routes map[string]warehouse.Table) *routingExecutor {
	return &routingExecutor{routes: routes}
}

func (e *routingExecutor) Execute(ctx context.Context, query string) (warehouse.Table, error) {
	e.mu.Lock()
	e.queries = append(e.queries, query)
	e.mu.Unlock()

	if e.err != nil {
		return warehouse.Table{}, e.err
	}
	for sub, table := range e.routes {
		if strings.Contains(query, sub) {
			return table, nil
		}
	}
	return warehouse.Table{}, nil
}

func overviewRoutes() map[string]warehouse.Table {
	return map[string]warehouse.Table{
		"total_invoices": {
			Columns: []string{"total_invoices", "on_hold", "total_amount", "avg_days_pending"},
			Rows:    [][]string{{"120", "24", "512345.67", "8.5"}},
		},
		"Reason__c IS NOT NULL": {
			Columns: []string{"Reason__c", "count", "amount"},
			Rows: [][]string{
				{"Missing PO", "10", "90000.5"},
				{"Amount mismatch", "8", "60000"},
			},
		},
		"State__c": {
			Columns: []string{"State__c", "count", "amount"},
			Rows:    [][]string{{"CA", "12", "110000"}},
		},
	}
}

func TestOverview(t *testing.T) {
	exec := newRoutingExecutor(overviewRoutes())
	svc := New(exec, "")

	out, err := svc.Overview(context.Background())
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}

	sum := out.Summary
	if sum.TotalInvoices != 120 || sum.OnHold != 24 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.HoldPercent != 20 {
		t.Errorf("hold percent = %v, want 20", sum.HoldPercent)
	}
	if sum.TotalAmount != 512345.67 || sum.AvgDaysPending != 8.5 {
		t.Errorf("summary = %+v", sum)
	}

	if len(out.HoldReasons) != 2 || out.HoldReasons[0].Label != "Missing PO" || out.HoldReasons[0].Count != 10 {
		t.Errorf("hold reasons = %+v", out.HoldReasons)
	}
	if len(out.ByState) != 1 || out.ByState[0].Label != "CA" {
		t.Errorf("by state = %+v", out.ByState)
	}

	if len(exec.queries) != 3 {
		t.Errorf("ran %d queries, want 3", len(exec.queries))
	}
}

func TestOverview_ExecutorError(t *testing.T) {
	exec := newRoutingExecutor(nil)
	exec.err = fmt.Errorf("warehouse unreachable")
	svc := New(exec, "")

	if _, err := svc.Overview(context.Background()); err == nil {
		t.Error("expected error")
	}
}

func TestOverview_EmptyWarehouse(t *testing.T) {
	exec := newRoutingExecutor(map[string]warehouse.Table{})
	svc := New(exec, "")

	out, err := svc.Overview(context.Background())
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if out.Summary != (Summary{}) {
		t.Errorf("summary = %+v, want zero", out.Summary)
	}
}

func TestTableQualifier(t *testing.T) {
	exec := newRoutingExecutor(overviewRoutes())

	svc := New(exec, "hackathon.hackathon_build_hold_busters")
	if _, err := svc.Overview(context.Background()); err != nil {
		t.Fatalf("Overview: %v", err)
	}
	for _, q := range exec.queries {
		if !strings.Contains(q, "hackathon.hackathon_build_hold_busters.invoices") {
			t.Errorf("query missing schema qualifier:\n%s", q)
		}
	}

	exec2 := newRoutingExecutor(overviewRoutes())
	local := New(exec2, "")
	if _, err := local.Overview(context.Background()); err != nil {
		t.Fatalf("Overview: %v", err)
	}
	for _, q := range exec2.queries {
		if strings.Contains(q, "FROM .invoices") {
			t.Errorf("dangling qualifier dot:\n%s", q)
		}
	}
}

func TestInvoices_StatusFilter(t *testing.T) {
	exec := newRoutingExecutor(map[string]warehouse.Table{
		"FROM invoices": {Columns: []string{"Invoice_Name"}, Rows: [][]string{{"Invoice 1"}}},
	})
	svc := New(exec, "")

	if _, err := svc.Invoices(context.Background(), "Hold", 100); err != nil {
		t.Fatalf("Invoices: %v", err)
	}
	if !strings.Contains(exec.queries[0], "WHERE sitetracker__Status__c = 'Hold'") {
		t.Errorf("filter missing:\n%s", exec.queries[0])
	}

	if _, err := svc.Invoices(context.Background(), "", 100); err != nil {
		t.Fatalf("Invoices: %v", err)
	}
	if strings.Contains(exec.queries[1], "WHERE") {
		t.Errorf("unexpected filter:\n%s", exec.queries[1])
	}
}

func TestInvoices_RejectsUnknownStatus(t *testing.T) {
	svc := New(newRoutingExecutor(nil), "")

	// Injection attempts and typos both land here.
	for _, status := range []string{"hold", "Hold'; DROP TABLE invoices; --", "Unknown"} {
		if _, err := svc.Invoices(context.Background(), status, 100); err == nil {
			t.Errorf("status %q accepted", status)
		}
	}
}

func TestInvoices_ClampsLimit(t *testing.T) {
	tests := []struct {
		limit int
		want  string
	}{
		{1, "LIMIT 10"},
		{100, "LIMIT 100"},
		{99999, "LIMIT 1000"},
	}

	for _, tt := range tests {
		exec := newRoutingExecutor(nil)
		svc := New(exec, "")
		if _, err := svc.Invoices(context.Background(), "", tt.limit); err != nil {
			t.Fatalf("Invoices(%d): %v", tt.limit, err)
		}
		if !strings.Contains(exec.queries[0], tt.want) {
			t.Errorf("limit %d: query has no %q:\n%s", tt.limit, tt.want, exec.queries[0])
		}
	}
}
