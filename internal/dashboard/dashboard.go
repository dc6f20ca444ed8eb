package dashboard

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"holdbusters/internal/warehouse"
)

// Summary holds the headline invoice KPIs.
type Summary struct {
	TotalInvoices  int     `json:"total_invoices"`
	OnHold         int     `json:"on_hold"`
	HoldPercent    float64 `json:"hold_percent"`
	TotalAmount    float64 `json:"total_amount"`
	AvgDaysPending float64 `json:"avg_days_pending"`
}

// Bucket is one row of a grouped breakdown.
type Bucket struct {
	Label  string  `json:"label"`
	Count  int     `json:"count"`
	Amount float64 `json:"amount"`
}

// Overview bundles everything the dashboard landing view renders.
type Overview struct {
	Summary     Summary  `json:"summary"`
	HoldReasons []Bucket `json:"hold_reasons"`
	ByState     []Bucket `json:"by_state"`
}

// Service runs the canned analytical queries against the warehouse.
type Service struct {
	exec   warehouse.Executor
	schema string
}

// New creates a Service. schema is the warehouse schema qualifier for the
// invoice tables; pass "" for an unqualified (local) database.
func New(exec warehouse.Executor, schema string) *Service {
	return &Service{exec: exec, schema: schema}
}

func (s *Service) table(name string) string {
	if s.schema == "" {
		return name
	}
	return s.schema + "." + name
}

// Overview fetches the KPI summary and breakdowns. The three queries are
// independent, so they fan out concurrently.
func (s *Service) Overview(ctx context.Context) (Overview, error) {
	var out Overview
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sum, err := s.summary(gctx)
		if err != nil {
			return fmt.Errorf("loading summary: %w", err)
		}
		out.Summary = sum
		return nil
	})
	g.Go(func() error {
		buckets, err := s.breakdown(gctx, "Reason__c", "sitetracker__Status__c = 'Hold' AND Reason__c IS NOT NULL")
		if err != nil {
			return fmt.Errorf("loading hold reasons: %w", err)
		}
		out.HoldReasons = buckets
		return nil
	})
	g.Go(func() error {
		buckets, err := s.breakdown(gctx, "State__c", "sitetracker__Status__c = 'Hold'")
		if err != nil {
			return fmt.Errorf("loading state breakdown: %w", err)
		}
		out.ByState = buckets
		return nil
	})

	if err := g.Wait(); err != nil {
		return Overview{}, err
	}
	return out, nil
}

func (s *Service) summary(ctx context.Context) (Summary, error) {
	query := fmt.Sprintf(`SELECT
    COUNT(*) as total_invoices,
    SUM(CASE WHEN sitetracker__Status__c = 'Hold' THEN 1 ELSE 0 END) as on_hold,
    SUM(Total_Amount__c) as total_amount,
    AVG(Days_Pending_Approval__c) as avg_days_pending
FROM %s`, s.table("invoices"))

	t, err := s.exec.Execute(ctx, query)
	if err != nil {
		return Summary{}, err
	}
	if t.Empty() || len(t.Rows[0]) < 4 {
		return Summary{}, nil
	}

	row := t.Rows[0]
	sum := Summary{
		TotalInvoices:  atoi(row[0]),
		OnHold:         atoi(row[1]),
		TotalAmount:    atof(row[2]),
		AvgDaysPending: atof(row[3]),
	}
	if sum.TotalInvoices > 0 {
		sum.HoldPercent = float64(sum.OnHold) / float64(sum.TotalInvoices) * 100
	}
	return sum, nil
}

func (s *Service) breakdown(ctx context.Context, column, where string) ([]Bucket, error) {
	query := fmt.Sprintf(`SELECT %s, COUNT(*), SUM(Total_Amount__c)
FROM %s
WHERE %s
GROUP BY %s
ORDER BY COUNT(*) DESC`, column, s.table("invoices"), where, column)

	t, err := s.exec.Execute(ctx, query)
	if err != nil {
		return nil, err
	}

	var buckets []Bucket
	for _, row := range t.Rows {
		if len(row) < 3 {
			continue
		}
		buckets = append(buckets, Bucket{Label: row[0], Count: atoi(row[1]), Amount: atof(row[2])})
	}
	return buckets, nil
}

// validStatuses guards the explorer filter; the status value is spliced
// into SQL and must come from this closed set.
var validStatuses = map[string]bool{
	"Draft": true, "Submitted": true, "Approved": true, "Paid": true, "Hold": true,
}

// Invoices returns recent invoices for the explorer table, optionally
// filtered by status. limit is clamped to [10, 1000].
func (s *Service) Invoices(ctx context.Context, status string, limit int) (warehouse.Table, error) {
	if status != "" && !validStatuses[status] {
		return warehouse.Table{}, fmt.Errorf("unknown status filter %q", status)
	}
	if limit < 10 {
		limit = 10
	}
	if limit > 1000 {
		limit = 1000
	}

	var where string
	if status != "" {
		where = fmt.Sprintf("WHERE sitetracker__Status__c = '%s'", status)
	}

	query := fmt.Sprintf(`SELECT
    Invoice_Name,
    Vendor__Name,
    Invoice_Date__c,
    Total_Amount__c,
    sitetracker__Status__c as Status,
    Days_Pending_Approval__c,
    State__c
FROM %s
%s
ORDER BY Invoice_Date__c DESC
LIMIT %d`, s.table("invoices"), where, limit)

	return s.exec.Execute(ctx, strings.TrimSpace(query))
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

func atof(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}
