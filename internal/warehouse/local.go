package warehouse

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Local is a SQLite-backed executor for development without a Databricks
// workspace. On first open it seeds a synthetic invoice dataset so the
// dashboard and assistant have something to query.
type Local struct {
	db *sql.DB
}

// OpenLocal opens (or creates) the local warehouse database in dataDir,
// runs pending migrations, and seeds synthetic data if the invoices table
// is empty. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func OpenLocal(dataDir string) (*Local, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "warehouse.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	l := &Local{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	if err := l.seedIfEmpty(); err != nil {
		db.Close()
		return nil, fmt.Errorf("seeding synthetic data: %w", err)
	}

	return l, nil
}

// Close closes the underlying database connection.
func (l *Local) Close() error {
	return l.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (l *Local) migrate() error {
	if _, err := l.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var exists int
		if err := l.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := l.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

// Execute runs the query and renders every cell to its string form.
func (l *Local) Execute(ctx context.Context, query string) (Table, error) {
	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return Table{}, fmt.Errorf("executing query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Table{}, fmt.Errorf("reading columns: %w", err)
	}

	t := Table{Columns: cols}
	for rows.Next() {
		cells := make([]sql.NullString, len(cols))
		dest := make([]any, len(cols))
		for i := range cells {
			dest[i] = &cells[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return Table{}, fmt.Errorf("scanning row: %w", err)
		}
		row := make([]string, len(cols))
		for i, c := range cells {
			if c.Valid {
				row[i] = c.String
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, rows.Err()
}

// --- Synthetic seed data ---

var (
	seedStatuses   = []string{"Draft", "Submitted", "Approved", "Paid", "Hold"}
	seedStates     = []string{"CA", "NY", "TX", "FL", "WA"}
	seedVendors    = []string{"Synthetic Tech Partners 11", "Fiber Dynamics LLC", "Northline Construction", "Apex Network Services"}
	seedReasons    = []string{"Missing PO", "Amount mismatch", "Duplicate invoice", "Budget exceeded", "Pending approval"}
	seedCategories = []string{
		"Labor - Engineering",
		"Labor - Installation",
		"Materials - Network Equipment",
		"Materials - Fiber Cable",
		"Services - Project Management",
	}
)

const seedInvoiceCount = 120

func (l *Local) seedIfEmpty() error {
	var n int
	if err := l.db.QueryRow("SELECT COUNT(*) FROM invoices").Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	// Deterministic seed keeps local runs reproducible.
	rng := rand.New(rand.NewSource(42))

	tx, err := l.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	projectID := "a0F" + strings.ReplaceAll(uuid.NewString(), "-", "")[:15]
	if _, err := tx.Exec(`INSERT INTO projects (Project_Id, Infinium_Project_Number__c, Company__c, Infinium_Status__c, Approval_Status__c)
		VALUES (?, 'PROJ-SYN-001', 'Frontier Communications', 'Active', 'Approved')`, projectID); err != nil {
		return err
	}

	now := time.Now().UTC()
	for i := 0; i < seedInvoiceCount; i++ {
		status := seedStatuses[i%len(seedStatuses)]
		invoiceID := fmt.Sprintf("INV-SYN-%05d", 10000+i)
		invoiceDate := now.AddDate(0, 0, -rng.Intn(180)-1)
		amount := 1000 + rng.Float64()*99000

		var approvalDate, reason, integration any
		var daysPending int
		switch status {
		case "Approved", "Paid":
			approvalDate = invoiceDate.AddDate(0, 0, rng.Intn(14)+1).Format("2006-01-02")
			integration = "Success"
		case "Hold":
			daysPending = rng.Intn(60) + 5
			reason = seedReasons[rng.Intn(len(seedReasons))]
			integration = "Error"
		case "Submitted":
			daysPending = rng.Intn(20) + 1
		}

		if _, err := tx.Exec(`INSERT INTO invoices
			(Invoice_Id, Invoice_Name, Vendor__Name, Invoice_Date__c, Total_Amount__c, sitetracker__Status__c,
			 Days_Pending_Approval__c, Integration_Status__c, Reason__c, State__c, Approval_Date__c)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			invoiceID,
			fmt.Sprintf("Invoice %d", i+1),
			seedVendors[rng.Intn(len(seedVendors))],
			invoiceDate.Format("2006-01-02"),
			amount,
			status,
			daysPending,
			integration,
			reason,
			seedStates[rng.Intn(len(seedStates))],
			approvalDate,
		); err != nil {
			return err
		}

		lines := rng.Intn(3) + 1
		for j := 0; j < lines; j++ {
			qty := float64(rng.Intn(20) + 1)
			unit := 50 + rng.Float64()*450
			if _, err := tx.Exec(`INSERT INTO invoice_lines
				(Invoice_Line_Id, Invoice_Id, Project_Id, Invoice_Amount__c, Invoice_Status__c,
				 Cost_Category_Name__c, sitetracker__Quantity__c, sitetracker__Unit_Price__c)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				"a0G"+strings.ReplaceAll(uuid.NewString(), "-", "")[:15],
				invoiceID,
				projectID,
				qty*unit,
				status,
				seedCategories[rng.Intn(len(seedCategories))],
				qty,
				unit,
			); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}
