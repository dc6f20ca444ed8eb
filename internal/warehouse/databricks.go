package warehouse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Databricks executes SQL through the Databricks SQL Statement Execution
// API against a SQL warehouse.
type Databricks struct {
	baseURL     string
	token       string
	warehouseID string
	httpClient  *http.Client

	// pollInterval is how long to wait between statement status checks
	// once the initial wait window elapses.
	pollInterval time.Duration
}

// NewDatabricks creates an executor for the given workspace host (e.g.
// "https://acme.cloud.databricks.com"), personal access token, and SQL
// warehouse id.
func NewDatabricks(host, token, warehouseID string) *Databricks {
	return &Databricks{
		baseURL:      strings.TrimRight(host, "/"),
		token:        token,
		warehouseID:  warehouseID,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		pollInterval: time.Second,
	}
}

// statementRequest is the JSON body for POST /api/2.0/sql/statements.
type statementRequest struct {
	Statement     string `json:"statement"`
	WarehouseID   string `json:"warehouse_id"`
	WaitTimeout   string `json:"wait_timeout"`
	OnWaitTimeout string `json:"on_wait_timeout"`
	Disposition   string `json:"disposition"`
}

type statementResponse struct {
	StatementID string `json:"statement_id"`
	Status      struct {
		State string `json:"state"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"status"`
	Manifest struct {
		Schema struct {
			Columns []struct {
				Name string `json:"name"`
			} `json:"columns"`
		} `json:"schema"`
	} `json:"manifest"`
	Result struct {
		DataArray [][]string `json:"data_array"`
	} `json:"result"`
}

// Execute submits the statement and waits for it to reach a terminal
// state, polling the statement endpoint if the synchronous wait window
// runs out first.
func (d *Databricks) Execute(ctx context.Context, query string) (Table, error) {
	body, err := json.Marshal(statementRequest{
		Statement:     query,
		WarehouseID:   d.warehouseID,
		WaitTimeout:   "30s",
		OnWaitTimeout: "CONTINUE",
		Disposition:   "INLINE",
	})
	if err != nil {
		return Table{}, err
	}

	resp, err := d.doJSON(ctx, http.MethodPost, "/api/2.0/sql/statements", bytes.NewReader(body))
	if err != nil {
		return Table{}, fmt.Errorf("submitting statement: %w", err)
	}

	for !terminalState(resp.Status.State) {
		select {
		case <-ctx.Done():
			return Table{}, ctx.Err()
		case <-time.After(d.pollInterval):
		}
		resp, err = d.doJSON(ctx, http.MethodGet, "/api/2.0/sql/statements/"+resp.StatementID, nil)
		if err != nil {
			return Table{}, fmt.Errorf("polling statement %s: %w", resp.StatementID, err)
		}
	}

	switch resp.Status.State {
	case "SUCCEEDED":
	case "FAILED":
		if msg := resp.Status.Error.Message; msg != "" {
			return Table{}, fmt.Errorf("statement failed: %s", msg)
		}
		return Table{}, fmt.Errorf("statement failed")
	default:
		return Table{}, fmt.Errorf("statement %s", strings.ToLower(resp.Status.State))
	}

	t := Table{Rows: resp.Result.DataArray}
	for _, c := range resp.Manifest.Schema.Columns {
		t.Columns = append(t.Columns, c.Name)
	}
	return t, nil
}

func (d *Databricks) doJSON(ctx context.Context, method, path string, body *bytes.Reader) (statementResponse, error) {
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, d.baseURL+path, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, d.baseURL+path, nil)
	}
	if err != nil {
		return statementResponse{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+d.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return statementResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return statementResponse{}, fmt.Errorf("authentication failed (%d): check DATABRICKS host and token", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return statementResponse{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var out statementResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return statementResponse{}, fmt.Errorf("decoding response: %w", err)
	}
	return out, nil
}

func terminalState(state string) bool {
	switch state {
	case "SUCCEEDED", "FAILED", "CANCELED", "CLOSED":
		return true
	}
	return false
}
