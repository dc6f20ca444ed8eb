package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"holdbusters/internal/assistant"
	"holdbusters/internal/dashboard"
	"holdbusters/internal/feedback"
	"holdbusters/internal/warehouse"
)

// MCPDeps holds dependencies for the MCP server. The assistant session is
// shared across tool calls, so an MCP client holds one conversation the
// same way a browser session does.
type MCPDeps struct {
	Assistant *assistant.Service
	Feedback  *feedback.Store
	Dashboard *dashboard.Service
	Executor  warehouse.Executor
}

// NewMCPServer creates an MCP server exposing the invoice assistant and
// warehouse as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"holdbusters",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("holdbusters — invoice hold analysis: ask natural-language questions about invoices, run SQL, and manage the assistant's correction memory."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask the invoice assistant a natural-language question about invoice data. Maintains one conversation across calls."),
			mcp.WithString("question", mcp.Description("The question to ask"), mcp.Required()),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("run_sql",
			mcp.WithDescription("Execute a SQL query directly against the invoice warehouse and return the rows."),
			mcp.WithString("query", mcp.Description("SQL to execute"), mcp.Required()),
		),
		mcpRunSQL(deps),
	)

	s.AddTool(
		mcp.NewTool("invoice_summary",
			mcp.WithDescription("Return the invoice KPI summary with hold-reason and state breakdowns."),
		),
		mcpInvoiceSummary(deps),
	)

	s.AddTool(
		mcp.NewTool("add_correction",
			mcp.WithDescription("Record a correction for the assistant's last answer; it is replayed into future conversations."),
			mcp.WithString("feedback", mcp.Description("What was wrong and what to remember"), mcp.Required()),
		),
		mcpAddCorrection(deps),
	)

	s.AddTool(
		mcp.NewTool("list_corrections",
			mcp.WithDescription("List the stored corrections as JSON."),
		),
		mcpListCorrections(deps),
	)

	s.AddTool(
		mcp.NewTool("clear_corrections",
			mcp.WithDescription("Delete all stored corrections."),
		),
		mcpClearCorrections(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		turn, err := deps.Assistant.Ask(ctx, question)
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}

		b, err := json.Marshal(turn)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRunSQL(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		table, err := deps.Executor.Execute(ctx, query)
		if err != nil {
			return mcpError(fmt.Sprintf("query failed: %v", err)), nil
		}

		b, err := json.Marshal(table)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpInvoiceSummary(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		overview, err := deps.Dashboard.Overview(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("summary failed: %v", err)), nil
		}

		b, err := json.Marshal(overview)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal summary: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddCorrection(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("feedback")
		if err != nil {
			return mcpError("feedback is required"), nil
		}

		turn, persisted, err := deps.Assistant.SubmitCorrection(ctx, text)
		if err != nil {
			return mcpError(fmt.Sprintf("correction failed: %v", err)), nil
		}
		if !persisted {
			return mcpText("Correction sent, but it could not be saved for future conversations.\n\n" + turn.Content), nil
		}
		return mcpText("Correction saved.\n\n" + turn.Content), nil
	}
}

func mcpListCorrections(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		entries := deps.Feedback.LoadAll()
		if len(entries) == 0 {
			return mcpText("[]"), nil
		}
		b, err := json.Marshal(entries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal corrections: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpClearCorrections(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := deps.Feedback.Clear(); err != nil {
			return mcpError(fmt.Sprintf("clear failed: %v", err)), nil
		}
		return mcpText("All corrections cleared."), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
