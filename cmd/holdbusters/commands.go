package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"holdbusters/internal/config"
	"holdbusters/internal/warehouse"
)

// turnView mirrors the transcript turn JSON returned by the server.
type turnView struct {
	Role           string           `json:"role"`
	Content        string           `json:"content"`
	SQL            string           `json:"sql,omitempty"`
	Result         *warehouse.Table `json:"result,omitempty"`
	ExecutedResult *warehouse.Table `json:"executed_result,omitempty"`
	IsFeedback     bool             `json:"is_feedback,omitempty"`
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the invoice assistant a question",
	Long: `Ask the invoice assistant a natural-language question.

Examples:
  holdbusters ask "How many invoices are on hold?"
  holdbusters ask "Total amount by vendor for held invoices"
  holdbusters ask --session 7f3a... "And only for the west region?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		sessionID, _ := cmd.Flags().GetString("session")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		if sessionID == "" {
			resp, err := client.post(ctx, "/sessions", nil)
			if err != nil {
				return err
			}
			var opened struct {
				ID               string `json:"id"`
				SavedCorrections int    `json:"saved_corrections"`
			}
			if err := decodeJSON(resp, &opened); err != nil {
				return err
			}
			sessionID = opened.ID
			if opened.SavedCorrections > 0 {
				printStatus("Saved corrections", "%d will guide this conversation", opened.SavedCorrections)
			}
		}

		resp, err := client.post(ctx, "/sessions/"+sessionID+"/questions", map[string]string{
			"question": question,
		})
		if err != nil {
			return err
		}

		var result struct {
			Turn turnView `json:"turn"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printTurn(result.Turn)
		printStatus("Session", "%s (pass --session to continue this conversation)", sessionID)
		return nil
	},
}

func init() {
	askCmd.Flags().String("session", "", "continue an existing session by id")
}

func printTurn(turn turnView) {
	if turn.Content != "" {
		fmt.Println(turn.Content)
	}
	if turn.SQL != "" {
		fmt.Printf("\n%s\n%s\n", colorize(colorBold, "SQL:"), turn.SQL)
	}
	if table := turn.Result; table != nil && !table.Empty() {
		printTable(*table)
	} else if table := turn.ExecutedResult; table != nil && !table.Empty() {
		printTable(*table)
	}
}

func printTable(table warehouse.Table) {
	fmt.Println()
	fmt.Println(colorize(colorBold, strings.Join(table.Columns, " | ")))
	for _, row := range table.Rows {
		fmt.Println(strings.Join(row, " | "))
	}
}

// --- feedback ---

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Manage saved corrections",
}

var feedbackAddCmd = &cobra.Command{
	Use:   "add <session-id> <correction>",
	Short: "Correct the assistant's last answer in a session",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID := args[0]
		text := strings.Join(args[1:], " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/sessions/"+sessionID+"/corrections", map[string]string{
			"feedback": text,
		})
		if err != nil {
			return err
		}

		var result struct {
			Turn      turnView `json:"turn"`
			Persisted bool     `json:"persisted"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Persisted {
			printSuccess("Correction saved for future sessions")
		} else {
			printWarning("Correction applied to this conversation but could not be saved")
		}
		printTurn(result.Turn)
		return nil
	},
}

var feedbackListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved corrections",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/corrections")
		if err != nil {
			return err
		}

		var entries []struct {
			Timestamp  string `json:"timestamp"`
			Question   string `json:"question"`
			Correction string `json:"correction"`
		}
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No saved corrections.")
			return nil
		}

		for i, e := range entries {
			fmt.Printf("%s %s\n", colorize(colorCyan, fmt.Sprintf("%2d.", i+1)), e.Timestamp)
			fmt.Printf("    Q: %s\n", e.Question)
			fmt.Printf("    %s\n", e.Correction)
		}
		return nil
	},
}

var feedbackClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all saved corrections",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL saved corrections. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/corrections")
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}

		printSuccess("Saved corrections cleared")
		return nil
	},
}

func init() {
	feedbackClearCmd.Flags().Bool("confirm", false, "confirm deletion")
	feedbackCmd.AddCommand(feedbackAddCmd)
	feedbackCmd.AddCommand(feedbackListCmd)
	feedbackCmd.AddCommand(feedbackClearCmd)
}

// --- dashboard ---

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show the invoice hold overview",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("invoices")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		if status != "" {
			resp, err := client.get(ctx, "/invoices?status="+url.QueryEscape(status))
			if err != nil {
				return err
			}
			var table warehouse.Table
			if err := decodeJSON(resp, &table); err != nil {
				return err
			}
			if table.Empty() {
				fmt.Println("No invoices found.")
				return nil
			}
			printTable(table)
			return nil
		}

		resp, err := client.get(ctx, "/dashboard/summary")
		if err != nil {
			return err
		}

		var overview struct {
			Summary struct {
				TotalInvoices  int     `json:"total_invoices"`
				OnHold         int     `json:"on_hold"`
				HoldPercent    float64 `json:"hold_percent"`
				TotalAmount    float64 `json:"total_amount"`
				AvgDaysPending float64 `json:"avg_days_pending"`
			} `json:"summary"`
			HoldReasons []struct {
				Label  string  `json:"label"`
				Count  int     `json:"count"`
				Amount float64 `json:"amount"`
			} `json:"hold_reasons"`
			ByState []struct {
				Label  string  `json:"label"`
				Count  int     `json:"count"`
				Amount float64 `json:"amount"`
			} `json:"by_state"`
		}
		if err := decodeJSON(resp, &overview); err != nil {
			return err
		}

		printStatus("Total invoices", "%d", overview.Summary.TotalInvoices)
		printStatus("On hold", "%d (%.1f%%)", overview.Summary.OnHold, overview.Summary.HoldPercent)
		printStatus("Total amount", "$%.2f", overview.Summary.TotalAmount)
		printStatus("Avg days pending", "%.1f", overview.Summary.AvgDaysPending)

		if len(overview.HoldReasons) > 0 {
			fmt.Println(colorize(colorBold, "\nHold reasons:"))
			for _, b := range overview.HoldReasons {
				fmt.Printf("  %-30s %4d  $%.2f\n", b.Label, b.Count, b.Amount)
			}
		}
		if len(overview.ByState) > 0 {
			fmt.Println(colorize(colorBold, "\nBy status:"))
			for _, b := range overview.ByState {
				fmt.Printf("  %-30s %4d  $%.2f\n", b.Label, b.Count, b.Amount)
			}
		}
		return nil
	},
}

func init() {
	dashboardCmd.Flags().String("invoices", "", "list invoices with the given status instead of the overview")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
