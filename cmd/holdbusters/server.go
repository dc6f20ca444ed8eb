package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"holdbusters/internal/api"
	"holdbusters/internal/assistant"
	"holdbusters/internal/config"
	"holdbusters/internal/dashboard"
	"holdbusters/internal/feedback"
	"holdbusters/internal/genie"
	"holdbusters/internal/ollama"
	"holdbusters/internal/warehouse"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the holdbusters server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running holdbusters server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show holdbusters system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "holdbusters.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "holdbusters version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("holdbusters is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("holdbusters is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Build the warehouse executor and the conversational backend for the
	// configured mode.
	var (
		executor warehouse.Executor
		conv     genie.Conversations
		spaceID  string
		schema   string
	)
	switch cfg.Warehouse.Mode {
	case config.ModeDatabricks:
		executor = warehouse.NewDatabricks(cfg.Databricks.Host, cfg.Databricks.Token, cfg.Databricks.WarehouseID)
		conv = genie.NewClient(cfg.Databricks.Host, cfg.Databricks.Token)
		spaceID = cfg.Genie.SpaceID
		schema = cfg.Warehouse.Schema
		slog.Info("using Databricks warehouse", "host", cfg.Databricks.Host, "space", spaceID)
	case config.ModeLocal:
		local, err := warehouse.OpenLocal(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening local warehouse: %w", err)
		}
		defer func() {
			if err := local.Close(); err != nil {
				slog.Warn("closing local warehouse", "error", err)
			}
		}()
		executor = local

		oc := ollama.New(cfg.Ollama.BaseURL)
		if !oc.IsRunning(ctx) {
			printWarning("Ollama is not reachable at %s; questions will fail until it is running", cfg.Ollama.BaseURL)
		} else if !oc.HasModel(ctx, cfg.Ollama.Model) {
			printWarning("model %q not found in Ollama; run: ollama pull %s", cfg.Ollama.Model, cfg.Ollama.Model)
		}
		conv = genie.NewLocalAssistant(oc, cfg.Ollama.Model, slog.Default())
		// Local tables live in the default schema.
		schema = ""
		slog.Info("using local warehouse", "data_dir", cfg.Storage.DataDir, "model", cfg.Ollama.Model)
	default:
		return fmt.Errorf("unknown warehouse mode %q", cfg.Warehouse.Mode)
	}

	store := feedback.NewStore(cfg.Storage.FeedbackPath)
	injector := feedback.NewInjector(store)
	dash := dashboard.New(executor, schema)

	newAssistant := func() *assistant.Service {
		return assistant.New(genie.NewSession(conv, spaceID, injector), store, executor)
	}
	sessions := api.NewRegistry(newAssistant)

	handler := api.NewHandler(api.Deps{
		Sessions:  sessions,
		Feedback:  store,
		Dashboard: dash,
		Token:     cfg.Server.Token,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Build and start MCP server (stdio transport in a goroutine). MCP
	// clients share one long-lived conversation.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Assistant: newAssistant(),
		Feedback:  store,
		Dashboard: dash,
		Executor:  executor,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "holdbusters listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("holdbusters is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop holdbusters (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to holdbusters (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Warehouse", "%s", cfg.Warehouse.Mode)
	switch cfg.Warehouse.Mode {
	case config.ModeDatabricks:
		printStatus("Workspace", "%s", cfg.Databricks.Host)
		printStatus("Genie space", "%s", cfg.Genie.SpaceID)
	case config.ModeLocal:
		oc := ollama.New(cfg.Ollama.BaseURL)
		if oc.IsRunning(ctx) {
			printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
		} else {
			printStatus("Ollama", "not running")
		}
		printStatus("Model", "%s", cfg.Ollama.Model)
	}

	// Show saved correction count if the server is up.
	if resp != nil && resp.StatusCode == 200 {
		if c, err := newAPIClient(); err == nil {
			if listResp, err := c.get(ctx, "/corrections"); err == nil {
				var entries []struct {
					Question string `json:"question"`
				}
				if decodeJSON(listResp, &entries) == nil {
					printStatus("Saved corrections", "%d", len(entries))
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
