package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
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
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/chatembed/internal/api"
	"github.com/kalambet/chatembed/internal/config"
	"github.com/kalambet/chatembed/internal/session"
	"github.com/kalambet/chatembed/internal/widget"
)

const (
	sweepInterval       = time.Hour
	widgetEvictInterval = 5 * time.Minute
	shutdownTimeout     = 5 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP widget host (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		host, _ := cmd.Flags().GetString("host")
		local, _ := cmd.Flags().GetBool("local")
		return runServer(host, local)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running widget host",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show widget host status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve one chat widget over MCP (stdio)",
	Long: `Serve one chat widget over MCP on stdin/stdout.

The widget is created from --embed, --bot-id or --integration-id and exposes
the send_message, submit_contact, select_department and render_markdown tools
and the widget://session resource.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		embed, err := embedFromFlags(cmd)
		if err != nil {
			return err
		}
		local, _ := cmd.Flags().GetBool("local")
		return runMCP(embed, local)
	},
}

func init() {
	serveCmd.Flags().String("host", "127.0.0.1", "address to listen on")
	serveCmd.Flags().Bool("local", false, "use the local SQLite store instead of the REST API")

	mcpCmd.Flags().String("bot-id", "", "bot to talk to")
	mcpCmd.Flags().String("integration-id", "", "integration to load")
	mcpCmd.Flags().String("embed", "", "embed document (YAML or JSON)")
	mcpCmd.Flags().Bool("local", false, "use the local SQLite store instead of the REST API")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "chatembed.pid")
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

func runServer(host string, local bool) error {
	fmt.Fprintln(os.Stderr, versionLine())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL(cfg)); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("chatembed is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("chatembed is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, runtimeOptions{local: local})
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	registry := api.NewRegistry()
	addr := net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewWidgetHandler(api.WidgetDeps{Controller: rt.ctrl, Registry: registry}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		printSuccess("chatembed listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		session.NewSweeper(rt.sessions, sweepInterval).Run(gctx)
		return nil
	})
	g.Go(func() error {
		registry.Run(gctx, widgetEvictInterval, api.DefaultWidgetIdle)
		return nil
	})
	return g.Wait()
}

func runMCP(embed widget.Embed, local bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, runtimeOptions{local: local, apiBaseURL: embed.APIBaseURL, anonKey: embed.AnonKey})
	if err != nil {
		return err
	}
	defer rt.Close()

	s, err := rt.ctrl.Init(ctx, embed.Source())
	if err != nil {
		return fmt.Errorf("%s: %w", s.Banner, err)
	}

	mcpSrv := api.NewMCPServer(api.MCPDeps{Host: widget.NewHost(rt.ctrl, rt.ctrl.Open(s))})
	slog.Info("MCP server started (stdio transport)", "bot_id", s.BotID())
	if err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
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
		printError("chatembed is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop chatembed (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to chatembed (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client := newAPIClient(cfg)
	if err := client.health(ctx); err != nil {
		printStatus("Server", "stopped")
	} else {
		printStatus("Server", "running on port %d", cfg.Server.Port)
	}

	backend := "not configured"
	if cfg.RequireRemote() == nil {
		backend = cfg.API.BaseURL
	}
	printStatus("Backend", "%s", backend)
	printStatus("Function", "%s", cfg.API.Function)
	printStatus("Client storage", "%s", storageLabel(cfg))
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func storageLabel(cfg config.Config) string {
	if cfg.Storage.Driver == "redis" {
		return "redis at " + cfg.Redis.Addr
	}
	return cfg.Storage.Driver
}

func healthURL(cfg config.Config) string {
	return fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
}
