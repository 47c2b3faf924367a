package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/miniclick/calltrack/internal/tracker/daemon"
	"github.com/miniclick/calltrack/internal/tracker/dashboard"
	"github.com/miniclick/calltrack/internal/tracker/progress"
	syncpass "github.com/miniclick/calltrack/internal/tracker/sync"
	"github.com/miniclick/calltrack/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "service",
	Short:   "Keep the store in sync in the foreground",
	Long: `Run the sync daemon in the foreground.

The daemon will:
  1. Run a full sync on start and every daemon.interval
  2. Watch the recording directories and look up recordings once new
     files stop changing (daemon.debounce)
  3. Watch the call log export and run a full sync when it changes
  4. Release calls stuck in the matching state

With --dashboard the WebSocket dashboard runs in the same process and
receives every store change and progress event.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		reporters := progress.Multi{progress.NewLogReporter(a.logger)}
		var handler *dashboard.Handler
		if withDashboard, _ := cmd.Flags().GetBool("dashboard"); withDashboard {
			server, err := startDashboard(cmd, a)
			if err != nil {
				return err
			}
			defer server.Stop()

			handler = dashboard.NewHandler(server, a.logger)
			go handler.Run(ctx)
			unsubscribe := a.store.Subscribe(handler.OnChange)
			defer unsubscribe()
			reporters = append(reporters, handler)
		}

		orch, err := a.Orchestrator(reporters)
		if err != nil {
			return err
		}

		var dirs []string
		if a.settings.RecordingEnabled() {
			if dirs, err = a.Resolver().SourceDirs(ctx); err != nil {
				return err
			}
		}

		cfg := daemon.DefaultConfig()
		if a.settings.DaemonInterval > 0 {
			cfg.SyncInterval = a.settings.DaemonInterval
		}
		if a.settings.DaemonDebounce > 0 {
			cfg.DebounceInterval = a.settings.DaemonDebounce
		}
		cfg.StaleTimeout = syncpass.DefaultConfig().StaleTimeout
		cfg.IsAudio = a.Resolver().Catalog().IsAudio
		cfg.CallLog = a.settings.CallLog
		cfg.OnResult = func(res syncpass.Result, err error) {
			if handler != nil {
				handler.OnSyncComplete(res, err)
			}
		}

		d, err := daemon.New(orch, a.store, dirs, cfg, a.logger)
		if err != nil {
			return err
		}

		fmt.Printf("%s Daemon started (sync every %v)\n", ui.RenderPass("✓"), cfg.SyncInterval)
		for _, dir := range dirs {
			fmt.Printf("   Watching: %s\n", dir)
		}
		fmt.Println("\nPress Ctrl+C to stop...")

		if err := d.Run(ctx); err != nil {
			return fmt.Errorf("daemon error: %w", err)
		}
		fmt.Println("\nDaemon stopped")
		return nil
	},
}

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "service",
	Short:   "Serve the status dashboard",
	Long: `Start the dashboard HTTP server.

Endpoints:
  /ws            WebSocket stream (stats, store changes, progress, sync results)
  /api/status    Call counts per sync axis
  /api/pending   Rows waiting to be pushed
  /metrics       Prometheus metrics
  /health        Health check

Run standalone, the dashboard only serves snapshots. Use
'calltrack daemon --dashboard' to stream live changes.

Example usage:
  calltrack dashboard                        # Listen on dashboard.addr
  calltrack dashboard --addr 127.0.0.1:9000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		server, err := startDashboard(cmd, a)
		if err != nil {
			return err
		}
		fmt.Println("\nPress Ctrl+C to stop...")
		<-ctx.Done()

		fmt.Println("\nShutting down dashboard server...")
		if err := server.Stop(); err != nil {
			return err
		}
		fmt.Println("Dashboard server stopped")
		return nil
	},
}

func startDashboard(cmd *cobra.Command, a *app) (*dashboard.Server, error) {
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = a.settings.DashboardAddr
	}
	server := dashboard.NewServer(dashboard.Config{
		Addr:    addr,
		Status:  a.store,
		Pending: dashboard.ReconcilerPending{R: a.Reconciler()},
		Logger:  a.logger,
	})
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("failed to start dashboard: %w", err)
	}
	fmt.Printf("Dashboard server started on http://%s\n", server.GetAddr())
	fmt.Printf("WebSocket endpoint: ws://%s/ws\n", server.GetAddr())
	return server, nil
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "Also serve the dashboard")
	daemonCmd.Flags().String("addr", "", "Dashboard listen address (default dashboard.addr)")
	dashboardCmd.Flags().String("addr", "", "Listen address (default dashboard.addr)")

	rootCmd.AddCommand(daemonCmd, dashboardCmd)
}
