// healdash: self-healing service monitor with a web dashboard, workflow
// history and an optional host agent.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/vesaa/healdash/internal/agent"
	"github.com/vesaa/healdash/internal/app"
	"github.com/vesaa/healdash/internal/config"
	"github.com/vesaa/healdash/internal/logging"
	"github.com/vesaa/healdash/internal/store"
)

const asciiLogo = `
 ██╗  ██╗███████╗ █████╗ ██╗     ██████╗  █████╗ ███████╗██╗  ██╗
 ██║  ██║██╔════╝██╔══██╗██║     ██╔══██╗██╔══██╗██╔════╝██║  ██║
 ███████║█████╗  ███████║██║     ██║  ██║███████║███████╗███████║
 ██╔══██║██╔══╝  ██╔══██║██║     ██║  ██║██╔══██║╚════██║██╔══██║
 ██║  ██║███████╗██║  ██║███████╗██████╔╝██║  ██║███████║██║  ██║
 ╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝╚══════╝╚═════╝ ╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝
`

func printBanner(mode string) {
	fmt.Println(asciiLogo)
	fmt.Printf("  ► healdash %s  |  Mode: %s\n\n", agent.Version, mode)
}

func main() {
	root := &cobra.Command{
		Use:   "healdash",
		Short: "healdash: self-healing service monitor",
		Long: `healdash watches a fleet of services, records their logs and telemetry,
and runs remediation workflows when a service is down or unhealthy.`,
		SilenceUsage: true,
	}

	// ── server subcommand ─────────────────────────────────────────────────────
	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Start the healdash server (dual-port: 6677 control + 1616 data)",
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner("SERVER")

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			logging.Setup(cfg.LogLevel, cfg.LogFormat)
			if cfg.ServerMode == "debug" {
				gin.SetMode(gin.DebugMode)
			} else {
				gin.SetMode(gin.ReleaseMode)
			}

			st, err := store.Open(cfg)
			if err != nil {
				return fmt.Errorf("opening %s store: %w", cfg.DBDriver, err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, st)
			if err != nil {
				_ = st.Close()
				return fmt.Errorf("initializing server: %w", err)
			}
			defer func() {
				if err := a.Close(); err != nil {
					slog.Warn("closing store", "component", "db", "error", err)
				}
			}()

			fmt.Printf("  ✓ Control plane (Web UI + JWT API) → http://%s:%d\n", cfg.ServerHost, cfg.ControlPort)
			fmt.Printf("  ✓ Data    plane (Agent reports)    → http://%s:%d\n", cfg.ServerHost, cfg.DataPort)
			fmt.Printf("  ✓ Storage: %s\n", cfg.DBDriver)
			if cfg.AuthEnabled {
				fmt.Printf("  ✓ Default login: %s / %s\n", cfg.AdminUser, cfg.AdminPass)
			}
			fmt.Println()

			return a.Run(ctx)
		},
	}

	// ── agent subcommand ──────────────────────────────────────────────────────
	agentCmd := &cobra.Command{
		Use:   "agent",
		Short: "Start the healdash agent on this host",
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner("AGENT")

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			logging.Setup(cfg.LogLevel, cfg.LogFormat)

			// CLI flags override config values.
			if join, _ := cmd.Flags().GetString("join"); join != "" {
				if !containsPort(join) {
					join = fmt.Sprintf("%s:%d", join, cfg.DataPort)
				}
				cfg.AgentJoinAddr = join
			}
			if token, _ := cmd.Flags().GetString("token"); token != "" {
				cfg.AgentOutboundToken = token
			}
			if name, _ := cmd.Flags().GetString("name"); name != "" {
				cfg.AgentName = name
			}

			fmt.Printf("  ✓ Joining server:  %s\n", cfg.AgentJoinAddr)
			fmt.Printf("  ✓ Report interval: %ds\n\n", cfg.AgentInterval)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := agent.New(cfg).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	agentCmd.Flags().String("join", "", "Data-plane address, e.g. 192.168.1.1 or 192.168.1.1:1616")
	agentCmd.Flags().String("token", "", "Pre-shared token for server authentication (overrides config)")
	agentCmd.Flags().String("name", "", "Display name reported instead of the hostname")

	// ── version subcommand ────────────────────────────────────────────────────
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print healdash version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("healdash %s\n", agent.Version)
		},
	}

	root.AddCommand(serverCmd, agentCmd, versionCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// containsPort checks whether addr already has a port suffix.
func containsPort(addr string) bool {
	addr = strings.TrimPrefix(strings.TrimPrefix(addr, "http://"), "https://")
	return strings.LastIndex(addr, ":") > strings.LastIndex(addr, "]")
}
