package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"mcp-cicd-agent/internal/config"
	"mcp-cicd-agent/internal/container"
	"mcp-cicd-agent/internal/dispatcher"
	"mcp-cicd-agent/internal/gitdriver"
	"mcp-cicd-agent/internal/logging"
	"mcp-cicd-agent/internal/metrics"
	"mcp-cicd-agent/internal/orchestrator"
	"mcp-cicd-agent/internal/state"
)

var (
	version = "1.0.0"
	commit  = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mcp-cicd-agent",
		Short: "Deployment automation agent exposed over a stdio tool protocol",
		Long: `mcp-cicd-agent takes a source repository from a Git URL to a running,
health-validated container on the local machine, with the ability to roll
back to the previous known-good version.`,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent's stdio tool server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mcp-cicd-agent %s (%s)\n", version, commit)
		},
	}
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logging.Setup(cfg.LogDir, cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	audit, err := logging.NewAuditLogger(cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to set up audit logger: %w", err)
	}
	defer audit.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	if err := os.MkdirAll(cfg.WorkspaceDir, 0o755); err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}

	gitDriver := gitdriver.New(cfg.WorkspaceDir, cfg.AllowedGitHosts, cfg.GitHubToken)

	containerDriver, err := container.New(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize container driver: %w", err)
	}
	defer containerDriver.Close()

	store, err := state.New(cfg.DeploymentDir)
	if err != nil {
		return fmt.Errorf("failed to initialize deployment state store: %w", err)
	}

	metricsRegistry := metrics.New()

	orch := orchestrator.New(cfg, gitDriver, containerDriver, store, log, audit, metricsRegistry)

	d := dispatcher.New()
	registerTools(d, orch)

	snapshot, _ := metricsRegistry.Snapshot()
	log.WithFields(logrus.Fields{
		"server_name": cfg.ServerName,
		"transport":   cfg.Transport,
	}).Info("mcp-cicd-agent starting")
	log.WithField("metrics", snapshot).Debug("metrics registry initialized")

	if err := d.Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		log.WithField("error", err.Error()).Error("stdio server exited with error")
		return err
	}

	log.Info("mcp-cicd-agent stopped")
	return nil
}

// registerTools wires the eight tool operations into the dispatcher. Each
// handler decodes its raw JSON arguments into the operation's typed Args
// struct before delegating to the orchestrator.
func registerTools(d *dispatcher.Dispatcher, orch *orchestrator.Orchestrator) {
	d.Register("prepare_repo", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args orchestrator.PrepareRepoArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, err
		}
		return orch.PrepareRepo(ctx, args)
	})

	d.Register("detect_project_type", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args orchestrator.DetectProjectTypeArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, err
		}
		return orch.DetectProjectType(ctx, args)
	})

	d.Register("build_image", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args orchestrator.BuildImageArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, err
		}
		return orch.BuildImage(ctx, args)
	})

	d.Register("deploy_container", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args orchestrator.DeployContainerArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, err
		}
		return orch.DeployContainer(ctx, args)
	})

	d.Register("healthcheck", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args orchestrator.HealthcheckArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, err
		}
		return orch.Healthcheck(ctx, args)
	})

	d.Register("get_logs", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args orchestrator.GetLogsArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, err
		}
		return orch.GetLogs(ctx, args)
	})

	d.Register("stop_deployment", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args orchestrator.StopDeploymentArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, err
		}
		return orch.StopDeployment(ctx, args)
	})

	d.Register("rollback", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args orchestrator.RollbackArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, err
		}
		return orch.Rollback(ctx, args)
	})
}
