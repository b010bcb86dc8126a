package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"polish/internal/approval"
	"polish/internal/config"
	"polish/internal/decisionlog"
	"polish/internal/edit"
	"polish/internal/events"
	"polish/internal/iterate"
	"polish/internal/logging"
	"polish/internal/memory"
	"polish/internal/notify"
	"polish/internal/observability"
	"polish/internal/oracle"
	"polish/internal/plan"
	"polish/internal/server"
	"polish/internal/workspace"
)

func newRunCmd() *cobra.Command {
	var (
		urlFlag     string
		unattended  bool
		skipRefine  bool
		desktopNote bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the improvement loop against the configured URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := resolveWorkspace()
			if err != nil {
				return err
			}
			if err := ws.EnsureDirs(); err != nil {
				return err
			}
			cfg, err := config.Load(ws.ConfigPath)
			if err != nil {
				return err
			}
			if urlFlag != "" {
				cfg.Run.URL = urlFlag
			}
			if cfg.Run.URL == "" {
				return fmt.Errorf("run.url is not configured; set it in %s or pass --url", ws.ConfigPath)
			}
			if skipRefine {
				cfg.Run.Refinement = false
			}
			return runLoop(cmd.Context(), ws, cfg, unattended, desktopNote)
		},
	}
	cmd.Flags().StringVar(&urlFlag, "url", "", "page to refine (overrides run.url)")
	cmd.Flags().BoolVar(&unattended, "unattended", false, "skip the console prompt; decisions come from the HTTP API only")
	cmd.Flags().BoolVar(&skipRefine, "no-refinement", false, "stop after the baseline phase")
	cmd.Flags().BoolVar(&desktopNote, "notify", false, "raise desktop notifications for pending approvals")
	return cmd
}

func runLoop(parent context.Context, ws *workspace.Workspace, cfg *config.Config, unattended, desktopNote bool) error {
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	mem, err := memory.OpenSQL(ws.MemoryDBPath)
	if err != nil {
		return fmt.Errorf("open outcome memory: %w", err)
	}
	defer mem.Close()

	declog, err := decisionlog.Open(ws.DecisionDBPath)
	if err != nil {
		return fmt.Errorf("open decision log: %w", err)
	}
	defer declog.Close()

	broker := events.NewBroker()
	registry := prometheus.NewRegistry()
	metrics := observability.New(registry)

	gate := approval.NewGate(declog, broker, logger)
	if !unattended {
		gate.Attach(&approval.ConsoleChannel{In: os.Stdin, Out: os.Stdout, Logger: logger})
	}

	if desktopNote {
		notifier := &notify.Notifier{Enabled: true}
		sub, cancel := broker.Subscribe()
		defer cancel()
		go notifier.Watch(sub)
	}

	var srv *server.Server
	if cfg.Server.Enabled {
		srv = server.New(server.Options{
			Addr:     cfg.Server.Addr,
			Gate:     gate,
			Log:      declog,
			Broker:   broker,
			Logger:   logger,
			Gatherer: registry,
		})
		go func() {
			if err := srv.ListenAndServe(); err != nil {
				logger.Error("approval server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	scorer, capturer, err := buildOracle(ws, cfg)
	if err != nil {
		return err
	}

	runID := iterate.NewRunID()
	controller := &iterate.Controller{
		Planner:  buildPlanner(cfg, logger),
		Executor: buildExecutor(ws, cfg, mem, runID, logger),
		Gate:     gate,
		Scorer:   scorer,
		Capturer: capturer,
		Memory:   mem,
		Broker:   broker,
		Metrics:  metrics,
		Log:      logger,
		LoadFiles: func(context.Context) ([]plan.CandidateFile, error) {
			return plan.LoadCandidates(ws.TargetDir, cfg.Planner.Extensions, cfg.Planner.MaxFiles)
		},
		SavePlan: func(checkpointID string, p *plan.ChangePlan) error {
			return plan.Write(filepath.Join(ws.PlansDir, checkpointID+".json"), p)
		},
	}

	report := &iterate.RunReport{
		RunID:     runID,
		URL:       cfg.Run.URL,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}

	baseline, runErr := controller.RunPhase(ctx, iterate.PhaseConfig{
		Phase:           iterate.PhaseBaseline,
		RunID:           runID,
		URL:             cfg.Run.URL,
		TargetScore:     cfg.Run.TargetScore,
		MaxIterations:   cfg.Run.BaselineMaxIterations,
		ApprovalTimeout: cfg.ApprovalTimeout(),
		BaseCostCents:   cfg.Run.BaseCostCents,
		OracleRetries:   cfg.Oracle.Retries,
	})
	if baseline != nil {
		report.Phases = append(report.Phases, *baseline)
	}

	if runErr == nil && cfg.Run.Refinement && baseline != nil && baseline.Reason == iterate.ReasonTargetReached {
		refinement, err := controller.RunPhase(ctx, iterate.PhaseConfig{
			Phase:             iterate.PhaseRefinement,
			RunID:             runID,
			URL:               cfg.Run.URL,
			TargetScore:       cfg.Run.ExcellenceTarget,
			MaxIterations:     cfg.Run.RefinementMaxIterations,
			MinImprovement:    cfg.Run.MinImprovement,
			PlateauIterations: cfg.Run.PlateauIterations,
			ApprovalTimeout:   cfg.ApprovalTimeout(),
			BaseCostCents:     cfg.Run.BaseCostCents,
			OracleRetries:     cfg.Oracle.Retries,
		})
		if refinement != nil {
			report.Phases = append(report.Phases, *refinement)
		}
		runErr = err
	}

	gate.CancelRun(runID)

	report.EndedAt = time.Now().UTC().Format(time.RFC3339)
	report.Seal()
	path, err := iterate.WriteReport(ws.ReportsDir, report)
	if err != nil {
		logger.Error("write run report failed", zap.Error(err))
	} else {
		logger.Info("run report written", zap.String("path", path))
	}

	fmt.Printf("run %s: %s (%s) final score %.1f\n", runID, report.StoppedIn, report.Reason, report.FinalScore)
	return runErr
}

func buildPlanner(cfg *config.Config, logger *zap.Logger) *plan.Planner {
	source := &plan.OpenAISource{
		Client: openai.NewClient(os.Getenv("OPENAI_API_KEY")),
		Model:  cfg.Planner.Model,
	}
	planner := plan.NewPlanner(source, logger)
	if cfg.Planner.MaxFiles > 0 {
		planner.MaxFiles = cfg.Planner.MaxFiles
	}
	return planner
}

func buildExecutor(ws *workspace.Workspace, cfg *config.Config, mem memory.Store, runID string, logger *zap.Logger) *edit.Executor {
	executor := edit.NewExecutor(ws.TargetDir, mem, logger)
	executor.FallbackRadius = cfg.Executor.FallbackRadius
	executor.RunID = runID
	return executor
}

func buildOracle(ws *workspace.Workspace, cfg *config.Config) (oracle.Scorer, oracle.Capturer, error) {
	var capturer oracle.Capturer
	switch {
	case cfg.Capture.StaticPath != "":
		path, err := ws.ResolvePath(cfg.Capture.StaticPath)
		if err != nil {
			return nil, nil, err
		}
		capturer = &oracle.StaticCapturer{Path: path}
	case len(cfg.Capture.Command) > 0:
		capturer = &oracle.CommandCapturer{
			Command: cfg.Capture.Command,
			OutDir:  ws.ScreenshotsDir,
			Timeout: cfg.CaptureTimeout(),
		}
	}

	switch cfg.Oracle.Provider {
	case "vision":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, nil, fmt.Errorf("OPENAI_API_KEY is required for the vision oracle")
		}
		if capturer == nil {
			return nil, nil, fmt.Errorf("the vision oracle needs a capture command or static screenshot")
		}
		return &oracle.VisionScorer{Client: openai.NewClient(key), Model: cfg.Oracle.Model}, capturer, nil
	case "file":
		path, err := ws.ResolvePath(cfg.Oracle.ReviewsPath)
		if err != nil {
			return nil, nil, err
		}
		return &oracle.FileScorer{Path: path}, capturer, nil
	case "mock":
		return &oracle.MockScorer{}, capturer, nil
	}
	return nil, nil, fmt.Errorf("unknown oracle provider %q", cfg.Oracle.Provider)
}
