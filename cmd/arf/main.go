package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"arf/internal/config"
	"arf/internal/llm"
	"arf/internal/logging"
	"arf/internal/model"
	"arf/internal/philosophy"
	"arf/internal/system"
	"arf/internal/web"
)

const version = "1.0.0"

var (
	configPath string
	verbose    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "arf",
	Short: "ARF - Autonomous Research Framework",
	Long: `ARF continuously ingests chat exports and conversations, extracts
mathematical concepts, scores them against philosophical elegance
criteria, validates surviving hypotheses with generated experiments,
and maintains a growing research document.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the continuous research loop with the dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		printBanner(cfg)

		sys, err := system.New(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return sys.RunForever(ctx)
		})
		if cfg.Web.Enabled {
			srv := web.NewServer(cfg.Web.Addr, sys.Store(), sys.Documents(), logger)
			g.Go(func() error {
				return srv.Start(ctx)
			})
		}

		return g.Wait()
	},
}

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run a single research cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		sys, err := system.New(cfg)
		if err != nil {
			return err
		}
		defer sys.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := sys.RunCycle(ctx); err != nil {
			return err
		}
		fmt.Println("cycle complete")
		return nil
	},
}

var webCmd = &cobra.Command{
	Use:   "web",
	Short: "Serve the dashboard without running the research loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		sys, err := system.New(cfg)
		if err != nil {
			return err
		}
		defer sys.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv := web.NewServer(cfg.Web.Addr, sys.Store(), sys.Documents(), logger)
		return srv.Start(ctx)
	},
}

var evalCmd = &cobra.Command{
	Use:   "eval [concept]",
	Short: "Evaluate a single concept against the elegance criteria",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		tracker, err := model.NewTracker(cfg.Paths.State)
		if err != nil {
			return err
		}
		manager := model.NewManager(cfg.Models, tracker)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		client, err := manager.ClientFor(ctx, "evaluation")
		if err != nil {
			return err
		}
		ev, err := evaluateConcept(ctx, cfg, client, args[0])
		if err != nil {
			return err
		}

		printEvaluation(ev)
		return tracker.Save()
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("%s already exists", configPath)
		}
		if err := config.DefaultConfig().Save(configPath); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", configPath)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status from the last checkpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		sys, err := system.New(cfg)
		if err != nil {
			return err
		}
		defer sys.Close()

		snap := sys.Store().Snapshot()
		summary, err := sys.Archive().Summary(context.Background())
		if err != nil {
			return err
		}

		fmt.Printf("Framework version:   %s\n", snap.FrameworkVersion)
		fmt.Printf("Last checkpoint:     %s\n", snap.LastCheckpoint.Format(time.RFC3339))
		fmt.Printf("Processed chats:     %d\n", len(snap.ProcessedChats))
		fmt.Printf("Pending validations: %d\n", len(snap.PendingValidations))
		fmt.Printf("Open questions:      %d\n", len(snap.PendingQuestions))
		fmt.Printf("Archived concepts:   %d (%d accepted, mean score %.2f)\n",
			summary.Total, summary.Accepted, summary.MeanScore)

		usage := sys.Usage()
		fmt.Printf("Tokens used:         %d total\n", usage.Total.Total)
		for name, tc := range usage.ByModel {
			fmt.Printf("  %-18s %d in / %d out\n", name, tc.Input, tc.Output)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("arf %s\n", version)
	},
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logging.Initialize(".", cfg.Logging.Level, cfg.Logging.DebugMode); err != nil {
		return nil, err
	}
	return cfg, nil
}

func evaluateConcept(ctx context.Context, cfg *config.Config, client llm.Client, concept string) (*philosophy.Evaluation, error) {
	evaluator, err := philosophy.NewEvaluator(philosophy.FromConfig(cfg.Philosophy), client)
	if err != nil {
		return nil, err
	}
	return evaluator.Evaluate(ctx, concept)
}

var (
	bannerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 2)
	acceptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	rejectStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
)

func printBanner(cfg *config.Config) {
	body := fmt.Sprintf("Autonomous Research Framework %s\n\n"+
		"Drop ChatGPT exports in %s\n"+
		"Add comments with %%%% COMMENT: in the LaTeX document\n"+
		"Dashboard at http://localhost%s",
		version, cfg.Paths.Input, cfg.Web.Addr)
	fmt.Println(bannerStyle.Render(body))
}

func printEvaluation(ev *philosophy.Evaluation) {
	verdict := rejectStyle.Render("REJECTED")
	if ev.Accepted {
		verdict = acceptStyle.Render("ACCEPTED")
	}
	fmt.Printf("%s  score %.3f (model %s)\n\n", verdict, ev.Score, ev.Model)
	fmt.Printf("  inevitability:     %.2f\n", ev.Ratings.Inevitability)
	fmt.Printf("  symmetry:          %.2f\n", ev.Ratings.Symmetry)
	fmt.Printf("  parsimony:         %.2f\n", ev.Ratings.Parsimony)
	fmt.Printf("  explanatory power: %.2f\n", ev.Ratings.ExplanatoryPower)
	if ev.Rationale != "" {
		fmt.Printf("\n%s\n", ev.Rationale)
	}
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	rootCmd.AddCommand(runCmd, cycleCmd, webCmd, evalCmd, initCmd, statusCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
