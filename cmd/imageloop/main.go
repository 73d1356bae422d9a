package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/imageloop/imageloop/internal/cli"
	"github.com/imageloop/imageloop/internal/config"
	"github.com/imageloop/imageloop/internal/logging"
	"github.com/imageloop/imageloop/internal/run"
)

// CLI flags
var (
	goalFlag          string
	runNameFlag       string
	configFlag        string
	maxIterationsFlag int
	thresholdFlag     float64
	outputDirFlag     string
	workflowFlag      string
)

// rootCmd runs one refinement session in the foreground.
var rootCmd = &cobra.Command{
	Use:   "imageloop",
	Short: "Iteratively refine AI image generations toward a goal",
	Long: `Imageloop drives an automated refinement loop: it generates an image from a
prompt, has a vision model score the result against your goal, rewrites the
prompt from the critique, and repeats until the score clears the success
threshold or the iteration budget runs out.

Images and per-iteration logs are written under the runs directory, one
subdirectory per run.

Examples:
  imageloop --goal "a red bicycle leaning against a brick wall at sunset"
  imageloop -g "studio photo of a ceramic teapot" --max-iterations 10
  imageloop -g "neon city street" --run-name city-v2 --config imageloop.yaml`,
	RunE: runMain,
}

func init() {
	rootCmd.Flags().StringVarP(&goalFlag, "goal", "g", "", "Natural-language description of the desired image (required)")
	rootCmd.Flags().StringVarP(&runNameFlag, "run-name", "n", "", "Run directory name (default: timestamp)")
	rootCmd.Flags().StringVarP(&configFlag, "config", "c", "", "Path to the YAML config file")
	rootCmd.Flags().IntVar(&maxIterationsFlag, "max-iterations", 0, "Iteration budget (overrides config)")
	rootCmd.Flags().Float64Var(&thresholdFlag, "success-threshold", 0, "Score in [0,100] that ends the run (overrides config)")
	rootCmd.Flags().StringVarP(&outputDirFlag, "output-dir", "o", "", "Runs directory (overrides config)")
	rootCmd.Flags().StringVarP(&workflowFlag, "workflow", "w", "", "Workflow template JSON (overrides config)")
	_ = rootCmd.MarkFlagRequired("goal")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) error {
	// Errors are logged here; keep cobra from printing them a second time.
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	logging.Init()

	cfg, err := loadConfig()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}
	applyFlagOverrides(cmd, cfg)

	// Ctrl-C finishes the in-flight iteration, then stops the run.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	launcher, err := cli.NewLauncher(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize")
		return err
	}

	name := runNameFlag
	if name == "" {
		name = time.Now().Format("20060102-150405")
	}

	r, orch, err := launcher.Launch(name, goalFlag, cfg.Iterations.MaxIterations, cfg.Iterations.SuccessThreshold)
	if err != nil {
		log.Error().Err(err).Msg("Failed to start run")
		return err
	}

	execErr := orch.Execute(ctx)
	launcher.Archive(context.Background(), name)

	final := launcher.Registry.Snapshot(r.ID)
	printSummary(final, cfg.RunsDirectory)

	if execErr != nil {
		return fmt.Errorf("run %s failed", name)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	if configFlag != "" {
		return config.Load(configFlag)
	}
	// An imageloop.yaml next to the binary is picked up automatically.
	if _, err := os.Stat("imageloop.yaml"); err == nil {
		return config.Load("imageloop.yaml")
	}
	return config.Default(), nil
}

// applyFlagOverrides lets explicitly set flags win over the config file.
// cmd.Flags().Changed distinguishes --max-iterations 0 from an unset flag.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("max-iterations") {
		cfg.Iterations.MaxIterations = maxIterationsFlag
	}
	if cmd.Flags().Changed("success-threshold") {
		cfg.Iterations.SuccessThreshold = thresholdFlag
	}
	if outputDirFlag != "" {
		cfg.RunsDirectory = outputDirFlag
	}
	if workflowFlag != "" {
		cfg.ComfyUI.WorkflowTemplate = workflowFlag
	}
}

func printSummary(r *run.Run, runsDir string) {
	if r == nil {
		return
	}

	fmt.Println()
	fmt.Println("============================================")
	fmt.Println("Refinement Summary")
	fmt.Println("============================================")
	fmt.Printf("Run:        %s\n", r.Name)
	fmt.Printf("Goal:       %s\n", r.Goal)
	fmt.Printf("Status:     %s\n", r.Status)
	fmt.Printf("Iterations: %d of %d\n", len(r.Iterations), r.MaxIterations)
	if r.Error != "" {
		fmt.Printf("Error:      %s\n", r.Error)
	}
	fmt.Println("--------------------------------------------")

	for _, it := range r.Iterations {
		score := "no score"
		if it.Score != nil {
			score = fmt.Sprintf("%.0f/100", *it.Score)
		}
		fmt.Printf("   %2d. %s  %s\n", it.Index, score, it.ImagePath)
	}
	if len(r.Iterations) > 0 {
		best := r.Iterations[0]
		for _, it := range r.Iterations[1:] {
			if it.Score != nil && (best.Score == nil || *it.Score > *best.Score) {
				best = it
			}
		}
		if best.Score != nil {
			fmt.Println("--------------------------------------------")
			fmt.Printf("Best image: %s (%.0f/100)\n", best.ImagePath, *best.Score)
		}
	}
	fmt.Printf("Artifacts:  %s/%s\n", runsDir, r.Name)
	fmt.Println("============================================")
}
