// Command imageloop-mcp exposes refinement runs as MCP tools over stdio, so
// an agent can launch runs and poll their progress without the HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/imageloop/imageloop/internal/cli"
	"github.com/imageloop/imageloop/internal/config"
	"github.com/imageloop/imageloop/internal/logging"
	"github.com/imageloop/imageloop/internal/run"
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "imageloop-mcp",
	Short: "MCP server for refinement runs",
	Long: `Imageloop MCP serves the refinement loop over the Model Context Protocol on
stdio. Clients get three tools: start_run launches a refinement session in the
background, run_status reports a run's per-iteration progress, and list_runs
enumerates known runs.

Examples:
  imageloop-mcp
  imageloop-mcp --config imageloop.yaml`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().StringVarP(&configFlag, "config", "c", "", "Path to the YAML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) {
	logging.Init()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx := context.Background()
	launcher, err := cli.NewLauncher(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "imageloop",
		Version: "0.1.0",
	}, nil)
	registerTools(server, launcher)

	log.Info().Msg("Starting MCP server on stdio")
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		log.Fatal().Err(err).Msg("MCP server failed")
	}
}

func loadConfig() (*config.Config, error) {
	if configFlag != "" {
		return config.Load(configFlag)
	}
	if _, err := os.Stat("imageloop.yaml"); err == nil {
		return config.Load("imageloop.yaml")
	}
	return config.Default(), nil
}

// --- Tool input/output types ---

type startRunInput struct {
	Goal             string   `json:"goal" jsonschema:"Natural-language description of the desired image"`
	Name             string   `json:"name,omitempty" jsonschema:"Run directory name; defaults to a timestamp"`
	MaxIterations    *int     `json:"maxIterations,omitempty" jsonschema:"Iteration budget; 0 completes immediately"`
	SuccessThreshold *float64 `json:"successThreshold,omitempty" jsonschema:"Score in [0,100] that ends the run"`
}

type startRunOutput struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type runStatusInput struct {
	ID string `json:"id" jsonschema:"Run identifier returned by start_run"`
}

type listRunsInput struct{}

type listRunsOutput struct {
	Runs []*run.Run `json:"runs"`
}

func registerTools(server *mcp.Server, launcher *cli.Launcher) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "start_run",
		Description: "Start a refinement run that generates, scores, and re-prompts images until the goal is met.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in startRunInput) (*mcp.CallToolResult, startRunOutput, error) {
		if in.Goal == "" {
			return nil, startRunOutput{}, fmt.Errorf("goal is required")
		}

		cfg := launcher.Config
		name := in.Name
		if name == "" {
			name = time.Now().Format("20060102-150405")
		}
		maxIterations := cfg.Iterations.MaxIterations
		if in.MaxIterations != nil {
			maxIterations = *in.MaxIterations
		}
		threshold := cfg.Iterations.SuccessThreshold
		if in.SuccessThreshold != nil {
			threshold = *in.SuccessThreshold
		}

		rec, orch, err := launcher.Launch(name, in.Goal, maxIterations, threshold)
		if err != nil {
			return nil, startRunOutput{}, err
		}

		go func() {
			if err := orch.Execute(context.Background()); err != nil {
				log.Warn().Err(err).Str("run", rec.ID).Msg("Run ended with failure")
			}
			launcher.Archive(context.Background(), rec.Name)
		}()

		return nil, startRunOutput{ID: rec.ID, Name: rec.Name}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "run_status",
		Description: "Report a run's status and per-iteration scores, critiques, and image paths.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in runStatusInput) (*mcp.CallToolResult, *run.Run, error) {
		rec := launcher.Registry.Snapshot(in.ID)
		if rec == nil {
			return nil, nil, fmt.Errorf("unknown run %q", in.ID)
		}
		return nil, rec, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_runs",
		Description: "List all runs, newest first.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in listRunsInput) (*mcp.CallToolResult, listRunsOutput, error) {
		return nil, listRunsOutput{Runs: launcher.Registry.List()}, nil
	})
}
