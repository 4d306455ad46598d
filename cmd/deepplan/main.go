// Package main provides the CLI entry point for the deepplan agent runtime.
//
// deepplan drives an LLM through a four-phase software-planning workflow
// (investigation → discussion → planning → task generation) while keeping
// the conversation inside a bounded token budget.
//
// # Basic Usage
//
// Run a planning session:
//
//	deepplan run "plan a migration of the billing service to gRPC"
//
// Inspect the effective configuration:
//
//	deepplan status
//
// # Environment Variables
//
//   - DEEPPLAN_CONFIG: Path to configuration file (default: deepplan.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/haasonsaas/deepplan/internal/config"
	"github.com/haasonsaas/deepplan/internal/runtime"
	"github.com/haasonsaas/deepplan/internal/state"
	"github.com/haasonsaas/deepplan/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "deepplan",
		Short:        "LLM planning agent runtime with bounded context",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to configuration file")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newStatusCmd(&configPath))
	root.AddCommand(newVersionCmd())
	return root
}

func defaultConfigPath() string {
	if path := os.Getenv("DEEPPLAN_CONFIG"); path != "" {
		return path
	}
	return "deepplan.yaml"
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run [input]",
		Short: "Run a planning session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger := cfg.NewLogger()

			rt, err := runtime.New(cfg, logger, runtime.Options{
				MetricsRegisterer: prometheus.DefaultRegisterer,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st := rt.NewState()
			input := strings.Join(args, " ")
			if _, err := rt.Loop.Invoke(ctx, st, input); err != nil {
				return err
			}

			for st.Outcome == models.OutcomeInterrupted {
				resp, err := promptApproval(st)
				if err != nil {
					return err
				}
				if _, err := rt.Loop.Resume(ctx, st, resp); err != nil {
					return err
				}
			}

			printFinal(st)
			if st.Outcome.Fatal() {
				return fmt.Errorf("run failed: %s", st.Outcome)
			}
			return nil
		},
	}
}

// promptApproval handles a plan-approval interrupt interactively.
func promptApproval(st *state.AgentState) (models.InterruptResponse, error) {
	interrupt := st.Interrupt
	fmt.Println()
	fmt.Println(interrupt.FormattedPlan)
	fmt.Println("Plan review required. Actions: approve / edit / reject")
	fmt.Print("> ")

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return models.InterruptResponse{}, err
	}
	action := strings.TrimSpace(strings.ToLower(line))

	resp := models.InterruptResponse{Action: action}
	switch action {
	case models.ApprovalActionApprove:
	case models.ApprovalActionEdit, models.ApprovalActionReject:
		fmt.Print("Feedback: ")
		feedback, err := reader.ReadString('\n')
		if err != nil {
			return models.InterruptResponse{}, err
		}
		resp.Feedback = strings.TrimSpace(feedback)
	default:
		resp.Action = models.ApprovalActionReject
		resp.Feedback = "unrecognised action: " + action
	}
	return resp, nil
}

func printFinal(st *state.AgentState) {
	for i := len(st.Messages) - 1; i >= 0; i-- {
		if st.Messages[i].Role == models.RoleAssistant && st.Messages[i].Content != "" {
			fmt.Println(st.Messages[i].Content)
			break
		}
	}
	fmt.Printf("\noutcome: %s | phase: %s | messages: %d | compressions: %d\n",
		st.Outcome, st.Phase.CurrentPhase, len(st.Messages), len(st.CompressionHistory))
}

func newStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(cfg.NewLogger()); err != nil {
				return err
			}
			fmt.Printf("model:                %s\n", cfg.Model)
			fmt.Printf("max context window:   %d tokens\n", cfg.MaxContextWindow)
			fmt.Printf("trigger threshold:    %.0f%%\n", cfg.TriggerThreshold*100)
			fmt.Printf("post-tool threshold:  %.0f%%\n", cfg.PostToolThreshold*100)
			fmt.Printf("force-LLM threshold:  %.0f%%\n", cfg.ForceLLMThreshold*100)
			fmt.Printf("preserve last N:      %d messages\n", cfg.PreserveLastNMessages)
			fmt.Printf("archive thresholds:   large=%d huge=%d chars\n",
				cfg.ArchiveThresholds.Large, cfg.ArchiveThresholds.Huge)
			fmt.Printf("rate limit:           %d/min %d/hour\n",
				cfg.RateLimit.PerMinute, cfg.RateLimit.PerHour)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("deepplan", version)
		},
	}
}
