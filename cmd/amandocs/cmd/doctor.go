package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aman-cerp/amandocs/internal/config"
	"github.com/aman-cerp/amandocs/internal/lifecycle"
	"github.com/aman-cerp/amandocs/internal/output"
	"github.com/aman-cerp/amandocs/internal/preflight"
)

func newDoctorCmd() *cobra.Command {
	var (
		verbose bool
		offline bool
		pull    bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system requirements and diagnose issues",
		Long: `doctor runs local diagnostics: disk space, memory, write
permissions, file descriptor limits, and whether the configured
embedding model is present. Embedder checks are non-critical - a
missing model falls back to the static hash-based embedder.

Use --verbose for detailed diagnostic information, --json for
machine-readable output, and --pull to offer to download a missing
Ollama model interactively.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			jsonOutput, _ := cmd.Flags().GetBool("json")
			return runDoctor(cmd, verbose, jsonOutput, offline, pull)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().Bool("json", false, "Output as JSON")
	cmd.Flags().BoolVar(&offline, "offline", false, "Skip checks that require network access")
	cmd.Flags().BoolVar(&pull, "pull", false, "Offer to pull a missing embedding model interactively")

	return cmd
}

func runDoctor(cmd *cobra.Command, verbose, jsonOutput, offline, pull bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	checker := preflight.New(
		preflight.WithOffline(offline),
		preflight.WithVerbose(verbose),
		preflight.WithOutput(cmd.OutOrStdout()),
	)

	results := checker.RunAll(ctx, root)

	if pull && !jsonOutput {
		maybeOfferModelPull(ctx, cmd, results)
	}

	if jsonOutput {
		return outputDoctorJSON(cmd, checker, results)
	}

	checker.PrintResults(results)

	dataDir := config.ProjectDataDir(root)
	if !preflight.NeedsCheck(dataDir) {
		if age := preflight.MarkerAge(dataDir); age > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "\nLast successful check: %s ago\n", formatDuration(age))
		}
	}

	if checker.HasCriticalFailures(results) {
		return &doctorError{message: "system check failed"}
	}
	return nil
}

// maybeOfferModelPull looks for a failed or warned embedder_model
// check and, on a terminal, offers to pull the model through
// Ollama right away instead of leaving the operator to run a
// separate install step.
func maybeOfferModelPull(ctx context.Context, cmd *cobra.Command, results []preflight.CheckResult) {
	if !lifecycle.IsTTY() {
		return
	}
	out := output.New(cmd.OutOrStdout())
	for _, r := range results {
		if r.Name != "embedder_model" || r.Status == preflight.StatusPass {
			continue
		}
		model := defaultOllamaModel
		accept, err := lifecycle.PromptModelNotFound(cmd.OutOrStdout(), cmd.InOrStdin(), model)
		if err != nil || !accept {
			return
		}
		mgr := lifecycle.NewOllamaManager()
		progressFunc := lifecycle.CreatePullProgressFunc(cmd.OutOrStdout())
		out.Newline()
		if err := mgr.PullModel(ctx, model, progressFunc); err != nil {
			out.Errorf("model pull failed: %v", err)
			return
		}
		out.Success("model pulled successfully")
		return
	}
}

// defaultOllamaModel is the model amandocs pulls when none is
// configured yet; it matches internal/config's NewConfig default.
const defaultOllamaModel = "nomic-embed-text"

type doctorError struct {
	message string
}

func (e *doctorError) Error() string {
	return e.message
}

// JSONOutput is the machine-readable shape for 'doctor --json'.
type JSONOutput struct {
	Status   string            `json:"status"`
	Checks   []JSONCheckResult `json:"checks"`
	Warnings []string          `json:"warnings,omitempty"`
	Errors   []string          `json:"errors,omitempty"`
}

// JSONCheckResult is a single check result for JSON output.
type JSONCheckResult struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Required bool   `json:"required"`
	Details  string `json:"details,omitempty"`
}

func outputDoctorJSON(cmd *cobra.Command, checker *preflight.Checker, results []preflight.CheckResult) error {
	output := JSONOutput{
		Status: checker.SummaryStatus(results),
		Checks: make([]JSONCheckResult, len(results)),
	}

	for i, r := range results {
		output.Checks[i] = JSONCheckResult{
			Name:     r.Name,
			Status:   statusToString(r.Status),
			Message:  r.Message,
			Required: r.Required,
			Details:  r.Details,
		}
		if r.IsCritical() {
			output.Errors = append(output.Errors, r.Name+": "+r.Message)
		} else if r.Status == preflight.StatusWarn {
			output.Warnings = append(output.Warnings, r.Name+": "+r.Message)
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

func statusToString(s preflight.CheckStatus) string {
	switch s {
	case preflight.StatusPass:
		return "pass"
	case preflight.StatusWarn:
		return "warn"
	case preflight.StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

func formatDuration(d time.Duration) string {
	hours := d.Hours()
	if hours < 1 {
		return "less than 1 hour"
	}
	if hours < 24 {
		return formatUnit(int(hours), "hour")
	}
	return formatUnit(int(hours/24), "day")
}

func formatUnit(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
