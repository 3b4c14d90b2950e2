package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/book-expert/kokoro-deploy/internal/fileutil"
	"github.com/book-expert/kokoro-deploy/internal/provision"
)

// Bootstrap returns the command that provisions the host.
//
// Optional flags:
//
//	--config, -c: Path to a TOML configuration file (default: central configurator)
func Bootstrap() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Provision the host for the kokoro-tts engine",
		Long: `Run the ordered provisioning sequence against this host: verify tooling,
check out the engine repository, install its Python dependencies, download
the model artifacts, fix permissions, apply the headless patch, and run a
smoke test.

Every step is idempotent. Work that is already in place is skipped, so the
command is safe to re-run after a partial failure.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBootstrap(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a TOML configuration file")

	return cmd
}

func runBootstrap(ctx context.Context, configPath string) error {
	application, cleanup, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	provisioner, err := provision.New(application.cfg, application.log)
	if err != nil {
		return err
	}

	report, err := provisioner.Bootstrap(ctx)
	if report != nil {
		printReport(report)
	}

	return err
}

func printReport(report *provision.Report) {
	for _, result := range report.Results {
		var detail string

		switch result.Status {
		case provision.StatusOK:
			detail = fileutil.FormatDuration(result.Duration.Seconds())
		case provision.StatusSkipped:
			detail = "already satisfied"
		case provision.StatusFailed:
			detail = result.Err.Error()
		case provision.StatusNotRun:
			detail = "not run"
		}

		fmt.Printf("%-10s %-15s %s\n", "["+string(result.Status)+"]", result.Name, detail)
	}

	fmt.Println(summaryLine(report))

	hint := smokeHint(report)
	if hint != "" {
		fmt.Println(hint)
	}
}

// summaryLine condenses a bootstrap report into the closing status line.
func summaryLine(report *provision.Report) string {
	elapsed := fileutil.FormatDuration(report.Duration.Seconds())

	if !report.Succeeded() {
		return "Provisioning failed after " + elapsed
	}

	warnings := report.BestEffortFailures()
	if len(warnings) > 0 {
		return fmt.Sprintf(
			"Finished in %s with warnings: %s",
			elapsed, strings.Join(warnings, ", "),
		)
	}

	return "Finished in " + elapsed
}

// smokeHint returns an operator hint when the sequence finished but the
// closing smoke test did not pass.
func smokeHint(report *provision.Report) string {
	smoke := report.Result(provision.StepSmokeTest)
	if smoke == nil || smoke.Status != provision.StatusFailed {
		return ""
	}

	return "The smoke test failed; check the log, then verify synthesis with 'kokoro-deploy speak'."
}
