package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/book-expert/kokoro-deploy/internal/provision"
)

// ErrNotProvisioned is returned when a mandatory status check fails.
var ErrNotProvisioned = errors.New("environment is not fully provisioned")

// Status returns the command that inspects the provisioned environment.
//
// Optional flags:
//
//	--config, -c: Path to a TOML configuration file (default: central configurator)
//	--verify: Re-hash artifacts against their configured digests
func Status() *cobra.Command {
	var (
		configPath string
		verify     bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Inspect the provisioned environment",
		Long: `Report the state of every provisioned piece without changing anything.

The command exits non-zero when a mandatory piece is missing. With --verify,
artifacts that carry a configured sha256 digest are re-hashed against it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), configPath, verify)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a TOML configuration file")
	cmd.Flags().BoolVar(&verify, "verify", false, "Re-hash artifacts against their configured digests")

	return cmd
}

func runStatus(ctx context.Context, configPath string, verify bool) error {
	application, cleanup, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	provisioner, err := provision.New(application.cfg, application.log)
	if err != nil {
		return err
	}

	report := provisioner.Status(ctx, verify)

	for _, check := range report.Checks {
		state := "ok"
		if !check.OK {
			state = "fail"
		}

		fmt.Printf("%-7s %-28s %s\n", "["+state+"]", check.Name, check.Detail)
	}

	if !report.Healthy() {
		return ErrNotProvisioned
	}

	return nil
}
