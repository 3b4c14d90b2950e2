package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/book-expert/kokoro-deploy/internal/engine"
	"github.com/book-expert/kokoro-deploy/internal/objectstore"
	"github.com/book-expert/kokoro-deploy/internal/worker"
)

// Serve returns the command that runs the NATS synthesis worker.
//
// Optional flags:
//
//	--config, -c: Path to a TOML configuration file (default: central configurator)
func Serve() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Consume synthesis jobs from NATS",
		Long: `Connect to NATS and process synthesis jobs until interrupted.

The engine must be provisioned first; serve refuses to start against an
incomplete installation.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a TOML configuration file")

	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	application, cleanup, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	synthesizer := engine.New(application.cfg, application.log)

	err = synthesizer.Ready()
	if err != nil {
		return fmt.Errorf(
			"engine is not provisioned, run 'kokoro-deploy bootstrap' first: %w", err,
		)
	}

	natsConnection, err := nats.Connect(application.cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf(
			"failed to connect to NATS at %s: %w", application.cfg.NATS.URL, err,
		)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}

	textStore, err := objectstore.New(
		jetstreamContext, application.cfg.NATS.TextObjectStoreBucket,
	)
	if err != nil {
		return err
	}

	audioStore, err := objectstore.New(
		jetstreamContext, application.cfg.NATS.AudioObjectStoreBucket,
	)
	if err != nil {
		return err
	}

	natsWorker, err := worker.NewNatsWorker(
		natsConnection,
		jetstreamContext,
		application.cfg,
		textStore,
		audioStore,
		synthesizer,
		application.log,
	)
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	application.log.System(
		"kokoro-deploy initialized. Listening for jobs on subject: %s",
		application.cfg.NATS.TextProcessedSubject,
	)

	return natsWorker.Run(runCtx)
}
