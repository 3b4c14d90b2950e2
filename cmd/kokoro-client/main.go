// main package for the kokoro-client helper, a command line producer for the
// synthesis worker: it uploads text to the object store, requests synthesis
// over NATS, and downloads the resulting audio.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/kokoro-deploy/internal/config"
	"github.com/book-expert/kokoro-deploy/internal/fileutil"
	"github.com/book-expert/kokoro-deploy/internal/objectstore"
)

// Flag names.
const (
	flagText    = "text"
	flagInput   = "input"
	flagVoice   = "voice"
	flagOutput  = "output"
	flagConfig  = "config"
	flagTimeout = "timeout"
)

// Flag descriptions.
const (
	flagTextDesc    = "Text to synthesize"
	flagInputDesc   = "Path to a text file to synthesize"
	flagVoiceDesc   = "Voice code (default from configuration)"
	flagOutputDesc  = "Output file path for the returned audio"
	flagConfigDesc  = "Path to a TOML configuration file"
	flagTimeoutDesc = "Seconds to wait for the service reply"
)

const (
	defaultTimeoutSeconds = 180
	textKeyRandomLength   = 8
	clientLogFileName     = "kokoro-client.log"
)

// Static errors.
var (
	errNoInput    = errors.New("either --text or --input must be provided")
	errBothInputs = errors.New("cannot specify both --text and --input")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	text    string
	input   string
	voice   string
	output  string
	config  string
	timeout int
}

func main() {
	err := run()
	if err != nil {
		// The logger might not be initialized yet, so use the standard log package.
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags := parseFlags()

	err := validateArguments(flags)
	if err != nil {
		flag.Usage()

		return err
	}

	cfg, clientLog, err := setup(flags.config)
	if err != nil {
		return err
	}

	defer func() {
		closeErr := clientLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	inputText, err := readInputText(flags)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(
		context.Background(), time.Duration(flags.timeout)*time.Second,
	)
	defer cancel()

	return submit(ctx, cfg, clientLog, inputText, flags)
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags() appFlags {
	var flags appFlags

	flag.StringVar(&flags.text, flagText, "", flagTextDesc)
	flag.StringVar(&flags.input, flagInput, "", flagInputDesc)
	flag.StringVar(&flags.voice, flagVoice, "", flagVoiceDesc)
	flag.StringVar(&flags.output, flagOutput, "", flagOutputDesc)
	flag.StringVar(&flags.config, flagConfig, "", flagConfigDesc)
	flag.IntVar(&flags.timeout, flagTimeout, defaultTimeoutSeconds, flagTimeoutDesc)
	flag.Parse()

	return flags
}

// validateArguments enforces that exactly one text source was given.
func validateArguments(flags appFlags) error {
	if flags.text == "" && flags.input == "" {
		return errNoInput
	}

	if flags.text != "" && flags.input != "" {
		return errBothInputs
	}

	return nil
}

// setup loads the configuration and initializes the client logger.
func setup(configPath string) (*config.Config, *logger.Logger, error) {
	bootstrapLog, err := logger.New(os.TempDir(), "kokoro-client-bootstrap.log")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create bootstrap logger: %w", err)
	}

	cfg, err := loadConfig(configPath, bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	err = cfg.EnsureDirectories()
	if err != nil {
		bootstrapLog.Error("Failed to prepare directories: %v", err)

		return nil, nil, err
	}

	clientLog, err := logger.New(cfg.Paths.BaseLogsDir, clientLogFileName)
	if err != nil {
		bootstrapLog.Error("Failed to create client logger: %v", err)

		return nil, nil, fmt.Errorf("failed to create client logger: %w", err)
	}

	return cfg, clientLog, nil
}

func loadConfig(configPath string, bootstrapLog *logger.Logger) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}

	return config.Load(bootstrapLog)
}

// readInputText returns the text to synthesize from the flags.
func readInputText(flags appFlags) (string, error) {
	if flags.input == "" {
		return flags.text, nil
	}

	data, err := os.ReadFile(flags.input)
	if err != nil {
		return "", fmt.Errorf("failed to read input file %s: %w", flags.input, err)
	}

	return string(data), nil
}

// submit uploads the text, requests synthesis, and downloads the audio reply.
func submit(
	ctx context.Context,
	cfg *config.Config,
	clientLog *logger.Logger,
	inputText string,
	flags appFlags,
) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}

	textStore, err := objectstore.New(jetstreamContext, cfg.NATS.TextObjectStoreBucket)
	if err != nil {
		return err
	}

	audioStore, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		return err
	}

	textKey := fmt.Sprintf("text_%s.txt", uuid.NewString()[:textKeyRandomLength])

	err = textStore.Put(ctx, textKey, []byte(inputText))
	if err != nil {
		return err
	}

	clientLog.Info("Uploaded text as %s, requesting synthesis", textKey)

	payload, err := json.Marshal(newSpeechEvent(textKey, flags.voice))
	if err != nil {
		return fmt.Errorf("failed to marshal request event: %w", err)
	}

	reply, err := natsConnection.RequestWithContext(
		ctx, cfg.NATS.TextProcessedSubject, payload,
	)
	if err != nil {
		return fmt.Errorf("synthesis request failed: %w", err)
	}

	var created events.AudioChunkCreatedEvent

	err = json.Unmarshal(reply.Data, &created)
	if err != nil {
		return fmt.Errorf("failed to unmarshal reply event: %w", err)
	}

	audioData, err := audioStore.Get(ctx, created.AudioKey)
	if err != nil {
		return err
	}

	outputPath := resolveOutputPath(cfg.Paths.OutputDir, flags.output, created.AudioKey)

	err = os.WriteFile(outputPath, audioData, fileutil.FilePermissions)
	if err != nil {
		return fmt.Errorf("failed to write audio to %s: %w", outputPath, err)
	}

	clientLog.Info("Wrote %d bytes to %s", len(audioData), outputPath)
	fmt.Printf("Generated: %s\n", outputPath)

	return nil
}

// resolveOutputPath returns where the downloaded audio is written. An
// explicit --output wins. The default name comes from the service-generated
// audio key, which is sanitized before joining it onto the output directory.
func resolveOutputPath(outputDir, flagOutput, audioKey string) string {
	if flagOutput != "" {
		return flagOutput
	}

	return filepath.Join(outputDir, fileutil.SanitizeFilename(audioKey))
}

// newSpeechEvent builds a single-page synthesis request for the uploaded text.
func newSpeechEvent(textKey, voice string) *events.TextProcessedEvent {
	return &events.TextProcessedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
		TextKey:           textKey,
		PNGKey:            "",
		PageNumber:        1,
		TotalPages:        1,
		Voice:             voice,
		Seed:              0,
		NGL:               0,
		TopP:              0,
		RepetitionPenalty: 0,
		Temperature:       0,
	}
}
