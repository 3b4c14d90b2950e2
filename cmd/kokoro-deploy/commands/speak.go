package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/book-expert/kokoro-deploy/internal/core"
	"github.com/book-expert/kokoro-deploy/internal/engine"
	"github.com/book-expert/kokoro-deploy/internal/fileutil"
)

// Speak returns the command that synthesizes one utterance from the CLI.
//
// Optional flags:
//
//	--config, -c: Path to a TOML configuration file (default: central configurator)
//	--text, -t: Text to synthesize
//	--input, -i: Path to a text file to synthesize instead of --text
//	--voice: Voice code (default from configuration)
//	--speed: Playback speed multiplier
//	--format: Output audio format, wav or mp3
//	--output, -o: Output file path (default autogenerated in the output directory)
func Speak() *cobra.Command {
	var (
		configPath string
		text       string
		inputPath  string
		voice      string
		speed      float64
		format     string
		outputPath string
	)

	cmd := &cobra.Command{
		Use:   "speak",
		Short: "Synthesize speech from text or a text file",
		Long: `Synthesize one utterance through the provisioned engine.

The input comes from --text or from the file named by --input; --input wins
when both are given. Voice, speed and format fall back to the configured
defaults when omitted. The resulting audio path is printed on success.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			request := core.SpeechRequest{
				Text:       text,
				InputPath:  inputPath,
				Voice:      voice,
				Speed:      speed,
				Format:     format,
				OutputPath: outputPath,
			}

			return runSpeak(cmd.Context(), configPath, request)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a TOML configuration file")
	cmd.Flags().StringVarP(&text, "text", "t", "", "Text to synthesize")
	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "Path to a text file to synthesize")
	cmd.Flags().StringVar(&voice, "voice", "", "Voice code (default from configuration)")
	cmd.Flags().Float64Var(&speed, "speed", 0, "Playback speed multiplier")
	cmd.Flags().StringVar(&format, "format", "", "Output audio format: wav or mp3")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path")

	return cmd
}

func runSpeak(ctx context.Context, configPath string, request core.SpeechRequest) error {
	application, cleanup, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := engine.New(application.cfg, application.log).Synthesize(ctx, request)
	if err != nil {
		return err
	}

	fmt.Printf("%s (%s)\n", result.OutputPath, fileutil.FormatFileSize(result.Size))

	return nil
}
