package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/book-expert/kokoro-deploy/internal/config"
	"github.com/book-expert/kokoro-deploy/internal/voices"
)

// Voices returns the command that lists the synthesizable voices. The
// catalog is compiled in, so the command works before any provisioning.
//
// Optional flags:
//
//	--json: Output in JSON format
func Voices() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "voices",
		Short: "List the available voices",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runVoices(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	return cmd
}

func runVoices(jsonOutput bool) error {
	catalog := voices.All()

	if jsonOutput {
		data, err := json.MarshalIndent(catalog, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal voices: %w", err)
		}

		fmt.Println(string(data))

		return nil
	}

	for _, line := range catalogLines(catalog) {
		fmt.Println(line)
	}

	return nil
}

// catalogLines renders the catalog grouped by language, with the compiled-in
// default voice marked.
func catalogLines(catalog []voices.Voice) []string {
	var lines []string

	for _, language := range voices.Languages() {
		lines = append(lines, language+":")

		for _, voice := range catalog {
			if voice.Language != language {
				continue
			}

			marker := " "
			if voice.Code == config.DefaultVoice {
				marker = "*"
			}

			lines = append(lines, fmt.Sprintf("  %s %-14s %s", marker, voice.Code, voice.Gender))
		}
	}

	return lines
}
