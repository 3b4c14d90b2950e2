// Package commands defines the kokoro-deploy CLI command structure and flag
// bindings. Execution is delegated to the internal packages; the commands
// here only parse flags and wire collaborators together.
package commands

import "github.com/spf13/cobra"

// Root returns the root command for the kokoro-deploy CLI.
func Root() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "kokoro-deploy",
		Short:         "Provision and drive the kokoro-tts engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(Bootstrap())
	cmd.AddCommand(Serve())
	cmd.AddCommand(Speak())
	cmd.AddCommand(Voices())
	cmd.AddCommand(Status())

	return cmd
}
