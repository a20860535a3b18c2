package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the studygroup application
var rootCmd = &cobra.Command{
	Use:   "studygroup",
	Short: "Study group coordination service with Google Meet meetings",
	Long: `studygroup lets users register, log in and schedule study group
meetings. Each meeting is created as a Google Calendar event with a Google
Meet link on one operator account, and users join through the stored link.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "studygroup version %s\n" .Version}}`)

	// If no subcommand is provided, run the serve command by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}
