package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "phantom-recorder",
	Short: "Record browser interactions as automation scripts",
	Long: `Drives Chrome over the DevTools protocol, captures user clicks and input
commits on the controlled page, and turns them into script steps with stable
CSS selectors.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(serveCmd, recordCmd)
	// serve is the default when no subcommand is given.
	rootCmd.RunE = serveCmd.RunE

	if err := rootCmd.Execute(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}
