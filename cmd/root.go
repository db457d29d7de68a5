package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	verbose bool
	envFile string
	version = "dev"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "xpider",
	Short: "Ask questions about public procurement contracts",
	Long: `xpider answers questions about awarded public contracts, awardee companies and
their technical specifications, backed by a knowledge graph and three semantic indices.

It can also draft a technical specification (pliego de prescripciones técnicas)
modelled on the most similar existing one.

Quick Start:
  xpider ask "¿Cuántos contratos ha ganado Techfriendly?"
  xpider chat                       # interactive conversation
  xpider serve --addr :8080         # HTTP API`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("Error:"), err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before reading the environment")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}
