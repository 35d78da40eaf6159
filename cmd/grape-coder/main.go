// Package main implements the grape-coder CLI, which plans, generates and
// reviews static websites with a team of LLM agents.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// workDir is the directory the site is generated in
	workDir string
	// projectConfig overrides the project config file location
	projectConfig string
	// logLevel overrides the configured log level
	logLevel string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "grape-coder",
	Short: "Generate and review static websites with a team of agents",
	Long: `grape-coder splits a website brief into content categories, fans the
tasks out to one agent per category, assembles the result and then reviews,
scores and revises it until the quality gate approves it.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workDir, "dir", "C", ".", "work directory of the site")
	rootCmd.PersistentFlags().StringVar(&projectConfig, "config", "", "project config file (default <dir>/.grape-coder/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(snapshotsCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(configCmd)
}
