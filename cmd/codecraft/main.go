// Codecraft runs the architect, coder, tester, reviewer and manager agent
// workflow, either behind an HTTP API or once from the command line.
//
// Usage:
//
//	# Start the HTTP server
//	OPENROUTER_API_KEY=... codecraft serve
//
//	# Run one task and print the JSON result
//	codecraft run --task "a CLI that counts words"
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "codecraft",
	Short: "Multi-agent code generation workflow",
	Long: `codecraft sends a task through five LLM agents: an architect designs,
a coder implements, a tester writes tests, a reviewer critiques and a manager
decides whether the coder should try again.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "codecraft\n")
		fmt.Fprintf(out, "Version:    %s\n", version)
		fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
		fmt.Fprintf(out, "Build Date: %s\n", buildDate)
	},
}
