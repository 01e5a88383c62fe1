// Package main is the entry point for arv, the multi-agent code review
// orchestrator. The same binary runs the server (arv serve) and acts as the
// REST client reviewers and operators call against it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arvlabs/arv/consts"
)

// Build information - set via ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func init() {
	consts.Version = Version
	consts.BuildTime = BuildTime
	consts.GitCommit = GitCommit
}

// configPath holds the path to the configuration file
var configPath string

var rootCmd = &cobra.Command{
	Use:   "arv",
	Short: "arv - multi-agent code review orchestrator",
	Long: `arv reviews a revision range with a roster of AI reviewers that report,
deliberate and reach consensus through a shared session API.

Run the daemon with 'arv serve'. Every other verb is a REST client against
a running daemon; reviewers authenticate with the ARV_KEY agent key.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("arv %s\n", Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default: config.yaml)")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if exitErr, ok := err.(*exitError); ok {
			fmt.Fprintln(os.Stderr, exitErr.Error())
			os.Exit(exitErr.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
