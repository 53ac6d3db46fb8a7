// Mazoea — micro-ritual detection for two-party conversations.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mazoea",
	Short: "Mazoea — detects and tracks micro-rituals in two-party conversations.",
	Long: `Mazoea watches a conversation stream for small recurring patterns — greetings,
farewells, pet phrases, emoji habits — and tracks each one through an explicit
lifecycle from emerging to established to fading. It notices when an established
ritual breaks and exposes the catalog over HTTP and MCP so a conversational
agent can weave rituals into its turns.`,
	RunE:          runServer, // Default to server mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serverCmd, mcpCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
