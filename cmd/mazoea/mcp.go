package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jkaninda/mazoea/internal/config"
	mcpserver "github.com/jkaninda/mazoea/internal/gateway/mcp"
	goutils "github.com/jkaninda/go-utils"
)

var mcpConfigPath string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the ritual catalog over MCP (stdio)",
	Long: `Starts a Model Context Protocol server on stdin/stdout so a conversational
agent can query ritual snapshots and open breaks before composing a turn.
All logging goes to stderr; stdout carries the protocol.`,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&mcpConfigPath, "config", config.DefaultConfigPath(), "path to config file")
}

func runMCP(_ *cobra.Command, _ []string) error {
	// stdout is the protocol channel; keep logs on stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	cfg, err := config.Load(goutils.Env("MAZOEA_CONFIG", mcpConfigPath))
	if err != nil {
		return err
	}
	if !cfg.Gateway.MCPEnabled() {
		return errors.New("mcp server is disabled in the configuration")
	}

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	srv := mcpserver.NewServer(sc.Store.Relationships(), sc.Facade, sc.Store.Breaks())
	return srv.Run()
}
