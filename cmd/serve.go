package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	mcpserver "github.com/snakeclub/chat-robot/internal/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server for AI agent integration",
	Long:  `Starts a Model Context Protocol (MCP) server on stdio, exposing the QA robot and the question search to AI agents.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		ctx := context.Background()
		a, err := openApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		mcpserver.Version = Version

		fmt.Fprintf(os.Stderr, "chat-robot MCP server started on stdio (questions indexed=%d)\n", a.index.Count())

		srv := mcpserver.NewServer(a.engine, a.sessions, a.vectors, a.embedder)
		return srv.Serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
