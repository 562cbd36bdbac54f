package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/aretw0/concord/internal/adapters/mcp"
	"github.com/aretw0/concord/internal/cli"
	"github.com/spf13/cobra"
)

// mcpCmd represents the mcp command
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Starts the engine as an MCP Server.
This allows AI agents to inspect and edit shared analysis sessions as tools.

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP. Ideal for remote agents or debuggers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		transport, _ := cmd.Flags().GetString("transport")
		addr, _ := cmd.Flags().GetString("addr")

		engine, backend, err := cli.NewEngine(cfg, logger)
		if err != nil {
			return err
		}
		defer backend.Close()

		srv := mcp.NewServer(engine, logger)

		switch transport {
		case "stdio":
			// Logs go to Stderr so they don't corrupt JSON-RPC on Stdout.
			logger.Info("Starting Concord MCP Server (Stdio)...")
			return srv.ServeStdio()
		case "sse":
			sc := cli.NewSignalContext(cmd.Context(), logger)
			defer sc.Stop()

			if err := srv.ServeSSE(sc, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			logger.Info("MCP Server stopped gracefully")
			return nil
		default:
			return fmt.Errorf("unknown transport: %s. Supported: stdio, sse", transport)
		}
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().String("transport", "stdio", "Transport protocol to use: 'stdio' or 'sse'")
	mcpCmd.Flags().String("addr", "localhost:8081", "Address to listen on (only for SSE)")
}
