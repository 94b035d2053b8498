// License Hub MCP Server - Exposes brand license support tools to LLMs
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/licensehub/internal/mcpserver"
)

func main() {
	_ = godotenv.Load()

	cfg := mcpserver.Config{
		APIURL: envOrDefault("LICENSEHUB_API_URL", "http://localhost:8080"),
		APIKey: os.Getenv("LICENSEHUB_API_KEY"),
		Brand:  os.Getenv("LICENSEHUB_BRAND"),
	}

	if cfg.APIKey == "" {
		fmt.Fprintln(os.Stderr, "LICENSEHUB_API_KEY is required")
		os.Exit(1)
	}
	if cfg.Brand == "" {
		fmt.Fprintln(os.Stderr, "LICENSEHUB_BRAND is required")
		os.Exit(1)
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
