package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// Version is reported to MCP clients during initialization.
const Version = "1.0.0"

// NewMCPServer creates a configured MCP server with all License Hub tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("licensehub", Version)
	client := NewLicenseHubClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolValidateLicense, h.HandleValidateLicense)
	s.AddTool(ToolListCustomerLicenses, h.HandleListCustomerLicenses)
	s.AddTool(ToolGetLicenseKey, h.HandleGetLicenseKey)
	s.AddTool(ToolListProducts, h.HandleListProducts)
	s.AddTool(ToolChangeLicenseStatus, h.HandleChangeLicenseStatus)
	s.AddTool(ToolProvisionLicense, h.HandleProvisionLicense)

	return s
}
