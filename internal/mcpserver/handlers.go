package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *LicenseHubClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *LicenseHubClient) *Handlers {
	return &Handlers{client: client}
}

// HandleValidateLicense reports what a license key currently grants.
func (h *Handlers) HandleValidateLicense(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key := strings.TrimSpace(req.GetString("license_key", ""))
	if key == "" {
		return mcp.NewToolResultError("license_key is required"), nil
	}

	raw, err := h.client.ValidateLicense(ctx, key, req.GetString("instance_id", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to validate license: %v", err)), nil
	}

	text, err := formatValidation(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse validation result: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListCustomerLicenses lists a customer's licenses across brands.
func (h *Handlers) HandleListCustomerLicenses(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	email := strings.TrimSpace(req.GetString("email", ""))
	if email == "" {
		return mcp.NewToolResultError("email is required"), nil
	}

	raw, err := h.client.ListCustomerLicenses(ctx, email)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list licenses: %v", err)), nil
	}

	text, err := formatCustomerLicenses(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse licenses: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetLicenseKey shows one license key in detail.
func (h *Handlers) HandleGetLicenseKey(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(req.GetString("license_key_id", ""))
	if id == "" {
		return mcp.NewToolResultError("license_key_id is required"), nil
	}

	raw, err := h.client.GetLicenseKey(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get license key: %v", err)), nil
	}

	text, err := formatKeyDetail(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse license key: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListProducts lists the brand's catalog.
func (h *Handlers) HandleListProducts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListProducts(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list products: %v", err)), nil
	}

	text, err := formatProducts(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse products: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleChangeLicenseStatus applies a lifecycle action.
func (h *Handlers) HandleChangeLicenseStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	licenseID := strings.TrimSpace(req.GetString("license_id", ""))
	action := strings.ToLower(strings.TrimSpace(req.GetString("action", "")))
	expiresAt := strings.TrimSpace(req.GetString("expires_at", ""))

	if licenseID == "" || action == "" {
		return mcp.NewToolResultError("license_id and action are required"), nil
	}
	if action == "renew" && expiresAt == "" {
		return mcp.NewToolResultError("expires_at is required for renew"), nil
	}

	raw, err := h.client.ChangeLicenseStatus(ctx, licenseID, action, expiresAt)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to %s license: %v", action, err)), nil
	}

	var resp struct {
		ID        string  `json:"id"`
		Status    string  `json:"status"`
		ExpiresAt *string `json:"expires_at"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultText(formatJSON(raw)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("License %s is now %s (expires: %s).",
		resp.ID, resp.Status, expiryText(resp.ExpiresAt))), nil
}

// HandleProvisionLicense grants products to a customer.
func (h *Handlers) HandleProvisionLicense(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	email := strings.TrimSpace(req.GetString("email", ""))
	keyID := strings.TrimSpace(req.GetString("license_key_id", ""))
	if email == "" && keyID == "" {
		return mcp.NewToolResultError("either email or license_key_id is required"), nil
	}

	codes := splitCodes(req.GetString("products", ""))
	if len(codes) == 0 {
		return mcp.NewToolResultError("products must list at least one product code"), nil
	}

	var expires *string
	if v := strings.TrimSpace(req.GetString("expires_at", "")); v != "" {
		expires = &v
	}
	licenses := make([]LicenseInput, 0, len(codes))
	for _, code := range codes {
		licenses = append(licenses, LicenseInput{ProductCode: code, ExpiresAt: expires})
	}

	raw, err := h.client.ProvisionLicense(ctx, email, keyID, licenses)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to provision license: %v", err)), nil
	}

	text, err := formatProvisioned(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse provisioning result: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// --- Response shapes ---

type keyLicense struct {
	ID        string  `json:"id"`
	Product   string  `json:"product"`
	Status    string  `json:"status"`
	ExpiresAt *string `json:"expires_at"`
}

type keySummary struct {
	ID            string `json:"id"`
	Key           string `json:"key"`
	CustomerEmail string `json:"customer_email"`
}

type seats struct {
	Used int `json:"used"`
}

// --- Formatting ---

func formatValidation(raw json.RawMessage) (string, error) {
	var resp struct {
		Status   string `json:"status"`
		Licenses []struct {
			ProductCode string  `json:"product_code"`
			ExpiresAt   *string `json:"expires_at"`
		} `json:"licenses"`
		Seats seats `json:"seats"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "License status: %s\n", resp.Status)
	if len(resp.Licenses) == 0 {
		sb.WriteString("No usable entitlements.\n")
	} else {
		sb.WriteString("Entitlements:\n")
		for _, l := range resp.Licenses {
			fmt.Fprintf(&sb, "  - %s (expires: %s)\n", l.ProductCode, expiryText(l.ExpiresAt))
		}
	}
	fmt.Fprintf(&sb, "Activated instances: %d\n", resp.Seats.Used)
	return sb.String(), nil
}

func formatCustomerLicenses(raw json.RawMessage) (string, error) {
	var resp struct {
		CustomerEmail string `json:"customer_email"`
		Licenses      []struct {
			Brand struct {
				Code string `json:"code"`
				Name string `json:"name"`
			} `json:"brand"`
			Product struct {
				Code string `json:"code"`
				Name string `json:"name"`
			} `json:"product"`
			LicenseKey string  `json:"license_key"`
			Status     string  `json:"status"`
			ExpiresAt  *string `json:"expires_at"`
		} `json:"licenses"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	if len(resp.Licenses) == 0 {
		return fmt.Sprintf("No licenses found for %s.", resp.CustomerEmail), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d license(s) for %s:\n\n", len(resp.Licenses), resp.CustomerEmail)
	for i, l := range resp.Licenses {
		fmt.Fprintf(&sb, "%d. %s / %s [%s]\n", i+1, l.Brand.Name, l.Product.Name, l.Status)
		fmt.Fprintf(&sb, "   Key: %s  Expires: %s\n", l.LicenseKey, expiryText(l.ExpiresAt))
	}
	return sb.String(), nil
}

func formatKeyDetail(raw json.RawMessage) (string, error) {
	var resp struct {
		LicenseKey  keySummary   `json:"license_key"`
		Licenses    []keyLicense `json:"licenses"`
		Activations []struct {
			InstanceID    string  `json:"instance_id"`
			DeactivatedAt *string `json:"deactivated_at"`
		} `json:"activations"`
		Seats seats `json:"seats"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "License key %s (%s)\n", resp.LicenseKey.ID, resp.LicenseKey.CustomerEmail)
	fmt.Fprintf(&sb, "  Key: %s\n", resp.LicenseKey.Key)
	writeKeyLicenses(&sb, resp.Licenses)
	fmt.Fprintf(&sb, "Activated instances: %d\n", resp.Seats.Used)
	for _, a := range resp.Activations {
		if a.DeactivatedAt != nil {
			continue
		}
		fmt.Fprintf(&sb, "  - %s\n", a.InstanceID)
	}
	return sb.String(), nil
}

func formatProducts(raw json.RawMessage) (string, error) {
	var resp struct {
		Products []struct {
			Code string `json:"code"`
			Name string `json:"name"`
		} `json:"products"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Products) == 0 {
		return "No products configured.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d product(s):\n", len(resp.Products))
	for _, p := range resp.Products {
		fmt.Fprintf(&sb, "  - %s: %s\n", p.Code, p.Name)
	}
	return sb.String(), nil
}

func formatProvisioned(raw json.RawMessage) (string, error) {
	var resp struct {
		LicenseKey keySummary   `json:"license_key"`
		Licenses   []keyLicense `json:"licenses"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "License key %s for %s\n", resp.LicenseKey.ID, resp.LicenseKey.CustomerEmail)
	fmt.Fprintf(&sb, "  Key: %s\n", resp.LicenseKey.Key)
	writeKeyLicenses(&sb, resp.Licenses)
	return sb.String(), nil
}

func writeKeyLicenses(sb *strings.Builder, licenses []keyLicense) {
	sb.WriteString("Licenses:\n")
	for _, l := range licenses {
		fmt.Fprintf(sb, "  - %s %s [%s] expires: %s\n", l.ID, l.Product, l.Status, expiryText(l.ExpiresAt))
	}
}

func expiryText(s *string) string {
	if s == nil || *s == "" {
		return "never"
	}
	return *s
}

// splitCodes parses a comma-separated product list, dropping blanks.
func splitCodes(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if code := strings.TrimSpace(part); code != "" {
			out = append(out, code)
		}
	}
	return out
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}
