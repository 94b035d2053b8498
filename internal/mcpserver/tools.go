package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the License Hub MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolValidateLicense = mcp.NewTool("validate_license",
	mcp.WithDescription(
		"Check whether a license key currently grants access. "+
			"Returns the overall status, the usable product entitlements with expiry dates, "+
			"and how many instances are activated. Does not change anything."),
	mcp.WithString("license_key",
		mcp.Required(),
		mcp.Description("The customer's license key, e.g. 'AB3F-91KX-77QZ'")),
	mcp.WithString("instance_id",
		mcp.Description("Optional instance identifier (URL, hostname or machine ID) to echo context for")),
)

var ToolListCustomerLicenses = mcp.NewTool("list_customer_licenses",
	mcp.WithDescription(
		"List every license a customer holds across all brands in the ecosystem, "+
			"looked up by email address. Use this for support questions like "+
			"'which products does this customer own?'"),
	mcp.WithString("email",
		mcp.Required(),
		mcp.Description("Customer email address")),
)

var ToolGetLicenseKey = mcp.NewTool("get_license_key",
	mcp.WithDescription(
		"Show one of your brand's license keys with its licenses and activated instances."),
	mcp.WithString("license_key_id",
		mcp.Required(),
		mcp.Description("License key ID returned by provisioning, e.g. 'lk_...'")),
)

var ToolListProducts = mcp.NewTool("list_products",
	mcp.WithDescription(
		"List the product codes your brand can license. Use this before provision_license "+
			"to find valid product codes."),
)

var ToolChangeLicenseStatus = mcp.NewTool("change_license_status",
	mcp.WithDescription(
		"Apply a lifecycle action to one license owned by your brand. "+
			"'suspend' pauses a valid license, 'resume' restores a suspended one, "+
			"'cancel' ends it permanently, 'renew' sets a new expiry date. "+
			"Cancelled licenses cannot be changed again."),
	mcp.WithString("license_id",
		mcp.Required(),
		mcp.Description("License ID, e.g. 'lic_...'")),
	mcp.WithString("action",
		mcp.Required(),
		mcp.Description("Lifecycle action to apply"),
		mcp.Enum("suspend", "resume", "cancel", "renew")),
	mcp.WithString("expires_at",
		mcp.Description("New expiry date (YYYY-MM-DD). Required for 'renew'.")),
)

var ToolProvisionLicense = mcp.NewTool("provision_license",
	mcp.WithDescription(
		"Grant a customer licenses for one or more of your brand's products. "+
			"Creates a new license key for the email, or adds products to an existing key "+
			"when license_key_id is given. Products already on the key are left unchanged."),
	mcp.WithString("email",
		mcp.Description("Customer email. Required unless license_key_id is set.")),
	mcp.WithString("license_key_id",
		mcp.Description("Existing license key ID to attach the products to")),
	mcp.WithString("products",
		mcp.Required(),
		mcp.Description("Comma-separated product codes, e.g. 'core,addon'")),
	mcp.WithString("expires_at",
		mcp.Description("Expiry date (YYYY-MM-DD) applied to every product. Omit for perpetual licenses.")),
)
