package licensing

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/licensehub/internal/auth"
	"github.com/mbd888/licensehub/internal/logging"
	"github.com/mbd888/licensehub/internal/validation"
)

const dateLayout = "2006-01-02"

// KeyIssuer issues brand API keys.
type KeyIssuer interface {
	GenerateKey(ctx context.Context, brandID, brandCode, name string) (string, *auth.APIKey, error)
}

// Handler provides HTTP endpoints for license provisioning, lifecycle,
// activation, validation and the customer query.
type Handler struct {
	service *Service
	keys    KeyIssuer
}

// NewHandler creates a new licensing handler.
func NewHandler(service *Service, keys KeyIssuer) *Handler {
	return &Handler{service: service, keys: keys}
}

// RegisterAdminRoutes sets up the brand catalog routes (admin secret required).
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/brands", h.CreateBrand)
	r.POST("/brands/:brand/products", h.CreateProduct)
	r.POST("/brands/:brand/keys", h.IssueBrandKey)
}

// RegisterBrandRoutes sets up routes for trusted brand systems. r must be
// scoped to /brands/:brand and protected by auth.RequireBrand.
func (h *Handler) RegisterBrandRoutes(r *gin.RouterGroup) {
	r.POST("/license-keys", h.Provision)
	r.GET("/license-keys/:id", h.GetLicenseKey)
	r.PATCH("/licenses/:license", h.ChangeStatus)
	r.GET("/licenses", h.ListByEmail)
	r.GET("/products", h.ListProducts)
}

// RegisterPublicRoutes sets up the unauthenticated end-user routes.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.POST("/activate", h.Activate)
	r.POST("/validate", h.Validate)
}

// ---------- Wire shapes ----------

type licenseInput struct {
	ProductCode string  `json:"product_code" binding:"required,max=64"`
	ExpiresAt   *string `json:"expires_at"`
}

type provisionRequest struct {
	CustomerEmail        string         `json:"customer_email" binding:"omitempty,email,max=255"`
	Licenses             []licenseInput `json:"licenses" binding:"required,min=1,max=100,dive"`
	ExistingLicenseKeyID string         `json:"existing_license_key_id" binding:"max=64"`
}

type changeStatusRequest struct {
	Action    string  `json:"action" binding:"required"`
	ExpiresAt *string `json:"expires_at"`
}

type activateRequest struct {
	LicenseKey string `json:"license_key" binding:"required,max=64"`
	InstanceID string `json:"instance_id" binding:"required,max=255"`
}

type validateRequest struct {
	LicenseKey string `json:"license_key" binding:"required,max=64"`
	InstanceID string `json:"instance_id" binding:"max=255"`
}

type entitlementJSON struct {
	ProductCode string  `json:"product_code"`
	Status      Status  `json:"status"`
	ExpiresAt   *string `json:"expires_at"`
}

type keyLicenseJSON struct {
	ID        string  `json:"id"`
	Product   string  `json:"product"`
	Status    Status  `json:"status"`
	ExpiresAt *string `json:"expires_at"`
}

// parseDate accepts YYYY-MM-DD (midnight UTC) or RFC 3339.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func parseOptionalDate(s *string) (*time.Time, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil, nil
	}
	t, err := parseDate(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(dateLayout)
	return &s
}

func entitlementsJSON(in []Entitlement) []entitlementJSON {
	out := make([]entitlementJSON, 0, len(in))
	for _, e := range in {
		out = append(out, entitlementJSON{ProductCode: e.ProductCode, Status: e.Status, ExpiresAt: formatDate(e.ExpiresAt)})
	}
	return out
}

func keyLicensesJSON(in []License) []keyLicenseJSON {
	out := make([]keyLicenseJSON, 0, len(in))
	for _, l := range in {
		out = append(out, keyLicenseJSON{ID: l.ID, Product: l.Product.Code, Status: l.Status, ExpiresAt: formatDate(l.ExpiresAt)})
	}
	return out
}

// ---------- Error mapping ----------

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{ErrInvalidKey, http.StatusNotFound, "invalid_key"},
	{ErrNoValidLicenses, http.StatusUnprocessableEntity, "no_valid_licenses"},
	{ErrCrossTenantKey, http.StatusForbidden, "cross_tenant_key"},
	{ErrCrossTenantAccess, http.StatusForbidden, "cross_tenant_access"},
	{ErrProductNotFound, http.StatusUnprocessableEntity, "product_not_found"},
	{ErrMissingExpiry, http.StatusUnprocessableEntity, "missing_expiry"},
	{ErrInvalidTransition, http.StatusUnprocessableEntity, "invalid_transition"},
	{ErrImmutable, http.StatusUnprocessableEntity, "immutable"},
	{ErrUnsupportedAction, http.StatusUnprocessableEntity, "unsupported_action"},
	{ErrLicenseKeyNotFound, http.StatusNotFound, "not_found"},
	{ErrLicenseNotFound, http.StatusNotFound, "not_found"},
	{ErrBrandNotFound, http.StatusNotFound, "not_found"},
	{ErrBrandCodeTaken, http.StatusConflict, "conflict"},
	{ErrProductCodeTaken, http.StatusConflict, "conflict"},
}

// respondError writes the JSON error for err. Unmapped errors are logged and
// reported as 500 without detail.
func respondError(c *gin.Context, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			c.JSON(m.status, gin.H{"error": m.code, "message": publicMessage(err)})
			return
		}
	}
	logging.L(c.Request.Context()).Error("licensing request failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "internal server error"})
}

func publicMessage(err error) string {
	return strings.TrimPrefix(err.Error(), "licensing: ")
}

func badRequest(c *gin.Context, message string, details validation.ValidationErrors) {
	body := gin.H{"error": "invalid_request", "message": message}
	if len(details) > 0 {
		body["details"] = details
	}
	c.JSON(http.StatusBadRequest, body)
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		errs := validation.FromBinding(err)
		badRequest(c, errs.Error(), errs)
		return false
	}
	return true
}

// brandFromPath loads the brand named by the :brand path parameter.
func (h *Handler) brandFromPath(c *gin.Context) (*Brand, bool) {
	b, err := h.service.Store().GetBrandByCode(c.Request.Context(), c.Param("brand"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return b, true
}

// ---------- Brand endpoints ----------

// Provision handles POST /v1/brands/:brand/license-keys
func (h *Handler) Provision(c *gin.Context) {
	var req provisionRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.ExistingLicenseKeyID == "" && req.CustomerEmail == "" {
		badRequest(c, "customer_email: is required", validation.ValidationErrors{
			{Field: "customer_email", Message: "is required"},
		})
		return
	}

	in := ProvisionRequest{
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		ExistingKeyID: strings.TrimSpace(req.ExistingLicenseKeyID),
		Licenses:      make([]LicenseRequest, 0, len(req.Licenses)),
	}
	for _, l := range req.Licenses {
		expires, err := parseOptionalDate(l.ExpiresAt)
		if err != nil {
			badRequest(c, "expires_at must be YYYY-MM-DD or RFC 3339", nil)
			return
		}
		in.Licenses = append(in.Licenses, LicenseRequest{
			ProductCode: validation.SanitizeCode(l.ProductCode),
			ExpiresAt:   expires,
		})
	}

	brand, ok := h.brandFromPath(c)
	if !ok {
		return
	}
	key, err := h.service.Provision(c.Request.Context(), *brand, in)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"license_key": gin.H{
			"id":             key.ID,
			"key":            key.Key,
			"customer_email": key.CustomerEmail,
		},
		"licenses": keyLicensesJSON(key.Licenses),
	})
}

// GetLicenseKey handles GET /v1/brands/:brand/license-keys/:id
func (h *Handler) GetLicenseKey(c *gin.Context) {
	brand, ok := h.brandFromPath(c)
	if !ok {
		return
	}
	detail, err := h.service.GetKeyForBrand(c.Request.Context(), *brand, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	activations := make([]gin.H, 0, len(detail.Activations))
	for _, a := range detail.Activations {
		activations = append(activations, gin.H{
			"instance_id":    a.InstanceID,
			"activated_at":   a.ActivatedAt,
			"deactivated_at": a.DeactivatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"license_key": gin.H{
			"id":             detail.Key.ID,
			"key":            detail.Key.Key,
			"customer_email": detail.Key.CustomerEmail,
			"created_at":     detail.Key.CreatedAt,
		},
		"licenses":    keyLicensesJSON(detail.Key.Licenses),
		"activations": activations,
		"seats":       detail.Seats,
	})
}

// ChangeStatus handles PATCH /v1/brands/:brand/licenses/:license
func (h *Handler) ChangeStatus(c *gin.Context) {
	var req changeStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	expires, err := parseOptionalDate(req.ExpiresAt)
	if err != nil {
		badRequest(c, "expires_at must be YYYY-MM-DD or RFC 3339", nil)
		return
	}

	brand, ok := h.brandFromPath(c)
	if !ok {
		return
	}
	lic, err := h.service.ChangeStatus(c.Request.Context(), *brand, c.Param("license"),
		Action(req.Action), expires)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":         lic.ID,
		"status":     lic.Status,
		"expires_at": formatDate(lic.ExpiresAt),
	})
}

// ListByEmail handles GET /v1/brands/:brand/licenses?email=
//
// The result spans every brand: it is the ecosystem-wide customer view.
func (h *Handler) ListByEmail(c *gin.Context) {
	email := strings.TrimSpace(c.Query("email"))
	if !validation.IsValidEmail(email) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "invalid_email",
			"message": "email query parameter must be a valid email address",
		})
		return
	}

	records, err := h.service.ListByCustomerEmail(c.Request.Context(), email)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]gin.H, 0, len(records))
	for _, r := range records {
		out = append(out, gin.H{
			"brand": gin.H{
				"id":   r.Brand.ID,
				"code": r.Brand.Code,
				"name": r.Brand.Name,
			},
			"product": gin.H{
				"code": r.Product.Code,
				"name": r.Product.Name,
			},
			"license_key": r.LicenseKey,
			"status":      r.Status,
			"expires_at":  formatDate(r.ExpiresAt),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"customer_email": email,
		"licenses":       out,
	})
}

// ListProducts handles GET /v1/brands/:brand/products
func (h *Handler) ListProducts(c *gin.Context) {
	brand, ok := h.brandFromPath(c)
	if !ok {
		return
	}
	products, err := h.service.Store().ListProducts(c.Request.Context(), brand.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products, "count": len(products)})
}

// ---------- Public endpoints ----------

// Activate handles POST /v1/activate
func (h *Handler) Activate(c *gin.Context) {
	var req activateRequest
	if !bindJSON(c, &req) {
		return
	}

	ents, err := h.service.Activate(c.Request.Context(), req.LicenseKey, req.InstanceID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "active",
		"licenses": entitlementsJSON(ents),
	})
}

// Validate handles POST /v1/validate
func (h *Handler) Validate(c *gin.Context) {
	var req validateRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.service.Validate(c.Request.Context(), req.LicenseKey, req.InstanceID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   res.Status,
		"licenses": entitlementsJSON(res.Licenses),
		"seats":    res.Seats,
	})
}

// ---------- Admin endpoints ----------

// CreateBrand handles POST /v1/admin/brands. The response carries a first
// API key for the brand.
func (h *Handler) CreateBrand(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
		Name string `json:"name" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	req.Code = validation.SanitizeCode(req.Code)
	req.Name = validation.SanitizeString(req.Name, 200)
	if errs := validation.Validate(
		validation.Required("code", req.Code),
		validation.ValidCode("code", req.Code),
		validation.Required("name", req.Name),
	); len(errs) > 0 {
		badRequest(c, errs.Error(), errs)
		return
	}

	brand, err := h.service.CreateBrand(c.Request.Context(), req.Code, req.Name)
	if err != nil {
		respondError(c, err)
		return
	}

	rawKey, keyInfo, err := h.keys.GenerateKey(c.Request.Context(), brand.ID, brand.Code, "Brand admin key")
	if err != nil {
		logging.L(c.Request.Context()).Error("brand key generation failed", "brand_id", brand.ID, "error", err)
		c.JSON(http.StatusCreated, gin.H{
			"brand":   brand,
			"warning": "Brand created but key generation failed. Use the admin API to issue a key.",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"brand":   brand,
		"apiKey":  rawKey,
		"keyId":   keyInfo.ID,
		"warning": "Store this API key securely. It will not be shown again.",
	})
}

// CreateProduct handles POST /v1/admin/brands/:brand/products
func (h *Handler) CreateProduct(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
		Name string `json:"name" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	req.Code = validation.SanitizeCode(req.Code)
	req.Name = validation.SanitizeString(req.Name, 200)
	if errs := validation.Validate(
		validation.Required("code", req.Code),
		validation.ValidCode("code", req.Code),
		validation.Required("name", req.Name),
	); len(errs) > 0 {
		badRequest(c, errs.Error(), errs)
		return
	}

	brand, ok := h.brandFromPath(c)
	if !ok {
		return
	}
	product, err := h.service.CreateProduct(c.Request.Context(), *brand, req.Code, req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"product": product})
}

// IssueBrandKey handles POST /v1/admin/brands/:brand/keys
func (h *Handler) IssueBrandKey(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"max=255"`
	}
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	if req.Name == "" {
		req.Name = "Brand key"
	}

	brand, ok := h.brandFromPath(c)
	if !ok {
		return
	}
	rawKey, keyInfo, err := h.keys.GenerateKey(c.Request.Context(), brand.ID, brand.Code, req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"apiKey":  rawKey,
		"keyId":   keyInfo.ID,
		"name":    keyInfo.Name,
		"warning": "Store this API key securely. It will not be shown again.",
	})
}
