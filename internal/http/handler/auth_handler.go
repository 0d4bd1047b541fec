package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agencydesk/identity/internal/domain"
	"github.com/agencydesk/identity/internal/http/middleware"
	"github.com/agencydesk/identity/internal/service"
)

// AuthHandler exposes the auth operations over HTTP.
type AuthHandler struct {
	Auth *service.AuthService
}

// NewAuthHandler creates the handler set.
func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{Auth: auth}
}

// Register handles self-service account creation.
func (h *AuthHandler) Register(c *gin.Context) {
	var req service.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid registration payload.")
		return
	}

	resp, err := h.Auth.Register(c.Request.Context(), req, clientContextFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// Login handles identifier/password login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Identifier string `json:"identifier" binding:"required"`
		Password   string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid login payload.")
		return
	}

	resp, err := h.Auth.Login(c.Request.Context(), req.Identifier, req.Password, clientContextFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// SendOtp starts a passwordless login.
func (h *AuthHandler) SendOtp(c *gin.Context) {
	var req struct {
		Phone string `json:"phone" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Phone is required.")
		return
	}

	resp, err := h.Auth.SendLoginOtp(c.Request.Context(), req.Phone)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// VerifyOtp completes a passwordless login.
func (h *AuthHandler) VerifyOtp(c *gin.Context) {
	var req struct {
		Phone string `json:"phone" binding:"required"`
		Code  string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Phone and code are required.")
		return
	}

	resp, err := h.Auth.VerifyOtpLogin(c.Request.Context(), req.Phone, req.Code, clientContextFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// SendProxyOtp starts the admin-delegated login flow.
func (h *AuthHandler) SendProxyOtp(c *gin.Context) {
	var req struct {
		Phone string `json:"phone" binding:"required"`
		NPN   string `json:"npn" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Phone and npn are required.")
		return
	}

	resp, err := h.Auth.SendLoginOtpToAdminOfOtherUser(c.Request.Context(), req.Phone, req.NPN)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// VerifyProxyOtp completes the admin-delegated login flow.
func (h *AuthHandler) VerifyProxyOtp(c *gin.Context) {
	var req struct {
		Phone string `json:"phone" binding:"required"`
		Code  string `json:"code" binding:"required"`
		NPN   string `json:"npn" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Phone, code, and npn are required.")
		return
	}

	resp, err := h.Auth.VerifyLoginOtpToAdminOfOtherUser(c.Request.Context(), req.Phone, req.Code, req.NPN, clientContextFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Refresh exchanges a refresh token for a new pair.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Refresh token is required.")
		return
	}

	resp, err := h.Auth.Refresh(c.Request.Context(), req.RefreshToken, clientContextFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Me introspects the bearer token from the validated request.
func (h *AuthHandler) Me(c *gin.Context) {
	intro, ok := middleware.GetIntrospection(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token_malformed", "error_description": "No validated token."})
		return
	}
	c.JSON(http.StatusOK, intro)
}

// Logout acknowledges logout; repeated calls return the same response.
func (h *AuthHandler) Logout(c *gin.Context) {
	c.JSON(http.StatusOK, h.Auth.Logout(c.Request.Context()))
}

// ChangePassword rotates the caller's password and invalidates outstanding
// tokens and sessions.
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	intro, ok := middleware.GetIntrospection(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token_malformed", "error_description": "No validated token."})
		return
	}

	var req struct {
		OldPassword string `json:"old_password" binding:"required"`
		NewPassword string `json:"new_password" binding:"required,min=8"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Old and new passwords are required.")
		return
	}

	resp, err := h.Auth.ChangePassword(c.Request.Context(), intro.UserID, req.OldPassword, req.NewPassword)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Healthz is the liveness probe.
func (h *AuthHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func clientContextFrom(c *gin.Context) domain.ClientContext {
	country := c.GetHeader("CF-IPCountry")
	if country == "" {
		country = c.GetHeader("X-Country")
	}
	return domain.ClientContext{
		IP:         c.ClientIP(),
		BrowserSig: c.Request.UserAgent(),
		Country:    country,
	}
}

func respondBadRequest(c *gin.Context, description string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": description})
}

// respondError maps domain failures to stable codes. Unrecognized causes are
// logged with the request id and surfaced as internal_failure.
func respondError(c *gin.Context, err error) {
	ae := domain.AsAuthError(err)
	if ae == domain.ErrInternal {
		zap.L().Error("unhandled auth error",
			zap.String("request_id", c.GetString("request_id")),
			zap.Error(err),
		)
	}
	c.JSON(ae.Status, gin.H{"error": ae.Code, "error_description": ae.Description})
}
