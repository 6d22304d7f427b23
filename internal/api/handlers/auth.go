package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZakirC4/papermc-setup/internal/auth"
	"github.com/ZakirC4/papermc-setup/internal/logging"
)

const accessTokenCookieName = "papermc_access"

func isSecureRequest(c *gin.Context) bool {
	if c.Request.TLS != nil {
		return true
	}
	proto := c.GetHeader("X-Forwarded-Proto")
	return strings.EqualFold(proto, "https")
}

func setAuthCookie(c *gin.Context, token string, expiresAt time.Time) {
	maxAge := int(time.Until(expiresAt).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(accessTokenCookieName, token, maxAge, "/", "", isSecureRequest(c), true)
}

func clearAuthCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(accessTokenCookieName, "", -1, "/", "", isSecureRequest(c), true)
}

// AuthHandler handles operator login
type AuthHandler struct {
	authenticator *auth.Authenticator
	jwtManager    *auth.JWTManager
	activity      *logging.ActivityLogger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authenticator *auth.Authenticator, jwtManager *auth.JWTManager, activity *logging.ActivityLogger) *AuthHandler {
	return &AuthHandler{
		authenticator: authenticator,
		jwtManager:    jwtManager,
		activity:      activity,
	}
}

// Login exchanges operator credentials for an access token
// POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.authenticator.Authenticate(req.Username, req.Password)
	h.activity.Record(logging.ActivityLogin, req.Username, "Operator login", err, map[string]any{
		"ip": c.ClientIP(),
	})
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			log.Printf("[Auth] Login failed: %v", err)
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
		return
	}

	token, expiresAt, err := h.jwtManager.GenerateAccessToken(req.Username)
	if err != nil {
		log.Printf("[Auth] Failed to issue token: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
		return
	}

	setAuthCookie(c, token, expiresAt)
	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_at":   expiresAt,
		"username":     req.Username,
	})
}

// Logout clears the access token cookie
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	clearAuthCookie(c)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// GetCurrentUser returns the authenticated operator
// GET /api/v1/auth/me
func (h *AuthHandler) GetCurrentUser(c *gin.Context) {
	claims := c.MustGet("user").(*auth.Claims)
	c.JSON(http.StatusOK, gin.H{
		"username":   claims.Username,
		"expires_at": claims.ExpiresAt.Time,
	})
}
