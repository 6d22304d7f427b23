package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ZakirC4/papermc-setup/internal/auth"
)

const accessTokenCookieName = "papermc_access"

// Auth middleware validates JWT tokens from the Authorization header,
// the access cookie or a ?token= query parameter (websocket clients)
func Auth(jwtManager *auth.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		token := ""
		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
				return
			}
			token = parts[1]
		}

		if token == "" {
			if cookie, err := c.Cookie(accessTokenCookieName); err == nil && cookie != "" {
				token = cookie
			}
		}

		if token == "" {
			token = c.Query("token")
		}

		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		claims, err := jwtManager.ValidateAccessToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set("user", claims)
		c.Set("username", claims.Username)

		c.Next()
	}
}
