package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/roundup-invest/receipt-review/errors"
	"github.com/roundup-invest/receipt-review/internal/auth"
)

// BearerCredentials requires a bearer token and stores it under TokenKey.
// The token is forwarded to the receipt API as is; only an expired JWT is
// rejected here. Browsers cannot set headers on WebSocket upgrades, so the
// token query parameter is accepted as well.
func BearerCredentials() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c.GetHeader("Authorization"))
		if token == "" {
			token = strings.TrimSpace(c.Query("token"))
		}
		if token == "" {
			_ = c.Error(errors.AuthenticationFailed("Missing bearer token"))
			c.Abort()
			return
		}
		if err := auth.CheckExpiry(token); err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}
		c.Set(TokenKey, token)
		c.Next()
	}
}

// GetToken returns the bearer token stored by BearerCredentials.
func GetToken(c *gin.Context) string {
	return c.GetString(TokenKey)
}

func extractBearer(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
