package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	apperrors "github.com/yashrajoria/pix-payment-service/common/errors"
)

const UserKey = "userID"

// UserIDParser turns a bearer token into a user ID.
type UserIDParser interface {
	Enabled() bool
	ParseUserID(token string) (string, error)
}

// OptionalAuth identifies the caller when it can and never requires it.
// A bearer token, when present, must be valid. Without one, the X-User-ID
// header set by the API gateway is trusted only if trustGateway is true.
func OptionalAuth(parser UserIDParser, trustGateway bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if token, ok := strings.CutPrefix(header, "Bearer "); ok && parser != nil && parser.Enabled() {
			userID, err := parser.ParseUserID(strings.TrimSpace(token))
			if err != nil {
				apperrors.Respond(c, apperrors.New(http.StatusUnauthorized, apperrors.CodeUnauthorized, "Invalid or expired token", err))
				return
			}
			c.Set(UserKey, userID)
			c.Next()
			return
		}

		if trustGateway {
			if userID := c.GetHeader("X-User-ID"); userID != "" {
				c.Set(UserKey, userID)
			}
		}
		c.Next()
	}
}

func GetUserID(c *gin.Context) string {
	return c.GetString(UserKey)
}
