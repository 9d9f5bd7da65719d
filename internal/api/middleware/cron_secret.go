package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"control-despacho/backend/pkg/response"
)

// CronSecret 定时任务鉴权：要求 Authorization: Bearer <secret>
func CronSecret(secret string) gin.HandlerFunc {
	expected := []byte("Bearer " + secret)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader("Authorization"))
		if secret == "" || subtle.ConstantTimeCompare(got, expected) != 1 {
			response.Abort(c, http.StatusUnauthorized, 10002, "Unauthorized")
			return
		}
		c.Next()
	}
}
