package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"USync/tools/errs"
	"USync/tools/security"
)

const CtxUserID = "userID"

// Auth Bearer token 校验；通过后 userID 进 gin 上下文。
func Auth(opts security.Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			abort(c, errs.ErrNotAuthenticated.WithDetail("missing bearer token"))
			return
		}
		userID, err := security.Verify(opts, strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			abort(c, errs.ErrNotAuthenticated)
			return
		}
		c.Set(CtxUserID, userID)
		c.Next()
	}
}

func UserID(c *gin.Context) int64 {
	v, _ := c.Get(CtxUserID)
	id, _ := v.(int64)
	return id
}

func abort(c *gin.Context, err *errs.CodeError) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code": err.ECode(),
		"msg":  err.EMsg(),
	})
}
