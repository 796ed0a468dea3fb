package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"USync/logger"
)

// AccessLog 请求级访问日志。/ws 升级后的流量不经这里。
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Infof("[http] %s %s status=%d cost=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
