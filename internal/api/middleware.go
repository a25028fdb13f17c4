package api

import (
	"crypto/subtle"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

// BasicAuth 为整个站点增加一个简单的 Basic Auth 访问密码。
// 仅当配置了 APP_BASIC_USER / APP_BASIC_PASS 时启用。
// /health 不做认证，便于健康检查。
func BasicAuth(user, pass string) gin.HandlerFunc {
	const realm = "Restricted"
	uBytes := []byte(user)
	pBytes := []byte(pass)

	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}
		u, p, ok := c.Request.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(u), uBytes) != 1 ||
			subtle.ConstantTimeCompare([]byte(p), pBytes) != 1 {
			c.Header("WWW-Authenticate", `Basic realm="`+realm+`"`)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}

// RegisterStatic 托管前端页面与发布出来的 JSON 数据。
// /data 直接读数据目录，前端既可以走 API 也可以像静态站点一样读文件。
func RegisterStatic(r *gin.Engine, webRoot, dataDir string) {
	if dataDir != "" {
		r.Static("/data", dataDir)
	}
	if webRoot == "" {
		return
	}
	indexFile := filepath.Join(webRoot, "index.html")
	r.Static("/assets", filepath.Join(webRoot, "assets"))
	r.NoRoute(func(c *gin.Context) {
		if c.Request.Method != http.MethodGet || strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "not_found",
				"message": "route not found",
			})
			return
		}
		// SPA：未匹配 API 的 GET 均返回 index.html
		c.File(indexFile)
	})
}
