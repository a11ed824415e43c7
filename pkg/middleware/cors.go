package middleware

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
)

// CORSMiddleware answers cross-origin requests from the listed origins.
// "*" allows any origin; an empty list sends no CORS headers, so browsers
// only allow same-origin calls.
func CORSMiddleware(allowed []string) gin.HandlerFunc {
	anyOrigin := false
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			anyOrigin = true
		}
		set[o] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		h := c.Writer.Header()
		switch {
		case anyOrigin:
			h.Set("Access-Control-Allow-Origin", "*")
		case origin != "" && set[origin]:
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		}
		if h.Get("Access-Control-Allow-Origin") != "" {
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, "+DeviceHeader)
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// OriginHosts turns allowed origins into the host patterns websocket
// origin checks match against. "*" is kept as is.
func OriginHosts(allowed []string) []string {
	out := make([]string, 0, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			out = append(out, o)
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}
