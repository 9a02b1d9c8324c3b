package middlewares

import (
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
)

// SecureHeaders sets the response hardening headers. HSTS is only emitted
// for requests that arrived over TLS or a TLS terminating proxy.
func SecureHeaders() gin.HandlerFunc {
	return secure.New(secure.Config{
		IsDevelopment:        false,
		STSSeconds:           315360000,
		STSIncludeSubdomains: true,
		FrameDeny:            true,
		ContentTypeNosniff:   true,
		BrowserXssFilter:     true,
		IENoOpen:             true,
		ReferrerPolicy:       "no-referrer",
		SSLProxyHeaders:      map[string]string{"X-Forwarded-Proto": "https"},
	})
}
