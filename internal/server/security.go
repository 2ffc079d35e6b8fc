package server

import (
	"net/http"
	"strings"
)

// SecurityConfig controls the hardening headers attached to every response.
type SecurityConfig struct {
	ContentSecurityPolicy string
	FrameOptions          string
	ReferrerPolicy        string
}

func (cfg SecurityConfig) withDefaults() SecurityConfig {
	if strings.TrimSpace(cfg.ContentSecurityPolicy) == "" {
		cfg.ContentSecurityPolicy = "default-src 'self'; connect-src *"
	}
	if strings.TrimSpace(cfg.FrameOptions) == "" {
		cfg.FrameOptions = "DENY"
	}
	if strings.TrimSpace(cfg.ReferrerPolicy) == "" {
		cfg.ReferrerPolicy = "strict-origin-when-cross-origin"
	}
	return cfg
}

func securityHeadersMiddleware(cfg SecurityConfig, next http.Handler) http.Handler {
	cfg = cfg.withDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("X-Content-Type-Options", "nosniff")
		header.Set("X-Frame-Options", cfg.FrameOptions)
		header.Set("Referrer-Policy", cfg.ReferrerPolicy)
		header.Set("Content-Security-Policy", cfg.ContentSecurityPolicy)
		next.ServeHTTP(w, r)
	})
}
