package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// CORSConfig lists the origins allowed to reach the API. An empty list
// allows every origin, matching the original service's open posture.
type CORSConfig struct {
	AllowedOrigins []string
}

type corsPolicy struct {
	allowAll bool
	origins  map[string]struct{}
}

func newCORSPolicy(cfg CORSConfig) (corsPolicy, error) {
	policy := corsPolicy{origins: make(map[string]struct{})}
	if len(cfg.AllowedOrigins) == 0 {
		policy.allowAll = true
		return policy, nil
	}
	for _, origin := range cfg.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			policy.allowAll = true
			continue
		}
		normalized, err := normalizeOrigin(trimmed)
		if err != nil {
			return corsPolicy{}, err
		}
		policy.origins[normalized] = struct{}{}
	}
	return policy, nil
}

func normalizeOrigin(origin string) (string, error) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("invalid CORS origin %q", origin)
	}
	return strings.ToLower(parsed.Scheme + "://" + parsed.Host), nil
}

func (p corsPolicy) allows(origin string) bool {
	if p.allowAll {
		return true
	}
	normalized, err := normalizeOrigin(origin)
	if err != nil {
		return false
	}
	_, ok := p.origins[normalized]
	return ok
}

func corsMiddleware(policy corsPolicy, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && policy.allows(origin) {
			header := w.Header()
			if policy.allowAll {
				header.Set("Access-Control-Allow-Origin", "*")
			} else {
				header.Set("Access-Control-Allow-Origin", origin)
				header.Add("Vary", "Origin")
			}
			header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
