// Package auth provides a minimal, optional API-key middleware. Adapted
// from the teacher's internal/auth/apikey.go, which validated API keys
// against a tenant repository over gRPC metadata; SPEC_FULL.md has no
// tenant/account model, so this keeps only the allow-list check itself,
// ported to a plain chi-compatible http.Handler middleware. Authentication
// is explicitly out of scope for the pipeline itself (spec §6) — this
// exists so a deployment can turn it on without changing the orchestrator.
package auth

import "net/http"

// APIKeyHeader is the header clients present their key in.
const APIKeyHeader = "X-API-Key"

// RequireAPIKey returns middleware that rejects requests whose X-API-Key
// header is not in keys. If keys is empty, the middleware is a no-op —
// deployments that haven't configured any keys run unauthenticated.
func RequireAPIKey(keys []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		allowed[k] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		if len(allowed) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(APIKeyHeader)
			if _, ok := allowed[key]; !ok {
				http.Error(w, `{"error":"invalid or missing API key"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
