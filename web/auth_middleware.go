package web

import "net/http"

func authMiddleware(tokenHash string, next http.HandlerFunc) http.HandlerFunc {
	if tokenHash != "" {
		return func(w http.ResponseWriter, r *http.Request) {
			if !isValidAuthToken(bearerToken(r), tokenHash) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="autopilot"`)
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next(w, r)
		}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		next(w, r)
	}
}
