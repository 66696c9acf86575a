package middleware

import (
	"net/http"

	"lost-found-portal/pkg/response"
)

// AdminGate answers whether the current browsing context holds admin rights.
type AdminGate interface {
	RequireAdmin() error
}

// RequireAdmin rejects the request unless the gate currently grants admin.
func RequireAdmin(gate AdminGate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := gate.RequireAdmin(); err != nil {
				response.Error(w, http.StatusForbidden, "Forbidden", err.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
