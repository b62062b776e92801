package ratelimit

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/render"
)

// ErrorResponse is the body of a 429 response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Middleware limits requests per client IP.
type Middleware struct {
	limiter *Limiter
}

func NewMiddleware(limiter *Limiter) *Middleware {
	return &Middleware{limiter: limiter}
}

// Handler returns the rate limiting middleware handler
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "ip:" + getClientIP(r)
		if !m.limiter.Allow(key) {
			slog.Warn("Rate limit exceeded", "ip", getClientIP(r), "path", r.URL.Path, "method", r.Method)
			Exceeded(w, r, m.limiter.RetryAfter(key))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Exceeded writes a 429 response with a Retry-After header.
func Exceeded(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
	render.Status(r, http.StatusTooManyRequests)
	render.JSON(w, r, ErrorResponse{
		Error:   "rate_limit_exceeded",
		Message: "Too many login attempts. Please try again later.",
	})
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs, take the first one
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// RemoteAddr is in format "IP:port", we only want the IP
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}
