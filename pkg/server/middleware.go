package server

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/malbeclabs/huntql/internal/metrics"
)

// Reasons a request fails bearer authentication, used as metric labels.
const (
	authMissingHeader = "missing_header"
	authInvalidFormat = "invalid_format"
	authEmptyToken    = "empty_token"
	authInvalidToken  = "invalid_token"
)

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reason := s.authenticate(r.Header.Get("Authorization"))
		if reason == "" {
			next.ServeHTTP(w, r)
			return
		}
		metrics.AuthFailuresTotal.WithLabelValues(reason).Inc()
		s.log.Debug("server: rejected request", "reason", reason, "remote", r.RemoteAddr)
		w.Header().Set("WWW-Authenticate", "Bearer")
		s.writeText(w, http.StatusUnauthorized, "unauthorized: "+strings.ReplaceAll(reason, "_", " "))
	})
}

// authenticate returns the failure reason for an Authorization header, or
// "" when it carries an allowed bearer token.
func (s *Server) authenticate(header string) string {
	if header == "" {
		return authMissingHeader
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return authInvalidFormat
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return authEmptyToken
	}
	for _, allowed := range s.cfg.AllowedTokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(allowed)) == 1 {
			return ""
		}
	}
	return authInvalidToken
}

// metricsMiddleware counts requests by method, matched route and status.
// The route pattern keeps the endpoint label bounded.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestDuration.Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach Flush on the underlying writer,
// which streamable HTTP responses need.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
