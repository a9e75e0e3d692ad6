package api

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/scanorch/scanorch/internal/apierr"
)

type contextKey string

const callerContextKey contextKey = "caller"

// authMiddleware validates a bearer JWT signed with cfg.API.ServiceToken as
// the HMAC secret. There is no per-user identity; the token's subject claim
// is only used to key the rate limiter, matching a single static-claims
// service-to-service model (no end-user auth, per the non-goal it stands
// in for).
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			writeError(w, apierr.ErrUnauthorized)
			return
		}

		claims := jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, apierr.ErrUnauthorized
			}
			return []byte(s.cfg.API.ServiceToken), nil
		})
		if err != nil || !token.Valid {
			writeError(w, apierr.ErrUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), callerContextKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(callerContextKey).(string); ok && v != "" {
		return v
	}
	return ""
}

// rateLimitMiddleware enforces cfg.API.RateLimitPerMinute per caller token
// (falling back to remote IP when auth is disabled), one limiter per key.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := callerFromContext(r.Context())
		if key == "" {
			key = clientIP(r)
		}
		limiter := s.getRateLimiter(key)
		if !limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) getRateLimiter(key string) *rate.Limiter {
	s.rateLimitMu.Lock()
	defer s.rateLimitMu.Unlock()

	if entry, ok := s.rateLimiters[key]; ok {
		entry.lastSeen = time.Now()
		return entry.limiter
	}

	limit := rate.Limit(1)
	burst := 5
	if s.cfg.API.RateLimitPerMinute > 0 {
		limit = rate.Limit(float64(s.cfg.API.RateLimitPerMinute) / 60.0)
		burst = s.cfg.API.RateLimitPerMinute
	}
	limiter := rate.NewLimiter(limit, burst)
	s.rateLimiters[key] = &rateLimiterEntry{limiter: limiter, lastSeen: time.Now()}

	if len(s.rateLimiters) > 1000 {
		cutoff := time.Now().Add(-5 * time.Minute)
		for k, entry := range s.rateLimiters {
			if entry.lastSeen.Before(cutoff) {
				delete(s.rateLimiters, k)
			}
		}
	}

	return limiter
}

func clientIP(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
