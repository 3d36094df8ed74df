// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package web

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"runtime"
	"strings"

	"github.com/google/uuid"

	"github.com/casjay-forks/vlabstools/src/logger"
)

type SecurityHeadersConfig struct {
	XFrameOptions         string
	XContentTypeOptions   string
	ContentSecurityPolicy string
	ReferrerPolicy        string
	PermissionsPolicy     string
}

// SecurityHeadersMiddleware adds the configured security headers to every response
func SecurityHeadersMiddleware(cfg SecurityHeadersConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.XFrameOptions != "" {
				w.Header().Set("X-Frame-Options", cfg.XFrameOptions)
			}
			if cfg.XContentTypeOptions != "" {
				w.Header().Set("X-Content-Type-Options", cfg.XContentTypeOptions)
			}
			if cfg.ContentSecurityPolicy != "" {
				w.Header().Set("Content-Security-Policy", cfg.ContentSecurityPolicy)
			}
			if cfg.ReferrerPolicy != "" {
				w.Header().Set("Referrer-Policy", cfg.ReferrerPolicy)
			}
			if cfg.PermissionsPolicy != "" {
				w.Header().Set("Permissions-Policy", cfg.PermissionsPolicy)
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequestIDKey is the context key for request ID
type RequestIDKey struct{}

// RequestIDMiddleware tags each request with an ID, reusing a valid upstream one.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.New().String()
		}

		w.Header().Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), RequestIDKey{}, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// PanicRecoveryMiddleware turns a panic into a 500 and logs the stack.
// With debug set the stack is also written to the response.
func PanicRecoveryMiddleware(log logger.Logger, debug bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				stack := make([]byte, 4096)
				stack = stack[:runtime.Stack(stack, false)]

				requestID := GetRequestID(r.Context())
				log.HttpError(r, fmt.Errorf("panic recovered, request_id=%s: %v\n%s", requestID, rec, stack))

				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.Header().Set("X-Content-Type-Options", "nosniff")
				w.WriteHeader(http.StatusInternalServerError)

				if debug {
					fmt.Fprintf(w, "Internal Server Error\n\nPanic: %v\n\nStack Trace:\n%s\n", rec, stack)
					if requestID != "" {
						fmt.Fprintf(w, "\nRequest ID: %s\n", requestID)
					}
				} else {
					fmt.Fprint(w, "An unexpected error occurred")
				}
				log.HttpRequest(r, http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// URLNormalizeMiddleware redirects "/path/" to "/path", keeping the query.
func URLNormalizeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		if len(path) > 1 && strings.HasSuffix(path, "/") {
			canonical := strings.TrimRight(path, "/")
			if canonical == "" {
				canonical = "/"
			}
			if r.URL.RawQuery != "" {
				canonical += "?" + r.URL.RawQuery
			}

			http.Redirect(w, r, canonical, http.StatusMovedPermanently)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// PathSecurityMiddleware rejects paths with "..", raw or percent-encoded.
func PathSecurityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "..") {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}

		decoded, err := url.PathUnescape(r.URL.EscapedPath())
		if err != nil || strings.Contains(decoded, "..") {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}

		next.ServeHTTP(w, r)
	})
}
