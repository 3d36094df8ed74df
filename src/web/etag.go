// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package web

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// ETagFromContent returns a quoted ETag from the first 8 bytes of the SHA-256.
func ETagFromContent(content []byte) string {
	hash := sha256.Sum256(content)
	return `"` + hex.EncodeToString(hash[:8]) + `"`
}

// CheckETagMatch reports whether If-None-Match names etag (or *).
func CheckETagMatch(r *http.Request, etag string) bool {
	ifNoneMatch := r.Header.Get("If-None-Match")
	if ifNoneMatch == "" {
		return false
	}

	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == etag || candidate == "*" {
			return true
		}
	}
	return false
}

// ServeWithETag writes content with an ETag and revalidation caching.
// Returns true when a 304 was sent instead.
func ServeWithETag(w http.ResponseWriter, r *http.Request, content []byte, contentType string) bool {
	etag := ETagFromContent(content)

	if CheckETagMatch(r, etag) {
		w.WriteHeader(http.StatusNotModified)
		return true
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(content)
	return false
}
