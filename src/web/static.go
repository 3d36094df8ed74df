// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package web

import (
	"net/http"
)

// Pattern: /style.css
func (data *Data) handleStyleCSS(rw http.ResponseWriter, req *http.Request) error {
	ServeWithETag(rw, req, data.StyleCSS, "text/css; charset=utf-8")
	return nil
}

// Pattern: /scan.js
func (data *Data) handleScanJS(rw http.ResponseWriter, req *http.Request) error {
	ServeWithETag(rw, req, data.ScanJS, "application/javascript; charset=utf-8")
	return nil
}

// Pattern: /robots.txt
// The dashboard is internal, nothing should be indexed.
func (data *Data) handleRobotsTxt(rw http.ResponseWriter, req *http.Request) error {
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, err := rw.Write([]byte("User-agent: *\nDisallow: /\n"))
	return err
}
