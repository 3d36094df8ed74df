// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package web

import (
	"net/http"

	"github.com/casjay-forks/vlabstools/src/sysinfo"
)

// Pattern: /system
func (data *Data) renderSystem(rw http.ResponseWriter, req *http.Request) error {
	return data.renderPage(rw, req, "system", sysinfo.Collect(req.Context()))
}
