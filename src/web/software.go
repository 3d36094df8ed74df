// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package web

import (
	"net/http"
	"strings"

	"github.com/casjay-forks/vlabstools/src/catalog"
)

type platformTab struct {
	Slug  string
	Title string
	Count int
}

type softwareTmpl struct {
	Platforms []platformTab
	Platform  catalog.Platform
	Query     string
	Entries   []catalog.Entry
}

// Pattern: /software?platform=&q=
func (data *Data) renderSoftware(rw http.ResponseWriter, req *http.Request) error {
	query := req.URL.Query()

	body := softwareTmpl{
		Platform: catalog.ParsePlatform(query.Get("platform")),
		Query:    strings.TrimSpace(query.Get("q")),
	}
	for _, p := range catalog.Platforms {
		body.Platforms = append(body.Platforms, platformTab{
			Slug:  string(p),
			Title: p.Title(),
			Count: data.Tools.Catalog.Len(p),
		})
	}
	body.Entries = data.Tools.Catalog.Filter(body.Platform, body.Query)

	return data.renderPage(rw, req, "software", body)
}
