// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package web

import (
	"html/template"
	"net/http"
	"strings"

	"github.com/casjay-forks/vlabstools/src/netshare"
)

// Page is one entry of the sidebar. Render answers GET /<slug>, Submit
// answers the page's own form posts and may be nil.
type Page struct {
	Slug  string
	Title string
	Icon  string

	Render handlerFunc
	Submit handlerFunc
}

func (data *Data) registry() []Page {
	return []Page{
		{Slug: "home", Title: "Home", Icon: "🏠", Render: data.renderHome},
		{Slug: "network", Title: "Network", Icon: "🌐", Render: data.renderNetwork, Submit: data.submitNetwork},
		{Slug: "software", Title: "Software", Icon: "📀", Render: data.renderSoftware},
		{Slug: "encryption", Title: "Encryption", Icon: "🔐", Render: data.renderEncryption, Submit: data.submitEncryption},
		{Slug: "backup", Title: "Backup", Icon: "💾", Render: data.renderBackup, Submit: data.submitBackup},
		{Slug: "system", Title: "System", Icon: "🖥️", Render: data.renderSystem},
		{Slug: "about", Title: "About", Icon: "ℹ️", Render: data.renderAbout},
	}
}

func (data *Data) findPage(slug string) (Page, bool) {
	for _, p := range data.Pages {
		if p.Slug == slug {
			return p, true
		}
	}
	return Page{}, false
}

// Tab is one tab inside a page.
type Tab struct {
	Slug  string
	Title string
}

// pickTab returns the requested tab or the first one.
func pickTab(tabs []Tab, slug string) string {
	slug = strings.ToLower(strings.TrimSpace(slug))
	for _, t := range tabs {
		if t.Slug == slug {
			return slug
		}
	}
	return tabs[0].Slug
}

// view is the data every page template receives.
type view struct {
	Title   string
	TagLine string
	Version string

	Page Page
	Nav  []Page

	// Login is enabled and who is logged in
	AuthRequired bool
	User         string
	CSRFToken    string

	Body interface{}
}

func (data *Data) newView(rw http.ResponseWriter, req *http.Request, slug string, body interface{}) view {
	page, _ := data.findPage(slug)
	sess := data.session(req)

	return view{
		Title:        data.Title,
		TagLine:      data.TagLine,
		Version:      data.Version,
		Page:         page,
		Nav:          data.Pages,
		AuthRequired: data.IsAuthRequired(),
		User:         sess.user(),
		CSRFToken:    data.csrfToken(rw, req, sess),
		Body:         body,
	}
}

// renderPage executes the template registered for slug.
func (data *Data) renderPage(rw http.ResponseWriter, req *http.Request, slug string, body interface{}) error {
	tmpl, ok := data.pageTmpl[slug]
	if !ok {
		return netshare.ErrNotFound
	}

	v := data.newView(rw, req, slug, body)

	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	return tmpl.Execute(rw, v)
}

type markdownTmpl struct {
	Content template.HTML
}

// Pattern: /
func (data *Data) renderHome(rw http.ResponseWriter, req *http.Request) error {
	return data.renderPage(rw, req, "home", markdownTmpl{Content: data.Home})
}

// Pattern: /about
func (data *Data) renderAbout(rw http.ResponseWriter, req *http.Request) error {
	return data.renderPage(rw, req, "about", markdownTmpl{Content: data.About})
}
