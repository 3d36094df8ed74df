// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package web

import (
	"embed"
	"html/template"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"

	"github.com/casjay-forks/vlabstools/src/config"
	"github.com/casjay-forks/vlabstools/src/logger"
	"github.com/casjay-forks/vlabstools/src/netshare"
	"github.com/casjay-forks/vlabstools/src/passwd"
	"github.com/casjay-forks/vlabstools/src/toolbox"
)

//go:embed data/*
var embFS embed.FS

// Files shared by every page template
var layoutFiles = []string{"data/base.tmpl", "data/_header.tmpl", "data/_nav.tmpl", "data/_footer.tmpl"}

type Data struct {
	Log   logger.Logger
	Tools *toolbox.Toolbox

	RateLimitTools *netshare.RateLimitSystem

	// Page registry, in sidebar order
	Pages []Page

	pageTmpl  map[string]*template.Template
	ErrorPage *template.Template
	Login     *template.Template

	StyleCSS []byte
	ScanJS   []byte

	Home  template.HTML
	About template.HTML

	Version string
	Title   string
	TagLine string

	// true = open/public (no auth), false = auth required
	Public       bool
	TrustProxy   bool
	PasswordFile string

	Sessions   *sessions.CookieStore
	BruteForce *passwd.BruteForceProtection
}

func parsePage(name string) (*template.Template, error) {
	files := append(append([]string{}, layoutFiles...), "data/"+name+".tmpl")
	return template.New("base.tmpl").Funcs(funcMap).ParseFS(embFS, files...)
}

func Load(tools *toolbox.Toolbox, cfg config.Config) (*Data, error) {
	var data Data
	var err error

	data.Log = cfg.Log
	data.Tools = tools
	data.RateLimitTools = cfg.RateLimitTools

	data.Version = cfg.Version
	data.Title = cfg.Title
	data.TagLine = cfg.TagLine
	data.Public = cfg.Public
	data.TrustProxy = cfg.TrustProxy
	data.PasswordFile = cfg.PasswordFile

	data.Sessions = sessions.NewCookieStore(cfg.SessionSecret)
	data.Sessions.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   cfg.SessionMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	data.BruteForce = passwd.NewBruteForceProtection(cfg.BruteForceMax, cfg.BruteForceLockout)

	data.Pages = data.registry()

	// Page templates
	data.pageTmpl = make(map[string]*template.Template, len(data.Pages))
	for _, p := range data.Pages {
		data.pageTmpl[p.Slug], err = parsePage(p.Slug)
		if err != nil {
			return nil, err
		}
	}

	data.ErrorPage, err = parsePage("error")
	if err != nil {
		return nil, err
	}

	data.Login, err = parsePage("login")
	if err != nil {
		return nil, err
	}

	// Static files
	data.StyleCSS, err = embFS.ReadFile("data/style.css")
	if err != nil {
		return nil, err
	}

	data.ScanJS, err = embFS.ReadFile("data/scan.js")
	if err != nil {
		return nil, err
	}

	// Markdown pages
	home, err := embFS.ReadFile("data/home.md")
	if err != nil {
		return nil, err
	}
	data.Home = RenderMarkdown(string(home))

	about, err := embFS.ReadFile("data/about.md")
	if err != nil {
		return nil, err
	}
	data.About = RenderMarkdown(string(about))

	return &data, nil
}

// handlerFunc is a page handler; a returned error is rendered as the error page.
type handlerFunc func(rw http.ResponseWriter, req *http.Request) error

func (data *Data) handle(fn handlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, req *http.Request) {
		rw.Header().Set("Server", config.Software+"/"+data.Version)

		err := fn(rw, req)

		// Log
		if err == nil {
			data.Log.HttpRequest(req, 200)

		} else {
			// Log the original error before writing HTTP response
			data.Log.HttpError(req, err)

			code, writeErr := data.writeError(rw, req, err)
			if writeErr != nil {
				data.Log.HttpError(req, writeErr)
			}
			data.Log.HttpRequest(req, code)
		}
	}
}

// Register adds every page, static file and the scan websocket to r.
func (data *Data) Register(r *mux.Router) {
	r.Use(data.authMiddleware)

	r.HandleFunc("/style.css", data.handle(data.handleStyleCSS)).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/scan.js", data.handle(data.handleScanJS)).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/favicon.ico", data.handle(data.handleFavicon)).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/robots.txt", data.handle(data.handleRobotsTxt)).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/healthz", data.handle(data.handleHealthz)).Methods(http.MethodGet, http.MethodHead)

	r.HandleFunc("/login", data.handle(data.handleLoginPage)).Methods(http.MethodGet)
	r.HandleFunc("/login", data.handle(data.handleLoginSubmit)).Methods(http.MethodPost)
	r.HandleFunc("/logout", data.handle(data.handleLogout)).Methods(http.MethodPost)

	r.HandleFunc("/ws/scan", data.handleScanSocket).Methods(http.MethodGet)

	r.HandleFunc("/", data.handle(data.handlePage)).Methods(http.MethodGet)
	r.HandleFunc("/{slug}", data.handle(data.handlePage)).Methods(http.MethodGet, http.MethodPost)

	r.NotFoundHandler = data.handle(func(rw http.ResponseWriter, req *http.Request) error {
		return netshare.ErrNotFound
	})
	r.MethodNotAllowedHandler = data.handle(func(rw http.ResponseWriter, req *http.Request) error {
		return netshare.ErrMethodNotAllowed
	})
}

// Pattern: /{slug}
func (data *Data) handlePage(rw http.ResponseWriter, req *http.Request) error {
	slug := strings.ToLower(mux.Vars(req)["slug"])
	if slug == "" {
		slug = "home"
	}

	page, ok := data.findPage(slug)
	if !ok {
		return netshare.ErrNotFound
	}

	if req.Method == http.MethodPost {
		if page.Submit == nil {
			return netshare.ErrMethodNotAllowed
		}
		if err := data.checkCSRF(req); err != nil {
			return err
		}
		return page.Submit(rw, req)
	}

	return page.Render(rw, req)
}

// clientIP is the address used for rate limiting and login lockout.
func (data *Data) clientIP(req *http.Request) net.IP {
	return netshare.GetClientAddrTrusted(req, data.TrustProxy)
}
