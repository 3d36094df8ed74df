// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package web

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/sessions"

	"github.com/casjay-forks/vlabstools/src/audit"
	"github.com/casjay-forks/vlabstools/src/metrics"
	"github.com/casjay-forks/vlabstools/src/netshare"
	"github.com/casjay-forks/vlabstools/src/passwd"
)

const (
	sessionName   = "vlabstools_session"
	csrfFieldName = "csrf_token"
	csrfHeader    = "X-CSRF-Token"
)

type session struct {
	s *sessions.Session
}

// session returns the request's session. A cookie that no longer decodes
// (rotated secret) yields a fresh session.
func (data *Data) session(req *http.Request) *session {
	s, err := data.Sessions.Get(req, sessionName)
	if err != nil {
		s, _ = data.Sessions.New(req, sessionName)
	}
	return &session{s: s}
}

func (sess *session) user() string {
	user, _ := sess.s.Values["user"].(string)
	return user
}

func newCSRFToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// csrfToken returns the session's form token, creating and saving it first
// when needed. It must run before the response body is written.
func (data *Data) csrfToken(rw http.ResponseWriter, req *http.Request, sess *session) string {
	token, _ := sess.s.Values["csrf"].(string)
	if token != "" {
		return token
	}

	token = newCSRFToken()
	sess.s.Values["csrf"] = token
	if err := sess.s.Save(req, rw); err != nil {
		data.Log.HttpError(req, err)
	}
	return token
}

func (data *Data) checkCSRF(req *http.Request) error {
	want, _ := data.session(req).s.Values["csrf"].(string)

	got := req.Header.Get(csrfHeader)
	if got == "" {
		got = req.PostFormValue(csrfFieldName)
	}

	if want == "" || subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		audit.CSRFFailure(data.clientIP(req).String(), req.URL.Path, GetRequestID(req.Context()))
		return netshare.ErrForbidden
	}
	return nil
}

// IsAuthRequired returns true if authentication is required (server.public=false)
func (data *Data) IsAuthRequired() bool {
	if data.Public {
		return false
	}
	// Private instance without any account stays open
	return passwd.HasUsers(data.PasswordFile)
}

// IsPublicPath returns true if the path should be accessible without authentication
func IsPublicPath(path string) bool {
	switch path {
	case "/login", "/logout", "/healthz", "/api/v1/healthz",
		"/style.css", "/scan.js", "/favicon.ico", "/robots.txt":
		return true
	}
	return false
}

// authMiddleware sends anonymous visitors of a private instance to the login
// page. API and websocket clients get 401 instead.
func (data *Data) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		if IsPublicPath(req.URL.Path) || !data.IsAuthRequired() || data.session(req).user() != "" {
			next.ServeHTTP(rw, req)
			return
		}

		if strings.HasPrefix(req.URL.Path, "/api/") || strings.HasPrefix(req.URL.Path, "/ws/") {
			rw.Header().Set("WWW-Authenticate", `Cookie realm="`+data.Title+`"`)
			http.Error(rw, "Unauthorized", http.StatusUnauthorized)
			data.Log.HttpRequest(req, http.StatusUnauthorized)
			return
		}

		redirect := req.URL.Path
		if req.URL.RawQuery != "" {
			redirect += "?" + req.URL.RawQuery
		}
		http.Redirect(rw, req, "/login?redirect="+url.QueryEscape(redirect), http.StatusFound)
		data.Log.HttpRequest(req, http.StatusFound)
	})
}

// localRedirect keeps login redirects on this site.
func localRedirect(target string) string {
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return "/"
	}
	return target
}

type loginTmpl struct {
	Redirect string
	Error    string
}

func (data *Data) renderLogin(rw http.ResponseWriter, req *http.Request, code int, body loginTmpl) error {
	v := data.newView(rw, req, "", body)
	v.Page = Page{Title: "Login"}

	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	rw.WriteHeader(code)
	return data.Login.Execute(rw, v)
}

// Pattern: GET /login
func (data *Data) handleLoginPage(rw http.ResponseWriter, req *http.Request) error {
	redirect := localRedirect(req.URL.Query().Get("redirect"))

	if !data.IsAuthRequired() || data.session(req).user() != "" {
		http.Redirect(rw, req, redirect, http.StatusFound)
		return nil
	}

	return data.renderLogin(rw, req, http.StatusOK, loginTmpl{Redirect: redirect})
}

// Pattern: POST /login
func (data *Data) handleLoginSubmit(rw http.ResponseWriter, req *http.Request) error {
	if err := data.checkCSRF(req); err != nil {
		return err
	}

	username := strings.TrimSpace(req.PostFormValue("username"))
	password := req.PostFormValue("password")
	redirect := localRedirect(req.PostFormValue("redirect"))
	ip := data.clientIP(req)

	if data.BruteForce.CheckBlocked(ip) {
		metrics.RecordAuth("blocked")
		minutes := int(math.Ceil(data.BruteForce.RemainingLockout(ip).Minutes()))
		rw.Header().Set("Retry-After", strconv.Itoa(minutes*60))
		return data.renderLogin(rw, req, http.StatusTooManyRequests, loginTmpl{
			Redirect: redirect,
			Error:    "Too many failed attempts, try again in " + strconv.Itoa(minutes) + " minutes.",
		})
	}

	ok, err := passwd.Verify(data.PasswordFile, username, password)
	if err != nil && !ok {
		data.Log.HttpError(req, err)
	}
	if !ok {
		data.BruteForce.RecordFailure(ip)
		metrics.RecordAuth("failure")
		audit.LoginFailed(username, ip.String(), GetRequestID(req.Context()))
		if data.BruteForce.CheckBlocked(ip) {
			audit.Lockout(ip.String(), data.BruteForce.RemainingLockout(ip))
		}
		return data.renderLogin(rw, req, http.StatusUnauthorized, loginTmpl{
			Redirect: redirect,
			Error:    "Invalid username or password.",
		})
	}
	if err != nil {
		// Logged in, but the hash upgrade failed
		data.Log.HttpError(req, err)
	}

	data.BruteForce.RecordSuccess(ip)
	metrics.RecordAuth("success")
	audit.Login(username, ip.String(), GetRequestID(req.Context()))

	sess := data.session(req)
	sess.s.Values["user"] = username
	sess.s.Values["csrf"] = newCSRFToken()
	if err := sess.s.Save(req, rw); err != nil {
		return err
	}

	http.Redirect(rw, req, redirect, http.StatusSeeOther)
	return nil
}

// Pattern: POST /logout
func (data *Data) handleLogout(rw http.ResponseWriter, req *http.Request) error {
	if err := data.checkCSRF(req); err != nil {
		return err
	}

	sess := data.session(req)
	audit.Logout(sess.user(), data.clientIP(req).String(), GetRequestID(req.Context()))
	sess.s.Options.MaxAge = -1
	if err := sess.s.Save(req, rw); err != nil {
		return err
	}

	http.Redirect(rw, req, "/", http.StatusSeeOther)
	return nil
}
