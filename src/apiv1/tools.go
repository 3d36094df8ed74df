// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package apiv1

import (
	"context"
	"net/http"
	"time"

	"github.com/casjay-forks/vlabstools/src/catalog"
	"github.com/casjay-forks/vlabstools/src/passgen"
	"github.com/casjay-forks/vlabstools/src/storage"
	"github.com/casjay-forks/vlabstools/src/sysinfo"
)

type healthzResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
	Version   string `json:"version"`
	Database  string `json:"database"`
	Uptime    int64  `json:"uptime"`
}

var startTime = time.Now()

// GET /api/v1/healthz
func (data *Data) handleHealthz(rw http.ResponseWriter, req *http.Request) error {
	if err := requireMethod(req, http.MethodGet); err != nil {
		return err
	}

	resp := healthzResponse{
		Status:    "healthy",
		Timestamp: time.Now().Unix(),
		Version:   data.Version,
		Database:  "connected",
		Uptime:    int64(time.Since(startTime).Seconds()),
	}

	ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
	defer cancel()

	if err := data.Tools.Healthy(ctx); err != nil {
		data.Log.HttpError(req, err)
		resp.Status = "degraded"
		resp.Database = "error"
		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(http.StatusServiceUnavailable)
	}

	return writeJSON(rw, resp)
}

type passwordRequest struct {
	Length           int   `json:"length"`
	Quantity         int   `json:"quantity"`
	Lower            *bool `json:"lower"`
	Upper            *bool `json:"upper"`
	Digits           *bool `json:"digits"`
	Symbols          *bool `json:"symbols"`
	ExcludeSimilar   *bool `json:"excludeSimilar"`
	ExcludeAmbiguous *bool `json:"excludeAmbiguous"`
}

type passwordAnswer struct {
	Passwords []string `json:"passwords"`
	Length    int      `json:"length"`
	Alphabet  int      `json:"alphabet"`
	Bits      float64  `json:"bits"`
	Strength  string   `json:"strength"`
}

func setIf(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

// POST /api/v1/password
// Omitted options keep the form defaults.
func (data *Data) handlePassword(rw http.ResponseWriter, req *http.Request) error {
	if err := requireMethod(req, http.MethodPost); err != nil {
		return err
	}

	var in passwordRequest
	if err := readJSON(rw, req, &in); err != nil {
		return err
	}

	opts := passgen.DefaultOptions()
	setIf(&opts.Lower, in.Lower)
	setIf(&opts.Upper, in.Upper)
	setIf(&opts.Digits, in.Digits)
	setIf(&opts.Symbols, in.Symbols)
	setIf(&opts.ExcludeSimilar, in.ExcludeSimilar)
	setIf(&opts.ExcludeAmbiguous, in.ExcludeAmbiguous)

	length := passgen.ClampLength(in.Length)
	batch, err := passgen.NewBatch(length, in.Quantity, opts)
	if err != nil {
		return err
	}

	rw.Header().Set("Cache-Control", "no-store")
	return writeJSON(rw, passwordAnswer{
		Passwords: batch.Passwords,
		Length:    length,
		Alphabet:  batch.Alphabet,
		Bits:      batch.Bits,
		Strength:  batch.Strength,
	})
}

// GET /api/v1/system
func (data *Data) handleSystem(rw http.ResponseWriter, req *http.Request) error {
	if err := requireMethod(req, http.MethodGet); err != nil {
		return err
	}
	return writeJSON(rw, sysinfo.Collect(req.Context()))
}

type softwareAnswer struct {
	Platform string          `json:"platform"`
	Query    string          `json:"query,omitempty"`
	Entries  []catalog.Entry `json:"entries"`
}

// GET /api/v1/software?platform=&q=
func (data *Data) handleSoftware(rw http.ResponseWriter, req *http.Request) error {
	if err := requireMethod(req, http.MethodGet); err != nil {
		return err
	}

	query := req.URL.Query()
	platform := catalog.ParsePlatform(query.Get("platform"))

	ans := softwareAnswer{
		Platform: string(platform),
		Query:    query.Get("q"),
		Entries:  data.Tools.Catalog.Filter(platform, query.Get("q")),
	}
	if ans.Entries == nil {
		ans.Entries = []catalog.Entry{}
	}

	return writeJSON(rw, ans)
}

// GET /api/v1/history?kind=
func (data *Data) handleHistory(rw http.ResponseWriter, req *http.Request) error {
	if err := requireMethod(req, http.MethodGet); err != nil {
		return err
	}

	runs, err := data.Tools.Runs(req.Context(), req.URL.Query().Get("kind"))
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []storage.Record{}
	}

	return writeJSON(rw, runs)
}
