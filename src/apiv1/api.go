// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

// Package apiv1 serves the dashboard tools as JSON under /api/v1.
package apiv1

import (
	"net/http"

	"github.com/casjay-forks/vlabstools/src/config"
	"github.com/casjay-forks/vlabstools/src/logger"
	"github.com/casjay-forks/vlabstools/src/netshare"
	"github.com/casjay-forks/vlabstools/src/toolbox"
)

// Request bodies larger than this are rejected
const maxBodySize = 64 << 10

type Data struct {
	Log   logger.Logger
	Tools *toolbox.Toolbox

	RateLimitTools *netshare.RateLimitSystem

	Version    string
	TrustProxy bool
}

func Load(tools *toolbox.Toolbox, cfg config.Config) *Data {
	return &Data{
		Log:            cfg.Log,
		Tools:          tools,
		RateLimitTools: cfg.RateLimitTools,
		Version:        cfg.Version,
		TrustProxy:     cfg.TrustProxy,
	}
}

func (data *Data) Hand(rw http.ResponseWriter, req *http.Request) {
	// Process request
	var err error

	rw.Header().Set("Server", config.Software+"/"+data.Version)

	switch req.URL.Path {
	case "/api/v1/healthz":
		err = data.handleHealthz(rw, req)
	case "/api/v1/ip":
		err = data.handleIP(rw, req)
	case "/api/v1/dns":
		err = data.handleDNS(rw, req)
	case "/api/v1/whois":
		err = data.handleWhois(rw, req)
	case "/api/v1/ssl":
		err = data.handleSSL(rw, req)
	case "/api/v1/ping":
		err = data.handlePing(rw, req)
	case "/api/v1/traceroute":
		err = data.handleTraceroute(rw, req)
	case "/api/v1/scan":
		err = data.handleScan(rw, req)
	case "/api/v1/password":
		err = data.handlePassword(rw, req)
	case "/api/v1/system":
		err = data.handleSystem(rw, req)
	case "/api/v1/software":
		err = data.handleSoftware(rw, req)
	case "/api/v1/history":
		err = data.handleHistory(rw, req)
	default:
		err = netshare.ErrNotFound
	}

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

func (data *Data) rateLimit(req *http.Request) error {
	return data.RateLimitTools.CheckAndUse(netshare.GetClientAddrTrusted(req, data.TrustProxy))
}

func requireMethod(req *http.Request, method string) error {
	if req.Method != method {
		return netshare.ErrMethodNotAllowed
	}
	return nil
}
