// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/casjay-forks/vlabstools/src/audit"
	"github.com/casjay-forks/vlabstools/src/metrics"
	"github.com/casjay-forks/vlabstools/src/netshare"
	"github.com/casjay-forks/vlabstools/src/storage"
)

type errorTmpl struct {
	Code    int
	Status  string
	Message string
}

// errorCode maps a handler error to its HTTP status.
func errorCode(e error) int {
	var eTmp429 *netshare.RateLimitError

	switch {
	case errors.Is(e, netshare.ErrBadRequest):
		return 400
	case errors.Is(e, netshare.ErrUnauthorized):
		return 401
	case errors.Is(e, netshare.ErrForbidden):
		return 403
	case errors.Is(e, storage.ErrNotFoundID), errors.Is(e, netshare.ErrNotFound):
		return 404
	case errors.Is(e, netshare.ErrMethodNotAllowed):
		return 405
	case errors.Is(e, netshare.ErrPayloadTooLarge):
		return 413
	case errors.As(e, &eTmp429):
		return 429
	default:
		return 500
	}
}

func (data *Data) writeError(rw http.ResponseWriter, req *http.Request, e error) (int, error) {
	errData := errorTmpl{Code: errorCode(e)}
	errData.Status = http.StatusText(errData.Code)

	switch errData.Code {
	case 400:
		// Input errors are safe to show as is
		errData.Message = netshare.Message(e)
	case 429:
		var eTmp429 *netshare.RateLimitError
		errors.As(e, &eTmp429)
		rw.Header().Set("Retry-After", strconv.FormatInt(eTmp429.RetryAfter, 10))
		errData.Message = netshare.Message(e)
		metrics.RecordRateLimited()
		audit.RateLimited(data.clientIP(req).String(), req.URL.Path, GetRequestID(req.Context()))
	}

	v := data.newView(rw, req, "", errData)
	v.Page = Page{Title: errData.Status}

	// Write response header
	rw.Header().Set("Content-type", "text/html; charset=utf-8")
	rw.WriteHeader(errData.Code)

	// Render template
	err := data.ErrorPage.Execute(rw, v)
	if err != nil {
		return 500, err
	}

	return errData.Code, nil
}
