// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package apiv1

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/casjay-forks/vlabstools/src/audit"
	"github.com/casjay-forks/vlabstools/src/metrics"
	"github.com/casjay-forks/vlabstools/src/netshare"
	"github.com/casjay-forks/vlabstools/src/passgen"
	"github.com/casjay-forks/vlabstools/src/storage"
)

type errorType struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
	// Input problems, safe to show to the caller
	Message string `json:"message,omitempty"`
}

func (data *Data) writeError(rw http.ResponseWriter, req *http.Request, e error) (int, error) {
	var resp errorType

	var eTmp429 *netshare.RateLimitError

	switch {
	case errors.Is(e, netshare.ErrBadRequest), errors.Is(e, passgen.ErrNoCharsets):
		resp.Code = 400
		resp.Error = "Bad Request"
		resp.Message = netshare.Message(e)

	case errors.Is(e, netshare.ErrUnauthorized):
		resp.Code = 401
		resp.Error = "Unauthorized"

	case errors.Is(e, netshare.ErrForbidden):
		resp.Code = 403
		resp.Error = "Forbidden"

	case errors.Is(e, storage.ErrNotFoundID), errors.Is(e, netshare.ErrNotFound):
		resp.Code = 404
		resp.Error = "Not Found"

	case errors.Is(e, netshare.ErrMethodNotAllowed):
		resp.Code = 405
		resp.Error = "Method Not Allowed"

	case errors.Is(e, netshare.ErrPayloadTooLarge):
		resp.Code = 413
		resp.Error = "Payload Too Large"

	case errors.As(e, &eTmp429):
		resp.Code = 429
		resp.Error = "Too Many Requests"
		resp.Message = netshare.Message(e)
		rw.Header().Set("Retry-After", strconv.FormatInt(eTmp429.RetryAfter, 10))
		metrics.RecordRateLimited()
		audit.RateLimited(netshare.GetClientAddrTrusted(req, data.TrustProxy).String(), req.URL.Path, rw.Header().Get("X-Request-ID"))

	default:
		resp.Code = 500
		resp.Error = "Internal Server Error"
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(resp.Code)

	err := writeJSON(rw, resp)
	if err != nil {
		return 500, err
	}

	return resp.Code, nil
}

// writeJSON writes v as indented JSON followed by a newline.
func writeJSON(w http.ResponseWriter, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(data)
	if err != nil {
		return err
	}
	_, err = w.Write([]byte("\n"))
	return err
}

// readJSON decodes a bounded request body into v.
func readJSON(rw http.ResponseWriter, req *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(rw, req.Body, maxBodySize))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return netshare.ErrPayloadTooLarge
		}
		return netshare.NewInputError("body", "invalid JSON: "+err.Error())
	}
	return nil
}
