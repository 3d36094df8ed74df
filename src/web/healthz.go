// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

type healthzResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
	Version   string `json:"version"`
	Database  string `json:"database"`
	Uptime    int64  `json:"uptime"`
}

var startTime = time.Now()

// Pattern: /healthz
func (data *Data) handleHealthz(rw http.ResponseWriter, req *http.Request) error {
	resp := healthzResponse{
		Status:    "healthy",
		Timestamp: time.Now().Unix(),
		Version:   data.Version,
		Database:  "connected",
		Uptime:    int64(time.Since(startTime).Seconds()),
	}

	ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
	defer cancel()

	code := http.StatusOK
	if err := data.Tools.Healthy(ctx); err != nil {
		data.Log.HttpError(req, err)
		resp.Status = "degraded"
		resp.Database = "error"
		code = http.StatusServiceUnavailable
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.Header().Set("Cache-Control", "no-store")
	rw.WriteHeader(code)
	jsonData, _ := json.MarshalIndent(resp, "", "  ")
	rw.Write(jsonData)
	rw.Write([]byte("\n"))
	return nil
}
