// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/casjay-forks/vlabstools/src/audit"
	"github.com/casjay-forks/vlabstools/src/netshare"
	"github.com/casjay-forks/vlabstools/src/portscan"
)

const (
	progressInterval = 150 * time.Millisecond
	wsWriteTimeout   = 10 * time.Second
)

// Same-origin check is the Upgrader default
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// scanMessage is one frame of the /ws/scan stream.
type scanMessage struct {
	// progress, result or error
	Type string `json:"type"`

	Total int `json:"total,omitempty"`
	Done  int `json:"done,omitempty"`

	Open      []scanRow `json:"open,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	Output    string    `json:"output,omitempty"`
	Cancelled bool      `json:"cancelled,omitempty"`

	Error string `json:"error,omitempty"`
}

func writeFrame(conn *websocket.Conn, msg scanMessage) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(msg)
}

// Pattern: /ws/scan?host=&ports=&csrf_token=
// Streams scan progress and ends with the result. Closing the socket
// cancels the scan.
func (data *Data) handleScanSocket(rw http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()

	want, _ := data.session(req).s.Values["csrf"].(string)
	if want == "" || subtle.ConstantTimeCompare([]byte(want), []byte(query.Get(csrfFieldName))) != 1 {
		audit.CSRFFailure(data.clientIP(req).String(), req.URL.Path, GetRequestID(req.Context()))
		http.Error(rw, "Forbidden", http.StatusForbidden)
		data.Log.HttpRequest(req, http.StatusForbidden)
		return
	}

	if err := data.RateLimitTools.CheckAndUse(data.clientIP(req)); err != nil {
		var rlErr *netshare.RateLimitError
		if errors.As(err, &rlErr) {
			rw.Header().Set("Retry-After", strconv.FormatInt(rlErr.RetryAfter, 10))
		}
		audit.RateLimited(data.clientIP(req).String(), req.URL.Path, GetRequestID(req.Context()))
		http.Error(rw, netshare.Message(err), http.StatusTooManyRequests)
		data.Log.HttpRequest(req, http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(rw, req, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		data.Log.HttpError(req, err)
		return
	}
	defer conn.Close()
	data.Log.HttpRequest(req, http.StatusSwitchingProtocols)

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	// The client sends nothing; a read error means it went away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var total, done atomic.Int64
	stop := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()

		var last int64 = -1
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				d := done.Load()
				if d == last {
					continue
				}
				last = d
				if err := writeFrame(conn, scanMessage{Type: "progress", Total: int(total.Load()), Done: int(d)}); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	report, err := data.Tools.Scan(ctx, query.Get("host"), query.Get("ports"), func(t, d int) {
		total.Store(int64(t))
		done.Store(int64(d))
	})
	close(stop)
	<-writerDone

	if err != nil && !report.Cancelled {
		writeFrame(conn, scanMessage{Type: "error", Error: netshare.Message(err)})
		return
	}

	msg := scanMessage{
		Type:      "result",
		Total:     report.Total,
		Done:      report.Scanned,
		Summary:   report.Summary(),
		Output:    report.String(),
		Cancelled: report.Cancelled,
	}
	for _, p := range report.Open {
		msg.Open = append(msg.Open, scanRow{Port: p, Service: portscan.ServiceName(p)})
	}
	if writeFrame(conn, msg) == nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	}
}
