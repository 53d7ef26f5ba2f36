// Package apps holds the applications the server binary can mount.
package apps

import (
	"io"

	"github.com/Brownie44l1/httpconnector/internal/logging"
	"github.com/Brownie44l1/httpconnector/internal/request"
	"github.com/Brownie44l1/httpconnector/internal/response"
)

// Echo answers HTTP requests with their body and echoes WebSocket messages
// until the client closes.
type Echo struct {
	Logger logging.Logger
}

func NewEcho(logger logging.Logger) *Echo {
	return &Echo{Logger: logger}
}

func (e *Echo) HandleRequest(ex *response.Exchange) {
	if ex.IsWebSocket() {
		if err := ex.AcceptWebSocket(); err != nil {
			e.Logger.Warn("websocket accept failed", logging.F("error", err))
			ex.Flush(false, nil)
			return
		}
		e.read(ex)
		return
	}

	req := ex.Request()
	ex.SetContentType("text/plain")
	ex.AddHeader("X-Extra-Path", req.ExtraPath)
	if req.Method == "HEAD" || ex.BodySize() == 0 {
		ex.WriteString(req.Method + " " + req.URI + "\n")
		ex.Flush(false, nil)
		return
	}

	ex.SetContentLength(ex.BodySize())
	if _, err := io.Copy(ex, ex.Body()); err != nil {
		e.Logger.Error("reading request body", logging.F("error", err))
	}
	ex.Flush(false, nil)
}

func (e *Echo) read(ex *response.Exchange) {
	err := ex.ReadWebSocketMessage(func(op request.Opcode, msg []byte, err error) {
		if err != nil {
			e.Logger.Debug("websocket read ended", logging.F("error", err))
			return
		}
		if op == request.OpClose {
			return
		}

		payload := append([]byte(nil), msg...)
		err = ex.WriteWebSocketMessage(op, payload, func(err error) {
			if err == nil {
				e.read(ex)
			}
		})
		if err != nil {
			e.Logger.Debug("websocket write failed",
				logging.F("error", err),
				logging.F("size", len(payload)),
			)
		}
	})
	if err != nil {
		e.Logger.Debug("websocket read failed", logging.F("error", err))
	}
}
