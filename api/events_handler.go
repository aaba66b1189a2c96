package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/labstack/echo/v4"

	"github.com/chaoschain/gateway/stream"
)

// Broker is the subset of *stream.Broker the event endpoint uses.
type Broker interface {
	Subscribe(topics ...string) (*stream.Subscriber, error)
	Remove(sub *stream.Subscriber)
}

// streamEvents upgrades to a WebSocket and writes one JSON text frame per
// lifecycle event on the requested topics (repeated ?topic= parameters;
// none means every workflow). Client frames are read only to answer pings
// and notice the close.
func (a *API) streamEvents(c echo.Context) error {
	if a.broker == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event stream is not enabled")
	}
	sub, err := a.broker.Subscribe(c.QueryParams()["topic"]...)
	if err != nil {
		return badRequest(err.Error())
	}
	defer a.broker.Remove(sub)

	conn, _, _, err := ws.UpgradeHTTP(c.Request(), c.Response())
	if err != nil {
		// UpgradeHTTP has already answered the request.
		a.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return nil
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Time{})

	logger := a.logger.With(slog.String("subscriber", sub.ID()))
	logger.Debug("event stream opened")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := wsutil.ReadClientData(conn); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt, ok := <-sub.C():
			if !ok {
				body := ws.NewCloseFrameBody(ws.StatusGoingAway, "server shutting down")
				_ = ws.WriteFrame(conn, ws.NewCloseFrame(body))
				return nil
			}
			data, err := json.Marshal(evt)
			if err != nil {
				logger.Warn("marshal event", slog.String("error", err.Error()))
				continue
			}
			if err := wsutil.WriteServerText(conn, data); err != nil {
				logger.Debug("event stream write failed", slog.String("error", err.Error()))
				return nil
			}
		case <-closed:
			logger.Debug("event stream closed by client")
			return nil
		}
	}
}
