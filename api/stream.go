package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

const streamKeepAlive = 25 * time.Second

// streamBoard opens a server-sent event stream: the current board first, then
// every board event published for the caller. EventSource clients cannot set
// headers, so the bearer token may also come from the token query parameter.
func streamBoard(d *deps) echo.HandlerFunc {
	h := d.handle("/api/stream", func(c echo.Context, userID string, m *requestMetrics) error {
		if d.events == nil {
			return c.JSON(http.StatusNotImplemented, errorResponse{Error: "event stream disabled"})
		}
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "stream unsupported"})
		}
		ctx := c.Request().Context()

		// Subscribe before loading so nothing published in between is lost.
		updates, cancel := d.events.Subscribe(userID)
		defer cancel()

		sess, err := d.svc.session(ctx, userID, m)
		if err != nil {
			return writeError(c, m, err)
		}
		board, err := sonic.ConfigStd.Marshal(boardResponse{Board: sess.View()})
		if err != nil {
			m.SetErrorStage("encode_response")
			return err
		}

		res := c.Response()
		res.Header().Set(echo.HeaderContentType, "text/event-stream")
		res.Header().Set(echo.HeaderCacheControl, "no-cache")
		res.Header().Set(echo.HeaderConnection, "keep-alive")
		res.Header().Set("X-Accel-Buffering", "no")
		res.WriteHeader(http.StatusOK)
		m.SetTasksReturned(len(sess.Tasks()))

		if err := writeSSE(res, "board", board); err != nil {
			return nil
		}
		flusher.Flush()

		ping := time.NewTicker(streamKeepAlive)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ping.C:
				if _, err := res.Write([]byte(": ping\n\n")); err != nil {
					return nil
				}
			case data, ok := <-updates:
				if !ok {
					return nil
				}
				if err := writeSSE(res, "board-event", data); err != nil {
					return nil
				}
			}
			flusher.Flush()
		}
	})
	return func(c echo.Context) error {
		req := c.Request()
		if req.Header.Get(echo.HeaderAuthorization) == "" {
			if token := c.QueryParam("token"); token != "" {
				req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
			}
		}
		return h(c)
	}
}

func writeSSE(w http.ResponseWriter, event string, data []byte) error {
	if _, err := w.Write([]byte("event: " + event + "\ndata: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n\n"))
	return err
}
