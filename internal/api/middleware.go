package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	statusWarnThreshold  = 400
	statusErrorThreshold = 500

	// taskIDKey lets handlers tag a request with a task created during it.
	taskIDKey = "task_id"
)

// ZerologLogger logs one line per request. Requests that address a task
// carry its id as task_id so they join the pipeline logs. Routes listed in
// streamRoutes are long-lived: they log their open and close at debug level
// instead of one request line.
func ZerologLogger(streamRoutes ...string) gin.HandlerFunc {
	streams := make(map[string]struct{}, len(streamRoutes))
	for _, r := range streamRoutes {
		streams[r] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		route := c.FullPath()

		if _, ok := streams[route]; ok {
			logger := log.With().Str("route", route).Str("client_ip", c.ClientIP()).Logger()
			logger.Debug().Msg("event stream opened")
			c.Next()
			logger.Debug().Dur("duration", time.Since(start)).Msg("event stream closed")
			return
		}

		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		status := c.Writer.Status()
		evt := log.Info()
		switch {
		case status >= statusErrorThreshold:
			evt = log.Error()
		case status >= statusWarnThreshold:
			evt = log.Warn()
		}
		withTaskID(evt, c).
			Int("status", status).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("route", route).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg("http request completed")
	}
}

func withTaskID(evt *zerolog.Event, c *gin.Context) *zerolog.Event {
	if id := c.Param("id"); id != "" {
		return evt.Str("task_id", id)
	}
	if id := c.GetString(taskIDKey); id != "" {
		return evt.Str("task_id", id)
	}
	return evt
}
