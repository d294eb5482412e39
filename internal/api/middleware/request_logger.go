package middleware

import (
	"net/http"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// RequestLogger protokolliert jede HTTP-Anfrage über logrus. Erwartet,
// dass requestid.New() vorher in der Kette registriert wurde.
func RequestLogger() gin.HandlerFunc {
	logger := log.WithField("component", "http")

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		entry := logger.WithFields(log.Fields{
			"request_id": requestid.Get(c),
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       path,
			"client":     c.ClientIP(),
			"latency":    time.Since(start).String(),
		})

		switch {
		case len(c.Errors) > 0:
			entry.Error(c.Errors.String())
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Error("Request failed")
		case c.Writer.Status() >= http.StatusBadRequest:
			entry.Warn("Request rejected")
		default:
			entry.Info("Request handled")
		}
	}
}
