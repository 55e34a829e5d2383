package logger

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

var sensitiveHeaders = map[string]bool{
	"authorization":          true,
	"cookie":                 true,
	"sec-websocket-protocol": true,
}

// LogHTTPError logs a failed request with its request and session ids.
// Server errors log at error level, client errors at warn.
func LogHTTPError(c *gin.Context, err error, statusCode int, message string) {
	fields := []interface{}{
		"status_code", statusCode,
		"path", c.Request.URL.Path,
		"method", c.Request.Method,
		"client_ip", c.ClientIP(),
		"headers", filterSensitiveHeaders(c.Request.Header),
		"error", err,
	}
	if requestID, ok := c.Get("request_id"); ok {
		fields = append(fields, "request_id", requestID)
	}
	if sessionID := c.Param("id"); sessionID != "" {
		fields = append(fields, "session_id", sessionID)
	}

	log := GetLogger()
	if statusCode >= http.StatusInternalServerError {
		log.Errorw(message, fields...)
		return
	}
	log.Warnw(message, fields...)
}

func filterSensitiveHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for name, values := range headers {
		if sensitiveHeaders[strings.ToLower(name)] {
			out[name] = MaskJWT(strings.Join(values, ","))
			continue
		}
		out[name] = strings.Join(values, ",")
	}
	return out
}
