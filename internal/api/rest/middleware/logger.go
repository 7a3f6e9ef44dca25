package middleware

import (
	"net/http"
	"net/url"
	"time"

	"github.com/davidmoltin/leadflow/pkg/logger"
	"github.com/go-chi/chi/v5/middleware"
)

// queryParams whose values never reach the logs
var redactedParams = []string{"hub.verify_token", "access_token", "token", "secret"}

// quietPaths are polled by infrastructure and logged at debug
var quietPaths = map[string]bool{"/health": true, "/ready": true, "/metrics": true}

// Logger logs one line per request. Server errors log at error level.
func Logger(log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				fields := []logger.Field{
					logger.String("method", r.Method),
					logger.String("path", r.URL.Path),
					logger.String("query", redactQuery(r.URL.Query())),
					logger.String("remote_addr", r.RemoteAddr),
					logger.Int("status", status),
					logger.Int("bytes", ww.BytesWritten()),
					logger.Duration("duration", time.Since(start)),
					logger.String("request_id", middleware.GetReqID(r.Context())),
				}

				switch {
				case status >= http.StatusInternalServerError:
					log.Error("HTTP request", fields...)
				case quietPaths[r.URL.Path]:
					log.Debug("HTTP request", fields...)
				default:
					log.Info("HTTP request", fields...)
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func redactQuery(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	for _, key := range redactedParams {
		if values.Has(key) {
			values.Set(key, "REDACTED")
		}
	}
	return values.Encode()
}
