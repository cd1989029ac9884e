package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/liamcoop/routingrules/internal/logger"
)

// requestLogger logs each request and feeds the logger's HTTP counters.
// 5xx responses and slow requests go through the sampled Error/Warn path.
func requestLogger(l *slog.Logger, slow time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			elapsed := time.Since(start)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", elapsed,
				"request_id", middleware.GetReqID(r.Context()),
			}

			switch {
			case status >= 500:
				logger.ErrorHttp5xx(status)
				logger.Error("request failed", attrs...)
			case status >= 400:
				logger.WarnHttp4xx(status)
				l.Info("request rejected", attrs...)
			default:
				l.Debug("request served", attrs...)
			}
			if slow > 0 && elapsed > slow {
				logger.WarnSlowRequest()
				logger.Warn("slow request", attrs...)
			}
		})
	}
}
