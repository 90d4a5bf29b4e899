// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

// Package httputils holds the chi middleware internal/console's HTTP
// control surface runs every request through. It replaces
// github.com/ironcore-dev/ironcore/utils/http (dropped along with the
// rest of that module, see DESIGN.md) with a same-shape local
// reimplementation: InjectLogger attaches a request-scoped logr.Logger
// via logr.NewContext, and LogRequest logs each request's method, path,
// status, and duration once it completes.
package httputils

import (
	"net/http"
	"time"

	"github.com/go-logr/logr"
)

// InjectLogger returns middleware that stores log in the request
// context via logr.NewContext, so handlers recover it with
// logr.FromContextOrDiscard exactly as the teacher's server/exec.go
// does.
func InjectLogger(log logr.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := logr.NewContext(req.Context(), log)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

// statusRecorder captures the status code a handler wrote so LogRequest
// can report it after the fact; http.ResponseWriter has no getter for it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// LogRequest logs one line per request at the end of its handling:
// method, path, status, and duration.
func LogRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		log := logr.FromContextOrDiscard(req.Context())
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, req)

		log.V(1).Info("handled request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", rec.status,
			"durationMs", time.Since(start).Milliseconds(),
		)
	})
}
