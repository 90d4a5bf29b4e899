// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

// Package console implements the scenario-trigger/report HTTP control
// surface (SPEC_FULL §4), adapted from the teacher's chi-router
// exec-token console: the same router/middleware idiom, a different
// surface entirely (run scenarios and fetch their reports instead of
// streaming an exec console over a signed token).
package console

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/wooveep/atp-runner/internal/executor"
	"github.com/wooveep/atp-runner/internal/healthcheck"
	"github.com/wooveep/atp-runner/internal/httputils"
	"github.com/wooveep/atp-runner/internal/scenario"
)

var log = ctrl.Log.WithName("http")

const defaultReportCapacity = 256

type HandlerOptions struct {
	Log            logr.Logger
	ReportCapacity int
}

func setHandlerOptionsDefaults(opts *HandlerOptions) {
	if opts.Log.GetSink() == nil {
		opts.Log = log.WithName("server")
	}
	if opts.ReportCapacity <= 0 {
		opts.ReportCapacity = defaultReportCapacity
	}
}

// NewHandler builds the scenario-run/report/health/metrics HTTP surface.
// ex runs scenarios; health probes pool connectivity.
func NewHandler(ex *executor.Executor, health healthcheck.HealthCheck, opts HandlerOptions) http.Handler {
	setHandlerOptionsDefaults(&opts)
	store := newReportStore(opts.ReportCapacity)

	r := chi.NewRouter()

	r.Use(httputils.InjectLogger(opts.Log))
	r.Use(httputils.LogRequest)

	r.Post("/scenarios/run", runScenarioHandler(ex, store))
	r.Get("/scenarios/{id}/report", getReportHandler(store))
	r.Get("/healthz", health.HealthCheckHandler)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

type runScenarioResponse struct {
	RunID  string                      `json:"run_id"`
	Report *executor.MultiTargetReport `json:"report"`
}

// runScenarioHandler decodes a posted scenario document (YAML by
// default, JSON when Content-Type says so), runs it synchronously
// through ex, and returns its report. The run is also kept in store for
// later retrieval by id.
func runScenarioHandler(ex *executor.Executor, store *reportStore) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		logger := logr.FromContextOrDiscard(req.Context())

		body, err := io.ReadAll(req.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}

		sc, err := decodeScenario(req.Header.Get("Content-Type"), body)
		if err != nil {
			logger.V(1).Error(err, "failed to decode scenario")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		report, err := ex.RunScenario(req.Context(), sc)
		if err != nil {
			logger.Error(err, "scenario run failed", "scenario", sc.Name)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		runID := uuid.NewString()
		store.put(runID, report)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(runScenarioResponse{RunID: runID, Report: report})
	}
}

func decodeScenario(contentType string, body []byte) (*scenario.Scenario, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/json" {
		return scenario.FromJSON(body)
	}
	return scenario.FromYAML(body)
}

func getReportHandler(store *reportStore) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		report, ok := store.get(id)
		if !ok {
			http.Error(w, "no report found for run id "+id, http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(report)
	}
}
