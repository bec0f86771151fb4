// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

// Package api exposes the engine over HTTP: the Checkmk output stream, a
// health endpoint and two JSON debug endpoints backed by executor statistics.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/pitkley/watchpost/pkg/engine"
	"github.com/pitkley/watchpost/pkg/executor"
	"github.com/pitkley/watchpost/pkg/output"
	"github.com/pitkley/watchpost/pkg/util/log"
)

// NewRouter builds the HTTP routes over the given engine.
func NewRouter(e *engine.Engine) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", handleOutput(e)).Methods("GET")
	r.HandleFunc("/healthcheck", handleHealthcheck).Methods("GET")
	r.HandleFunc("/executor/statistics", handleStatistics(e)).Methods("GET")
	r.HandleFunc("/executor/errored", handleErrored(e)).Methods("GET")
	return r
}

// NewServer wraps the router in an http.Server bound to addr.
func NewServer(addr string, e *engine.Engine) *http.Server {
	return &http.Server{
		Addr:    addr,
		Handler: NewRouter(e),

		ReadHeaderTimeout: 10 * time.Second,
	}
}

// handleOutput runs one full poll and streams the piggyback output. Check
// failures are encoded in the body as UNKNOWN services, so the status is 200
// whenever the poll itself completes.
func handleOutput(e *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results, err := e.Run(r.Context())
		if err != nil {
			// the client went away mid-poll; in-flight checks finish on
			// their own and populate the cache for the next poll
			log.Debugf("Aborted poll: %v", err)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := output.Write(w, results); err != nil {
			log.Debugf("Aborted output stream: %v", err)
		}
	}
}

func handleHealthcheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func handleStatistics(e *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, e.ExecutorStatistics())
	}
}

func handleErrored(e *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		errored := e.ExecutorErrored()
		if errored == nil {
			// an empty JSON array, not null
			errored = []executor.ErrorRecord{}
		}
		writeJSON(w, errored)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("Unable to encode response: %v", err) //nolint:errcheck
	}
}
