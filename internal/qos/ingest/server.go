// Copyright 2025 DataDirect Networks, Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ingest implements the HTTP metric collector that feeds the
// controller: the collectd write_http plugin on every OSS POSTs samples here.
package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// MetricFeed is the subset of the session registry the ingest handler
// depends on. Implemented by *session.WatchedJobs.
type MetricFeed interface {
	OnMetric(serviceID, jobID string, ts float64, value int64) error
}

// sample is one element of the collectd write_http JSON payload.
type sample struct {
	Meta struct {
		TsdbName string `json:"tsdb_name"`
		TsdbTags string `json:"tsdb_tags"`
	} `json:"meta"`
	Values []float64 `json:"values"`
	Time   float64   `json:"time"`
}

// Server handles the /metric_post ingest endpoint.
type Server struct {
	feed   MetricFeed
	logger *log.Logger
}

// NewServer returns an ingest server backed by feed. logger may be nil to
// discard log output.
func NewServer(feed MetricFeed, logger *log.Logger) *Server {
	return &Server{feed: feed, logger: logger}
}

func (s *Server) logf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// RegisterRoutes wires the ingest endpoint onto mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/metric_post", s.handleMetricPost)
}

// handleMetricPost decodes a JSON array of samples, routes every
// ost_jobstats_samples/sum_write_bytes entry to the session registry, and
// answers 200 "Succeeded" whenever the request body can be read (400
// otherwise) — malformed or unmatched entries are silently skipped rather
// than rejected, so one bad sample in a batch never drops the rest.
func (s *Server) handleMetricPost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "could not read body", http.StatusBadRequest)
		return
	}

	var samples []sample
	if err := json.Unmarshal(body, &samples); err != nil {
		s.logf("ingest: malformed payload: %v", err)
		s.respondSucceeded(w)
		return
	}

	for _, sm := range samples {
		s.route(sm)
	}
	s.respondSucceeded(w)
}

func (s *Server) respondSucceeded(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "Succeeded")
}

func (s *Server) route(sm sample) {
	if sm.Meta.TsdbName != "ost_jobstats_samples" {
		return
	}
	tags, ok := parseTags(sm.Meta.TsdbTags)
	if !ok {
		s.logf("ingest: malformed tsdb_tags %q, skipping entry", sm.Meta.TsdbTags)
		return
	}
	if tags["optype"] != "sum_write_bytes" {
		return
	}
	ostIndex, jobID := tags["ost_index"], tags["job_id"]
	if ostIndex == "" || jobID == "" {
		s.logf("ingest: missing ost_index/job_id in tags %q, skipping entry", sm.Meta.TsdbTags)
		return
	}
	if len(sm.Values) == 0 {
		return
	}

	value := int64(sm.Values[0])
	if err := s.feed.OnMetric(ostIndex, jobID, sm.Time, value); err != nil {
		s.logf("ingest: service=%s job=%s: %v", ostIndex, jobID, err)
	}
}

// parseTags splits a whitespace-separated key=value tag string. Any token
// that doesn't contain exactly one '=' invalidates the whole string, per the
// original collectd plugin's all-or-nothing tag parsing.
func parseTags(raw string) (map[string]string, bool) {
	out := make(map[string]string)
	for _, tok := range strings.Fields(raw) {
		pair := strings.Split(tok, "=")
		if len(pair) != 2 || pair[0] == "" {
			return nil, false
		}
		out[pair[0]] = pair[1]
	}
	return out, true
}

// ListenAndServe starts the ingest HTTP server on addr with conservative
// read/write/idle timeouts.
func (s *Server) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return httpServer.ListenAndServe()
}
