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

// Package metrics exports the controller's Prometheus KPIs: job count,
// actuator command latency/errors, hill-climb actions taken/regretted, and
// per-job throughput. Metrics are package-level globals registered once at
// init — there is only ever one controller process per binary, so a
// singleton registry costs nothing and keeps every call site a one-line
// Observe/Set.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsWatched = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lime_jobs_watched",
		Help: "Number of jobs currently watched by the session registry",
	})
	jobRate = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lime_job_rate_mbps",
		Help: "Most recently computed aggregate throughput for a watched job, in MB/s",
	}, []string{"job_id"})
	actuatorLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lime_actuator_command_seconds",
		Help:    "Actuator command round-trip latency by command name",
		Buckets: prometheus.DefBuckets,
	}, []string{"command"})
	actuatorErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lime_actuator_errors_total",
		Help: "Total actuator command failures by command name",
	}, []string{"command"})
	actionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lime_policy_actions_total",
		Help: "Total priority-policy actions committed, by kind",
	}, []string{"kind"})
	actionsRegrettedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lime_policy_actions_regretted_total",
		Help: "Total priority-policy actions that were regretted (rolled back)",
	})
)

func init() {
	prometheus.MustRegister(jobsWatched, jobRate, actuatorLatency, actuatorErrorsTotal, actionsTotal, actionsRegrettedTotal)
}

// SetJobsWatched records the current number of watched jobs.
func SetJobsWatched(n int) {
	jobsWatched.Set(float64(n))
}

// SetJobRate records jobID's latest aggregate throughput.
func SetJobRate(jobID string, rate float64) {
	jobRate.WithLabelValues(jobID).Set(rate)
}

// DeleteJobRate drops jobID's gauge series once it stops being watched, so
// the label cardinality tracks the live job set rather than growing forever.
func DeleteJobRate(jobID string) {
	jobRate.DeleteLabelValues(jobID)
}

// ObserveActuatorCommand records one actuator round trip's latency and, if
// err is non-nil, counts it as a failure for command.
func ObserveActuatorCommand(command string, d time.Duration, err error) {
	actuatorLatency.WithLabelValues(command).Observe(d.Seconds())
	if err != nil {
		actuatorErrorsTotal.WithLabelValues(command).Inc()
	}
}

// ObserveAction records one committed priority-policy action of the given
// kind ("increase-self", "decrease-self", "decrease-others").
func ObserveAction(kind string) {
	actionsTotal.WithLabelValues(kind).Inc()
}

// ObserveRegret records one priority-policy action that was rolled back.
func ObserveRegret() {
	actionsRegrettedTotal.Inc()
}

// Handler returns the promhttp handler for mounting on an existing mux.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ListenAndServe starts a dedicated /metrics endpoint on addr.
func ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return server.ListenAndServe()
}
