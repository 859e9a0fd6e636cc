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

// Command limed is the per-job I/O QoS controller daemon: it bootstraps the
// fleet, ingests jobstats metrics, runs the active tuning policy once a
// second, and serves the operator console over a websocket.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DDNStorage/Lime/internal/qos/actuator"
	"github.com/DDNStorage/Lime/internal/qos/config"
	"github.com/DDNStorage/Lime/internal/qos/console"
	"github.com/DDNStorage/Lime/internal/qos/ingest"
	"github.com/DDNStorage/Lime/internal/qos/metrics"
	"github.com/DDNStorage/Lime/internal/qos/policy"
	"github.com/DDNStorage/Lime/internal/qos/registry"
	"github.com/DDNStorage/Lime/internal/qos/session"
)

func main() {
	configPath := flag.String("config", "/etc/lime/cluster.json", "Path to the static cluster bootstrap file")
	httpAddr := flag.String("http_addr", ":8080", "HTTP listen address for /metric_post, /console_websocket and /status")
	metricsAddr := flag.String("metrics_addr", "", "If non-empty, expose Prometheus /metrics on this address (e.g. :9090)")
	actuatorMode := flag.String("actuator", "ssh", "Fleet actuator backend: ssh|fake|noop")
	redisAddr := flag.String("redis_addr", "", "If non-empty, mirror every programmed rate limit to this Redis address")
	defaultPolicy := flag.String("policy", "priority", "Default tuning policy: independent|priority")
	tickInterval := flag.Duration("tick_interval", time.Second, "How often the tick loop broadcasts datapoints and runs one tune step")
	actuatorTimeout := flag.Duration("actuator_timeout", 5*time.Second, "Per-command timeout applied to every actuator call")
	skipBootstrap := flag.Bool("skip_bootstrap", false, "Skip the static cluster bootstrap sequence (for demos against an already-configured fleet)")
	flag.Parse()

	logger := log.New(os.Stderr, "limed: ", log.LstdFlags)

	cluster, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	reg := registry.New()

	act, err := config.BuildActuator(*actuatorMode, cluster.SSHIdentityFile, reg.OSTHosts, *redisAddr, logger)
	if err != nil {
		logger.Fatalf("build actuator: %v", err)
	}
	act = actuator.Instrument(act)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !*skipBootstrap {
		if err := config.Bootstrap(ctx, cluster, reg, act); err != nil {
			// Startup actuator failure is fatal: the controller must not run
			// a tick loop against a fleet it failed to configure.
			logger.Fatalf("bootstrap: %v", err)
		}
	} else if err := reg.Detect(ctx, act, cluster.HostNames()); err != nil {
		logger.Fatalf("detect services: %v", err)
	}

	policies := map[string]session.Policy{
		"independent": policy.IndependentPolicy{},
		"priority":    policy.NewPriorityPolicy(rand.New(rand.NewSource(time.Now().UnixNano())), logger),
	}
	policyName := cluster.Policy
	if policyName == "" {
		policyName = *defaultPolicy
	}

	jobs, err := session.New(reg, act, policies, policyName, *tickInterval, *actuatorTimeout, logger)
	if err != nil {
		logger.Fatalf("new session: %v", err)
	}
	jobs.Start()

	mux := http.NewServeMux()
	ingest.NewServer(jobs, logger).RegisterRoutes(mux)
	console.NewServer(jobs, logger).RegisterRoutes(mux)
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(jobs.Snapshot()); err != nil {
			logger.Printf("status: encode: %v", err)
		}
	})

	httpServer := &http.Server{
		Addr:         *httpAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", *httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen on %s: %v", *httpAddr, err)
		}
	}()

	if *metricsAddr != "" {
		go func() {
			logger.Printf("metrics listening on %s", *metricsAddr)
			if err := metrics.ListenAndServe(*metricsAddr); err != nil && err != http.ErrServerClosed {
				logger.Printf("metrics server: %v", err)
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Print("shutting down")

	jobs.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("http shutdown: %v", err)
	}
	logger.Print("stopped")
}
