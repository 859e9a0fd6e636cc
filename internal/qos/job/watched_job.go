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

// Package job holds the per-job aggregation state: the set of hosts and
// services contributing to a job's throughput, and the self-tuning helpers
// the independent rate policy uses to shrink or grow a job's footprint.
package job

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/DDNStorage/Lime/internal/qos/estimator"
	"github.com/DDNStorage/Lime/internal/qos/registry"
)

// HostLookup resolves a service id to the host currently running it.
// Implemented by *registry.Registry.
type HostLookup interface {
	HostOf(serviceID string) (*registry.Host, error)
}

// WatchedJob is the per-job aggregation state described in spec.md §3.
type WatchedJob struct {
	JobID    string
	RuleName string

	// RateLimit is the operator-declared target, or nil if unset.
	RateLimit *int64
	// CurrentRateLimit is the limit last fanned out to the fleet; compared
	// against RateLimit to detect a pending configuration change.
	CurrentRateLimit *int64
	// Rate is the aggregate throughput computed by the most recent
	// RecomputeRate call.
	Rate float64

	hostOrder []string
	hosts     map[string]*HostForJob
	services  map[string]*estimator.ServiceForJob

	lookup HostLookup
}

// New creates a WatchedJob for jobID. lookup resolves service ids to hosts as
// samples arrive.
func New(jobID string, lookup HostLookup) *WatchedJob {
	return &WatchedJob{
		JobID:    jobID,
		RuleName: EscapeRuleName(jobID),
		hosts:    make(map[string]*HostForJob),
		services: make(map[string]*estimator.ServiceForJob),
		lookup:   lookup,
	}
}

// Ingest attaches a new counter sample to the (service, job) pair, creating
// the ServiceForJob and its owning HostForJob on first sight.
func (w *WatchedJob) Ingest(serviceID string, ts float64, value int64) error {
	svc, ok := w.services[serviceID]
	if !ok {
		host, err := w.lookup.HostOf(serviceID)
		if err != nil {
			return fmt.Errorf("job %q: %w", w.JobID, err)
		}
		hfj, ok := w.hosts[host.Name]
		if !ok {
			hfj = newHostForJob(host)
			w.hosts[host.Name] = hfj
			w.hostOrder = append(w.hostOrder, host.Name)
		}
		svc = estimator.New()
		hfj.Services[serviceID] = svc
		w.services[serviceID] = svc
	}
	svc.Add(ts, value)
	return nil
}

// RecomputeRate zeroes every host's rollup, walks every service, and returns
// the fresh job total. Unknown per-service rates contribute zero.
func (w *WatchedJob) RecomputeRate() float64 {
	var total float64
	for _, hostname := range w.hostOrder {
		hfj := w.hosts[hostname]
		hfj.Rate = 0
		for _, svc := range hfj.Services {
			if rate, known := svc.Rate(); known {
				hfj.Rate += rate
				total += rate
			}
		}
	}
	w.Rate = total
	return total
}

// Hosts returns the job's hosts in insertion order.
func (w *WatchedJob) Hosts() []*HostForJob {
	out := make([]*HostForJob, 0, len(w.hostOrder))
	for _, name := range w.hostOrder {
		out = append(out, w.hosts[name])
	}
	return out
}

// HostNames returns the job's host names in insertion order.
func (w *WatchedJob) HostNames() []string {
	out := make([]string, len(w.hostOrder))
	copy(out, w.hostOrder)
	return out
}

// HostByName returns the HostForJob for hostname, or nil if the job is not
// active on that host.
func (w *WatchedJob) HostByName(hostname string) *HostForJob {
	return w.hosts[hostname]
}

// HostWithHighestLimit returns the host with the highest programmed rate
// limit, ties broken by first-found in insertion order.
func (w *WatchedJob) HostWithHighestLimit() *HostForJob {
	var selected *HostForJob
	for _, name := range w.hostOrder {
		h := w.hosts[name]
		if selected == nil || h.RateLimit > selected.RateLimit {
			selected = h
		}
	}
	return selected
}

// HostWithHighestThroughput returns the host with the highest observed rate,
// ties broken by first-found in insertion order.
func (w *WatchedJob) HostWithHighestThroughput() *HostForJob {
	var selected *HostForJob
	for _, name := range w.hostOrder {
		h := w.hosts[name]
		if selected == nil || h.Rate > selected.Rate {
			selected = h
		}
	}
	return selected
}

// HostsShuffled returns all hosts in randomized order, spreading increase-self
// attempts evenly. r may be nil, in which case insertion order is used
// (useful for deterministic tests).
func (w *WatchedJob) HostsShuffled(r *rand.Rand) []*HostForJob {
	hosts := w.Hosts()
	if r == nil {
		return hosts
	}
	r.Shuffle(len(hosts), func(i, j int) { hosts[i], hosts[j] = hosts[j], hosts[i] })
	return hosts
}

// DecreaseHighestHost picks the host with the highest programmed limit and
// lowers it by diff (clamped at MinRateLimit). If the host's limit exceeds its
// observed rate by more than 10%, the limit first collapses to the observed
// rate, skipping past irrelevant headroom before subtracting diff.
func (w *WatchedJob) DecreaseHighestHost(ctx context.Context, actuator RateChanger, diff float64) error {
	selected := w.HostWithHighestLimit()
	if selected == nil {
		return fmt.Errorf("job %q: no host to decrease rate on", w.JobID)
	}
	limit := selected.RateLimit
	if float64(limit) > selected.Rate*1.1 {
		limit = int64(selected.Rate)
	}
	newLimit := limit - int64(diff)
	if newLimit < MinRateLimit {
		newLimit = MinRateLimit
	}
	return selected.ChangeRate(ctx, actuator, w.RuleName, newLimit)
}

// IncreaseLowestHost picks the lowest-limit host (among those below
// DefaultRateLimit) and raises it by the job's current deficit
// (RateLimit - Rate), clamped at DefaultRateLimit.
func (w *WatchedJob) IncreaseLowestHost(ctx context.Context, actuator RateChanger) error {
	var selected *HostForJob
	for _, name := range w.hostOrder {
		h := w.hosts[name]
		if h.RateLimit >= DefaultRateLimit {
			continue
		}
		if selected == nil || h.RateLimit < selected.RateLimit {
			selected = h
		}
	}
	if selected == nil {
		return fmt.Errorf("job %q: no host to increase rate on", w.JobID)
	}
	if w.RateLimit == nil {
		return fmt.Errorf("job %q: no declared rate limit to increase towards", w.JobID)
	}
	diff := float64(*w.RateLimit) - w.Rate
	newLimit := selected.RateLimit + int64(diff)
	if newLimit > DefaultRateLimit {
		newLimit = DefaultRateLimit
	}
	return selected.ChangeRate(ctx, actuator, w.RuleName, newLimit)
}
