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

// Package policy implements the two rate policies: independent (stateless,
// per-job deadband control) and priority (a stateful hill climb with regret
// across the insertion-ordered job list).
package policy

import (
	"context"

	"github.com/DDNStorage/Lime/internal/qos/job"
	"github.com/DDNStorage/Lime/internal/qos/session"
)

// IndependentPolicy tunes every job in isolation: redistribute evenly on a
// config change, then hold a 10% deadband around the declared rate.
type IndependentPolicy struct{}

func (IndependentPolicy) Name() string { return "independent" }

func (p IndependentPolicy) Tune(ctx context.Context, jobs *session.WatchedJobs) {
	for _, wj := range jobs.Jobs() {
		tuneOne(ctx, jobs, wj)
	}
}

func tuneOne(ctx context.Context, jobs *session.WatchedJobs, wj *job.WatchedJob) {
	if wj.RateLimit == nil {
		resetToDefault(ctx, jobs, wj)
		return
	}
	if wj.CurrentRateLimit == nil || *wj.CurrentRateLimit != *wj.RateLimit {
		redistribute(ctx, jobs, wj)
		return
	}
	if wj.Rate > float64(*wj.RateLimit)*1.1 {
		actCtx, cancel := jobs.ActuatorContext(ctx)
		_ = wj.DecreaseHighestHost(actCtx, jobs.Actuator(), wj.Rate-float64(*wj.RateLimit))
		cancel()
		return
	}
	if wj.Rate < float64(*wj.RateLimit)*0.9 {
		actCtx, cancel := jobs.ActuatorContext(ctx)
		_ = wj.IncreaseLowestHost(actCtx, jobs.Actuator())
		cancel()
	}
}

// resetToDefault pushes every host of wj back to DefaultRateLimit; used once
// an operator clears a job's declared limit.
func resetToDefault(ctx context.Context, jobs *session.WatchedJobs, wj *job.WatchedJob) {
	for _, h := range wj.Hosts() {
		if h.RateLimit == job.DefaultRateLimit {
			continue
		}
		actCtx, cancel := jobs.ActuatorContext(ctx)
		_ = h.ChangeRate(actCtx, jobs.Actuator(), wj.RuleName, job.DefaultRateLimit)
		cancel()
	}
}

// redistribute is the bulk reconfiguration path: split the declared limit
// evenly across wj's hosts and push it to every one of them.
func redistribute(ctx context.Context, jobs *session.WatchedJobs, wj *job.WatchedJob) {
	hosts := wj.Hosts()
	if len(hosts) == 0 {
		return
	}
	perHost := *wj.RateLimit / int64(len(hosts))
	if perHost > job.DefaultRateLimit {
		perHost = job.DefaultRateLimit
	}
	for _, h := range hosts {
		actCtx, cancel := jobs.ActuatorContext(ctx)
		_ = h.ChangeRate(actCtx, jobs.Actuator(), wj.RuleName, perHost)
		cancel()
	}
	cur := *wj.RateLimit
	wj.CurrentRateLimit = &cur
}
