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

// Package session holds WatchedJobs, the thread-safe façade over every
// active job: watch/unwatch on behalf of consoles, metric routing, config
// application, and the once-a-second tick that broadcasts datapoints, reaps
// dead jobs, and runs one policy tune step.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DDNStorage/Lime/internal/qos/actuator"
	"github.com/DDNStorage/Lime/internal/qos/job"
	"github.com/DDNStorage/Lime/internal/qos/metrics"
	"github.com/DDNStorage/Lime/internal/qos/registry"
)

// Policy is the tune-step contract. Implemented by internal/qos/policy's
// IndependentPolicy and PriorityPolicy; declared here (rather than imported)
// so session never depends on policy, avoiding an import cycle.
type Policy interface {
	Name() string
	Tune(ctx context.Context, jobs *WatchedJobs)
}

type jobEntry struct {
	job  *job.WatchedJob
	subs map[Subscriber]bool
}

// WatchedJobs is the set of all jobs, keyed by job id, insertion-ordered,
// plus the active policy and a fake-I/O flag mirroring the actuator-side
// setting.
type WatchedJobs struct {
	mu sync.Mutex

	order []string
	jobs  map[string]*jobEntry
	// pendingTargets remembers an operator-declared target rate for a job id
	// that does not exist yet, so it takes effect the moment the job is
	// created by a later Watch call.
	pendingTargets map[string]int64

	registry *registry.Registry
	act      actuator.Client
	logger   *log.Logger

	policies      map[string]Policy
	currentPolicy Policy
	fakeIO        bool

	tickInterval    time.Duration
	actuatorTimeout time.Duration

	stopCh  chan struct{}
	wg      sync.WaitGroup
	stopped uint32
}

// New returns a WatchedJobs registry. policies must contain defaultPolicy.
func New(reg *registry.Registry, act actuator.Client, policies map[string]Policy, defaultPolicy string, tickInterval, actuatorTimeout time.Duration, logger *log.Logger) (*WatchedJobs, error) {
	p, ok := policies[defaultPolicy]
	if !ok {
		return nil, fmt.Errorf("session: unknown default policy %q", defaultPolicy)
	}
	return &WatchedJobs{
		jobs:            make(map[string]*jobEntry),
		pendingTargets:  make(map[string]int64),
		registry:        reg,
		act:             act,
		logger:          logger,
		policies:        policies,
		currentPolicy:   p,
		tickInterval:    tickInterval,
		actuatorTimeout: actuatorTimeout,
		stopCh:          make(chan struct{}),
	}, nil
}

func (w *WatchedJobs) logf(format string, args ...interface{}) {
	if w.logger != nil {
		w.logger.Printf(format, args...)
	}
}

// Watch registers sub as a watcher of jobID, creating the job (and starting
// its TBF rule at the fleet default) if this is its first subscriber. An
// actuator failure on the start-rule call is logged; the job is watched
// regardless.
func (w *WatchedJobs) Watch(ctx context.Context, jobID string, sub Subscriber) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.jobs[jobID]
	if !ok {
		wj := job.New(jobID, w.registry)
		if target, ok := w.pendingTargets[jobID]; ok {
			rl := target
			wj.RateLimit = &rl
		}
		actCtx, cancel := context.WithTimeout(ctx, w.actuatorTimeout)
		err := w.act.StartRule(actCtx, wj.RuleName, jobID, job.DefaultRateLimit)
		cancel()
		if err != nil {
			w.logf("session: start_rule job=%s: %v", jobID, err)
		}
		e = &jobEntry{job: wj, subs: make(map[Subscriber]bool)}
		w.jobs[jobID] = e
		w.order = append(w.order, jobID)
	}
	e.subs[sub] = true
	return nil
}

// Unwatch detaches sub from jobID. If the subscriber set becomes empty, the
// job's TBF rule is stopped and the job is dropped.
func (w *WatchedJobs) Unwatch(ctx context.Context, jobID string, sub Subscriber) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.unwatchLocked(ctx, jobID, sub)
}

func (w *WatchedJobs) unwatchLocked(ctx context.Context, jobID string, sub Subscriber) error {
	e, ok := w.jobs[jobID]
	if !ok {
		return nil
	}
	delete(e.subs, sub)
	if len(e.subs) > 0 {
		return nil
	}
	w.reapLocked(ctx, jobID, e)
	return nil
}

// reapLocked stops jobID's TBF rule and removes it from the registry. Caller
// must hold w.mu.
func (w *WatchedJobs) reapLocked(ctx context.Context, jobID string, e *jobEntry) {
	actCtx, cancel := context.WithTimeout(ctx, w.actuatorTimeout)
	if err := w.act.StopRule(actCtx, e.job.RuleName); err != nil {
		w.logf("session: stop_rule job=%s: %v", jobID, err)
	}
	cancel()
	delete(w.jobs, jobID)
	for i, id := range w.order {
		if id == jobID {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	metrics.DeleteJobRate(jobID)
}

// UnwatchAll detaches sub from every job it was watching. Used when a
// console connection closes, so a single dropped connection cannot leave
// stale watchers behind regardless of how many jobs it subscribed to.
func (w *WatchedJobs) UnwatchAll(ctx context.Context, sub Subscriber) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, jobID := range append([]string(nil), w.order...) {
		w.unwatchLocked(ctx, jobID, sub)
	}
}

// OnMetric routes one counter sample to the named job. If the job is not
// watched, the sample is dropped and ErrUnknownJob is returned.
func (w *WatchedJobs) OnMetric(serviceID, jobID string, ts float64, value int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.jobs[jobID]
	if !ok {
		return ErrUnknownJob
	}
	return e.job.Ingest(serviceID, ts, value)
}

// UpdateConfig applies an operator configuration: switches the active policy
// if the name differs, toggles fake I/O only on a flag transition, and
// records each job's declared target rate (applied immediately if the job
// exists, remembered for later otherwise).
func (w *WatchedJobs) UpdateConfig(ctx context.Context, cfg Config) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if cfg.PolicyName != "" && cfg.PolicyName != w.currentPolicy.Name() {
		if p, ok := w.policies[cfg.PolicyName]; ok {
			w.currentPolicy = p
		} else {
			return fmt.Errorf("session: unknown policy %q", cfg.PolicyName)
		}
	}

	if cfg.FakeIO != w.fakeIO {
		if err := w.toggleFakeIOLocked(ctx, cfg.FakeIO); err != nil {
			w.logf("session: fake_io toggle: %v", err)
		} else {
			w.fakeIO = cfg.FakeIO
		}
	}

	for _, jc := range cfg.Jobs {
		w.pendingTargets[jc.JobID] = jc.TargetRate
		if e, ok := w.jobs[jc.JobID]; ok {
			rl := jc.TargetRate
			e.job.RateLimit = &rl
		}
	}
	return nil
}

func (w *WatchedJobs) toggleFakeIOLocked(ctx context.Context, enable bool) error {
	actCtx, cancel := context.WithTimeout(ctx, w.actuatorTimeout)
	defer cancel()
	for _, host := range w.registry.OSTHosts() {
		var err error
		if enable {
			err = w.act.EnableFakeIO(actCtx, host)
		} else {
			err = w.act.ClearFakeIO(actCtx, host)
		}
		if err != nil {
			return fmt.Errorf("host %s: %w", host, err)
		}
	}
	return nil
}

// Snapshot returns a read-only view of every watched job, in insertion
// order, for the /status endpoint and for tests.
func (w *WatchedJobs) Snapshot() []JobSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]JobSnapshot, 0, len(w.order))
	for _, id := range w.order {
		e := w.jobs[id]
		out = append(out, JobSnapshot{
			JobID:            id,
			RuleName:         e.job.RuleName,
			Rate:             e.job.Rate,
			RateLimit:        e.job.RateLimit,
			CurrentRateLimit: e.job.CurrentRateLimit,
			Hosts:            e.job.HostNames(),
			Subscribers:      len(e.subs),
		})
	}
	return out
}

// tick runs one broadcast+reap+tune pass under the lock.
func (w *WatchedJobs) tick(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := float64(time.Now().UnixNano()) / 1e9
	order := append([]string(nil), w.order...)
	for _, id := range order {
		e, ok := w.jobs[id]
		if !ok {
			continue
		}
		rate := e.job.RecomputeRate()
		metrics.SetJobRate(id, rate)
		dp := Datapoint{Type: "datapoint", Time: now, Rate: rate, JobID: id}
		for sub := range e.subs {
			if err := sub.Send(dp); err != nil {
				delete(e.subs, sub)
			}
		}
		if len(e.subs) == 0 {
			w.reapLocked(ctx, id, e)
		}
	}

	metrics.SetJobsWatched(len(w.order))

	if w.currentPolicy != nil {
		w.currentPolicy.Tune(ctx, w)
	}
}

// Jobs returns every watched job in insertion (priority) order. It must only
// be called from within a Policy's Tune method, while the tick loop already
// holds the lock protecting this state.
func (w *WatchedJobs) Jobs() []*job.WatchedJob {
	out := make([]*job.WatchedJob, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.jobs[id].job)
	}
	return out
}

// JobByID returns the job with the given id, or nil. Same calling
// restriction as Jobs.
func (w *WatchedJobs) JobByID(id string) *job.WatchedJob {
	e, ok := w.jobs[id]
	if !ok {
		return nil
	}
	return e.job
}

// Actuator returns the fleet command client, for policies to issue commands
// during Tune.
func (w *WatchedJobs) Actuator() actuator.Client {
	return w.act
}

// ActuatorContext returns a context with the configured per-call actuator
// timeout, derived from ctx, for a policy to use around a single command.
func (w *WatchedJobs) ActuatorContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, w.actuatorTimeout)
}

// Start launches the tick loop goroutine.
func (w *WatchedJobs) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.tick(context.Background())
			case <-w.stopCh:
				return
			}
		}
	}()
}

// Stop halts the tick loop. Idempotent.
func (w *WatchedJobs) Stop() {
	if !atomic.CompareAndSwapUint32(&w.stopped, 0, 1) {
		return
	}
	close(w.stopCh)
	w.wg.Wait()
}
