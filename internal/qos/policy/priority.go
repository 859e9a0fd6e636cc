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

package policy

import (
	"context"
	"log"
	"math/rand"

	"github.com/DDNStorage/Lime/internal/qos/job"
	"github.com/DDNStorage/Lime/internal/qos/metrics"
	"github.com/DDNStorage/Lime/internal/qos/session"
)

// maxFailures bounds how many consecutive unsuccessful evaluations a
// resumed search for the same subject tolerates before the policy moves on.
const maxFailures = 3

// tuneInterval gates the whole policy step — config takeover, continuing a
// pending evaluation, and starting a new action alike — to every other tick,
// so each evaluation spans exactly two ticks: one to act, one to observe.
const tuneInterval = 2

// PriorityPolicy is a one-action-at-a-time hill climb over the
// insertion-ordered job list: it proposes a bounded rate change, observes its
// effect at the next step (tuneInterval ticks later), and regrets it if it harmed a higher-priority
// job or failed to help the job that prompted it.
type PriorityPolicy struct {
	rng    *rand.Rand
	logger *log.Logger

	lastAction    *ActionHistory
	lastSubjectID string
	tickCount     int

	preferenceMemory map[string]prefRecord
}

// NewPriorityPolicy returns a priority policy. rng may be nil, in which case
// host shuffling falls back to insertion order (useful for deterministic
// tests); logger may be nil to discard log output.
func NewPriorityPolicy(rng *rand.Rand, logger *log.Logger) *PriorityPolicy {
	return &PriorityPolicy{
		rng:              rng,
		logger:           logger,
		preferenceMemory: make(map[string]prefRecord),
	}
}

func (p *PriorityPolicy) Name() string { return "priority" }

func (p *PriorityPolicy) logf(format string, args ...interface{}) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}

// Tune runs one step every tuneInterval ticks: config takeover always wins;
// otherwise continue a pending action, or start a new one.
func (p *PriorityPolicy) Tune(ctx context.Context, jobs *session.WatchedJobs) {
	p.tickCount++
	if p.tickCount < tuneInterval {
		return
	}
	p.tickCount = 0

	if p.configTakeover(ctx, jobs) {
		return
	}
	if p.lastAction != nil {
		p.process(ctx, jobs)
		return
	}
	p.startNewAction(ctx, jobs)
}

// configTakeover applies the independent policy's redistribution to every
// job whose current_rate_limit no longer matches its declared rate_limit,
// and clears any in-flight search. Operator intent always wins.
func (p *PriorityPolicy) configTakeover(ctx context.Context, jobs *session.WatchedJobs) bool {
	changed := false
	for _, wj := range jobs.Jobs() {
		if wj.RateLimit == nil {
			continue
		}
		if wj.CurrentRateLimit != nil && *wj.CurrentRateLimit == *wj.RateLimit {
			continue
		}
		redistribute(ctx, jobs, wj)
		changed = true
	}
	if changed {
		p.lastAction = nil
	}
	return changed
}

func indexOfJob(jobs []*job.WatchedJob, id string) int {
	for i, wj := range jobs {
		if wj.JobID == id {
			return i
		}
	}
	return -1
}

// startNewAction iterates jobs in insertion order starting after the
// previous subject (round-robin, wrapping to the head when that subject is
// gone), committing the first startable action it finds.
func (p *PriorityPolicy) startNewAction(ctx context.Context, jobs *session.WatchedJobs) {
	list := jobs.Jobs()
	if len(list) == 0 {
		return
	}
	start := 0
	if idx := indexOfJob(list, p.lastSubjectID); idx >= 0 {
		start = (idx + 1) % len(list)
	}
	for i := 0; i < len(list); i++ {
		subject := list[(start+i)%len(list)]
		a := p.chooseAction(list, subject)
		if a == nil {
			continue
		}
		if p.commit(ctx, jobs, a, 0) {
			p.lastSubjectID = subject.JobID
			return
		}
	}
}

type proposedAction struct {
	subject     string
	actor       string
	host        string
	kind        kind
	expected    expected
	limitBefore int64
	limitAfter  int64
}

// chooseAction picks the action a step would take for subject, or nil if
// none applies.
func (p *PriorityPolicy) chooseAction(list []*job.WatchedJob, subject *job.WatchedJob) *proposedAction {
	if subject.RateLimit != nil && subject.Rate > float64(*subject.RateLimit)*1.1 {
		return p.tryDecreaseSelf(subject)
	}
	if subject.RateLimit == nil || subject.Rate < float64(*subject.RateLimit)*0.9 {
		prev, hasPrev := p.preferenceMemory[subject.JobID]
		for _, k := range preferenceOrder(prev, hasPrev) {
			var a *proposedAction
			if k == kindIncreaseSelf {
				a = p.tryIncreaseSelf(subject)
			} else {
				a = p.tryDecreaseOthers(list, subject)
			}
			if a != nil {
				return a
			}
		}
	}
	return nil
}

func (p *PriorityPolicy) tryDecreaseSelf(subject *job.WatchedJob) *proposedAction {
	h := subject.HostWithHighestThroughput()
	if h == nil || h.Rate < float64(job.MinRateLimit) {
		return nil
	}
	diff := subject.Rate - float64(*subject.RateLimit)
	limitAfter := int64(h.Rate - diff)
	if limitAfter < job.MinRateLimit {
		limitAfter = job.MinRateLimit
	}
	return &proposedAction{
		subject: subject.JobID, actor: subject.JobID, host: h.Host.Name,
		kind: kindDecreaseSelf, expected: expectDecline,
		limitBefore: h.RateLimit, limitAfter: limitAfter,
	}
}

func (p *PriorityPolicy) tryIncreaseSelf(subject *job.WatchedJob) *proposedAction {
	for _, h := range subject.HostsShuffled(p.rng) {
		if h.RateLimit >= job.DefaultRateLimit {
			continue
		}
		newLimit := h.RateLimit + 2*job.MinRateLimit
		if newLimit > job.DefaultRateLimit {
			newLimit = job.DefaultRateLimit
		}
		return &proposedAction{
			subject: subject.JobID, actor: subject.JobID, host: h.Host.Name,
			kind: kindIncreaseSelf, expected: expectRise,
			limitBefore: h.RateLimit, limitAfter: newLimit,
		}
	}
	return nil
}

// tryDecreaseOthers looks, on every host where subject is active, for the
// lower-priority job with the highest rate on that host, then picks the
// single globally-best such candidate across all of subject's hosts.
func (p *PriorityPolicy) tryDecreaseOthers(list []*job.WatchedJob, subject *job.WatchedJob) *proposedAction {
	subjIdx := indexOfJob(list, subject.JobID)
	if subjIdx < 0 {
		return nil
	}
	var bestJob *job.WatchedJob
	var bestHost *job.HostForJob
	var bestRate float64

	for _, h := range subject.Hosts() {
		for i := subjIdx + 1; i < len(list); i++ {
			lower := list[i]
			lh := lower.HostByName(h.Host.Name)
			if lh == nil || lh.Rate <= 0 {
				continue
			}
			if bestHost == nil || lh.Rate > bestRate {
				bestJob, bestHost, bestRate = lower, lh, lh.Rate
			}
		}
	}
	if bestHost == nil {
		return nil
	}
	return &proposedAction{
		subject: subject.JobID, actor: bestJob.JobID, host: bestHost.Host.Name,
		kind: kindDecreaseOthers, expected: expectRise,
		limitBefore: bestHost.RateLimit, limitAfter: job.MinRateLimit,
	}
}

// commit issues the actuator command for a, taking the "before" snapshot
// first. On actuator failure the attempt is unwound: no ActionHistory is
// recorded, so the caller can try another candidate. failureTime carries a
// resumed search's counter into the new ActionHistory.
func (p *PriorityPolicy) commit(ctx context.Context, jobs *session.WatchedJobs, a *proposedAction, failureTime int) bool {
	actorJob := jobs.JobByID(a.actor)
	if actorJob == nil {
		return false
	}
	hostRec := actorJob.HostByName(a.host)
	if hostRec == nil {
		return false
	}

	h := &ActionHistory{
		Subject: a.subject, Actor: a.actor, Host: a.host,
		LimitBefore: a.limitBefore, LimitAfter: a.limitAfter,
		Kind: a.kind, Expected: a.expected, Stage: stageOrigin,
		FailureTime: failureTime,
	}
	h.RatesOriginal = snapshotRates(jobs, a.subject, a.actor)

	actCtx, cancel := jobs.ActuatorContext(ctx)
	err := hostRec.ChangeRate(actCtx, jobs.Actuator(), actorJob.RuleName, a.limitAfter)
	cancel()
	if err != nil {
		p.logf("priority: change_rate actor=%s host=%s: %v", a.actor, a.host, err)
		return false
	}
	h.Stage = stageActed
	p.lastAction = h
	metrics.ObserveAction(string(h.Kind))
	return true
}

// snapshotRates captures the rate of every job at or above subjectID's
// priority, plus actorID's rate if it differs from subjectID.
func snapshotRates(jobs *session.WatchedJobs, subjectID, actorID string) map[string]float64 {
	list := jobs.Jobs()
	subjIdx := indexOfJob(list, subjectID)
	out := make(map[string]float64, subjIdx+2)
	for i := 0; i <= subjIdx && i < len(list); i++ {
		out[list[i].JobID] = list[i].Rate
	}
	if actorID != subjectID {
		if aj := jobs.JobByID(actorID); aj != nil {
			out[actorID] = aj.Rate
		}
	}
	return out
}

// process advances the in-flight ActionHistory one tick: acted -> (done |
// regretted), or regretted -> done. When an evaluation completes, it records
// the preference memory for this subject and, if failure_time is still
// within budget, immediately starts a resumed search for the same subject.
func (p *PriorityPolicy) process(ctx context.Context, jobs *session.WatchedJobs) {
	h := p.lastAction

	switch h.Stage {
	case stageActed:
		h.RatesAfterAction = snapshotRates(jobs, h.Subject, h.Actor)
		switch {
		case h.priorDeclined() || (!h.selfBenefit() && h.actedDeclined()):
			h.FailureTime++
			p.regret(ctx, jobs, h)
			good := false
			h.ActionGood = &good
			h.Stage = stageRegretted
		case !h.selfBenefit():
			h.FailureTime++
			good := false
			h.ActionGood = &good
			h.Stage = stageDone
		default:
			good := true
			h.ActionGood = &good
			h.Stage = stageDone
		}
	case stageRegretted:
		h.RatesAfterRegret = snapshotRates(jobs, h.Subject, h.Actor)
		if !h.priorRecovered() {
			p.logf("priority: regret insufficient subject=%s actor=%s host=%s", h.Subject, h.Actor, h.Host)
		}
		h.Stage = stageDone
	}

	if h.Stage != stageDone {
		return
	}

	p.preferenceMemory[h.Subject] = prefRecord{kind: h.Kind, good: h.ActionGood != nil && *h.ActionGood}

	if h.FailureTime <= maxFailures {
		if subject := jobs.JobByID(h.Subject); subject != nil {
			if a := p.chooseAction(jobs.Jobs(), subject); a != nil {
				if p.commit(ctx, jobs, a, h.FailureTime) {
					return
				}
			}
		}
	}
	p.lastAction = nil
}

// regret programs the actor's host back to its pre-action limit.
func (p *PriorityPolicy) regret(ctx context.Context, jobs *session.WatchedJobs, h *ActionHistory) {
	actorJob := jobs.JobByID(h.Actor)
	if actorJob == nil {
		return
	}
	hostRec := actorJob.HostByName(h.Host)
	if hostRec == nil {
		return
	}
	actCtx, cancel := jobs.ActuatorContext(ctx)
	defer cancel()
	if err := hostRec.ChangeRate(actCtx, jobs.Actuator(), actorJob.RuleName, h.LimitBefore); err != nil {
		p.logf("priority: regret change_rate actor=%s host=%s: %v", h.Actor, h.Host, err)
	}
	metrics.ObserveRegret()
}
