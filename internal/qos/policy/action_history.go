package policy

import "github.com/DDNStorage/Lime/internal/qos/job"

// kind is the sub-action a priority-policy step chose.
type kind string

const (
	kindIncreaseSelf   kind = "increase-self"
	kindDecreaseSelf   kind = "decrease-self"
	kindDecreaseOthers kind = "decrease-others"
)

// expected is the direction the subject's rate should move if the action
// succeeds.
type expected string

const (
	expectRise    expected = "rise"
	expectDecline expected = "decline"
)

// stage tracks an ActionHistory through its evaluation.
type stage string

const (
	stageOrigin    stage = "origin"
	stageActed     stage = "acted"
	stageRegretted stage = "regretted"
	stageDone      stage = "done"
)

// ActionHistory records one attempted tune action: the job whose rate
// prompted it, the job whose limit actually changed (possibly the same),
// the host, the limit before/after, and three rate snapshots used to decide
// whether the action helped, hurt, or did nothing.
type ActionHistory struct {
	Subject     string
	Actor       string
	Host        string
	LimitBefore int64
	LimitAfter  int64
	Kind        kind
	Expected    expected
	Stage       stage
	FailureTime int
	ActionGood  *bool

	// RatesOriginal/RatesAfterAction/RatesAfterRegret hold, for each
	// snapshot point, the rate of every job at or above the subject's
	// priority plus the actor's rate (if the actor differs from the
	// subject) — exactly the set the evaluation checks below need.
	RatesOriginal     map[string]float64
	RatesAfterAction  map[string]float64
	RatesAfterRegret  map[string]float64
}

var minRateLimitHalf = float64(job.MinRateLimit) / 2

func (h *ActionHistory) priorDeclined() bool {
	for id, before := range h.RatesOriginal {
		if id == h.Subject || id == h.Actor {
			continue
		}
		after, ok := h.RatesAfterAction[id]
		if !ok {
			continue
		}
		if before-after > minRateLimitHalf {
			return true
		}
	}
	return false
}

func (h *ActionHistory) actedDeclined() bool {
	before, ok := h.RatesOriginal[h.Actor]
	if !ok {
		return false
	}
	after, ok := h.RatesAfterAction[h.Actor]
	if !ok {
		return false
	}
	return before-after > minRateLimitHalf
}

func (h *ActionHistory) selfBenefit() bool {
	before := h.RatesOriginal[h.Subject]
	after, ok := h.RatesAfterAction[h.Subject]
	if !ok {
		return false
	}
	if h.Expected == expectRise {
		return after-before >= float64(job.MinRateLimit)
	}
	return before-after >= float64(job.MinRateLimit)
}

// priorRecovered reports whether every strictly-higher-priority job that was
// part of this snapshot has returned to within MinRateLimit of its original
// rate after the regret.
func (h *ActionHistory) priorRecovered() bool {
	for id, before := range h.RatesOriginal {
		if id == h.Subject || id == h.Actor {
			continue
		}
		after, ok := h.RatesAfterRegret[id]
		if !ok {
			continue
		}
		if before-after > float64(job.MinRateLimit) {
			return false
		}
	}
	return true
}
