package session

import "errors"

// ErrUnknownJob is returned by OnMetric when the sample's job_id has no
// active watcher; the sample is dropped, which is the normal outcome once a
// console unwatches a job mid-tick.
var ErrUnknownJob = errors.New("session: unknown job")

// JobConfig is one entry of an UpdateConfig request: an operator-declared
// target rate for a single job. A non-integer wire value is coerced by
// truncation before it reaches here.
type JobConfig struct {
	JobID      string
	TargetRate int64
}

// Config is the full operator configuration payload, carried both by the
// static bootstrap file and by every subsequent console message.
type Config struct {
	PolicyName string
	FakeIO     bool
	Jobs       []JobConfig
}

// JobSnapshot is a read-only view of one watched job, used by the /status
// endpoint and by tests.
type JobSnapshot struct {
	JobID            string
	RuleName         string
	Rate             float64
	RateLimit        *int64
	CurrentRateLimit *int64
	Hosts            []string
	Subscribers      int
}

// CommandResult replies to exactly one inbound console message.
type CommandResult struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Result  string `json:"result"`
}
