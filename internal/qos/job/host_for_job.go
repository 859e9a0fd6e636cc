package job

import (
	"context"

	"github.com/DDNStorage/Lime/internal/qos/estimator"
	"github.com/DDNStorage/Lime/internal/qos/registry"
)

// MinRateLimit and DefaultRateLimit bound every programmed per-host rate
// limit, per spec: HostForJob.RateLimit must stay in
// [MinRateLimit, DefaultRateLimit].
const (
	MinRateLimit     int64 = 10
	DefaultRateLimit int64 = 10000
)

// RateChanger is the actuator surface a HostForJob needs to program a new
// token-bucket rate limit for a job on its host. Implemented structurally by
// internal/qos/actuator.Client; kept minimal here to avoid a dependency
// cycle between job and actuator.
type RateChanger interface {
	ChangeRate(ctx context.Context, host, ruleName string, rate int64) error
}

// HostForJob is the per-host rollup within one job.
type HostForJob struct {
	Host      *registry.Host
	Services  map[string]*estimator.ServiceForJob
	RateLimit int64
	Rate      float64
}

func newHostForJob(host *registry.Host) *HostForJob {
	return &HostForJob{
		Host:      host,
		Services:  make(map[string]*estimator.ServiceForJob),
		RateLimit: DefaultRateLimit,
	}
}

// ChangeRate asks the actuator to program a new rate limit for ruleName on
// this host. The in-memory RateLimit is only updated on success, so a failed
// actuator call never desynchronizes our bookkeeping from the fleet.
func (h *HostForJob) ChangeRate(ctx context.Context, actuator RateChanger, ruleName string, newLimit int64) error {
	if newLimit < MinRateLimit {
		newLimit = MinRateLimit
	}
	if newLimit > DefaultRateLimit {
		newLimit = DefaultRateLimit
	}
	if err := actuator.ChangeRate(ctx, h.Host.Name, ruleName, newLimit); err != nil {
		return err
	}
	h.RateLimit = newLimit
	return nil
}
