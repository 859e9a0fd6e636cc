package session

import (
	"context"
	"testing"
	"time"

	"github.com/DDNStorage/Lime/internal/qos/actuator"
	"github.com/DDNStorage/Lime/internal/qos/registry"
	"github.com/stretchr/testify/require"
)

type recordingSub struct {
	received []Datapoint
	fail     bool
}

func (s *recordingSub) Send(dp Datapoint) error {
	if s.fail {
		return context.DeadlineExceeded
	}
	s.received = append(s.received, dp)
	return nil
}

type countingActuator struct {
	actuator.Client
	startRuleCalls []string
	stopRuleCalls  []string
}

func (c *countingActuator) StartRule(ctx context.Context, name, jobIDExpression string, rate int64) error {
	c.startRuleCalls = append(c.startRuleCalls, name)
	return nil
}

func (c *countingActuator) StopRule(ctx context.Context, name string) error {
	c.stopRuleCalls = append(c.stopRuleCalls, name)
	return nil
}

type noopPolicy struct{}

func (noopPolicy) Name() string                                  { return "noop" }
func (noopPolicy) Tune(ctx context.Context, jobs *WatchedJobs) {}

func newTestSession(t *testing.T, act actuator.Client) *WatchedJobs {
	reg := registry.New()
	policies := map[string]Policy{"noop": noopPolicy{}}
	w, err := New(reg, act, policies, "noop", time.Second, 5*time.Second, nil)
	require.NoError(t, err)
	return w
}

func TestWatchCreatesJobAndStartsRule(t *testing.T) {
	act := &countingActuator{Client: actuator.NewLoggingClient(nil)}
	w := newTestSession(t, act)
	sub := &recordingSub{}
	require.NoError(t, w.Watch(context.Background(), "job.1", sub))
	require.Len(t, act.startRuleCalls, 1)
	require.Equal(t, "job_1", act.startRuleCalls[0])
	require.Len(t, w.Snapshot(), 1)
}

func TestWatchThenUnwatchStopsRuleAndEmptiesRegistry(t *testing.T) {
	act := &countingActuator{Client: actuator.NewLoggingClient(nil)}
	w := newTestSession(t, act)
	sub := &recordingSub{}
	ctx := context.Background()
	require.NoError(t, w.Watch(ctx, "jobA", sub))
	require.NoError(t, w.Unwatch(ctx, "jobA", sub))
	require.Len(t, act.startRuleCalls, 1)
	require.Len(t, act.stopRuleCalls, 1)
	require.Empty(t, w.Snapshot())
}

func TestOnMetricUnknownJobReturnsError(t *testing.T) {
	w := newTestSession(t, actuator.NewLoggingClient(nil))
	err := w.OnMetric("OST0000", "ghost", 0, 100)
	require.ErrorIs(t, err, ErrUnknownJob)
}

func TestUnwatchAllRemovesEverySubscribedJob(t *testing.T) {
	act := &countingActuator{Client: actuator.NewLoggingClient(nil)}
	w := newTestSession(t, act)
	sub := &recordingSub{}
	ctx := context.Background()
	require.NoError(t, w.Watch(ctx, "jobA", sub))
	require.NoError(t, w.Watch(ctx, "jobB", sub))
	require.NoError(t, w.Watch(ctx, "jobC", sub))

	w.UnwatchAll(ctx, sub)

	require.Empty(t, w.Snapshot())
	require.Len(t, act.stopRuleCalls, 3)
}

func TestUpdateConfigAppliesTargetToExistingJob(t *testing.T) {
	w := newTestSession(t, actuator.NewLoggingClient(nil))
	ctx := context.Background()
	sub := &recordingSub{}
	require.NoError(t, w.Watch(ctx, "jobA", sub))

	require.NoError(t, w.UpdateConfig(ctx, Config{Jobs: []JobConfig{{JobID: "jobA", TargetRate: 1000}}}))

	snap := w.Snapshot()
	require.Len(t, snap, 1)
	require.NotNil(t, snap[0].RateLimit)
	require.Equal(t, int64(1000), *snap[0].RateLimit)
}

func TestUpdateConfigRemembersTargetForFutureJob(t *testing.T) {
	w := newTestSession(t, actuator.NewLoggingClient(nil))
	ctx := context.Background()
	require.NoError(t, w.UpdateConfig(ctx, Config{Jobs: []JobConfig{{JobID: "jobA", TargetRate: 2000}}}))

	sub := &recordingSub{}
	require.NoError(t, w.Watch(ctx, "jobA", sub))

	snap := w.Snapshot()
	require.Len(t, snap, 1)
	require.NotNil(t, snap[0].RateLimit)
	require.Equal(t, int64(2000), *snap[0].RateLimit)
}

func TestUpdateConfigUnknownPolicyErrors(t *testing.T) {
	w := newTestSession(t, actuator.NewLoggingClient(nil))
	err := w.UpdateConfig(context.Background(), Config{PolicyName: "does-not-exist"})
	require.Error(t, err)
}

func TestTickBroadcastsZeroRateWithoutSamples(t *testing.T) {
	w := newTestSession(t, actuator.NewLoggingClient(nil))
	ctx := context.Background()
	sub := &recordingSub{}
	require.NoError(t, w.Watch(ctx, "jobA", sub))

	w.tick(ctx)

	require.Len(t, sub.received, 1)
	require.Equal(t, 0.0, sub.received[0].Rate)
	require.Equal(t, "jobA", sub.received[0].JobID)
}

func TestTickReapsSubscriberThatFailsSend(t *testing.T) {
	act := &countingActuator{Client: actuator.NewLoggingClient(nil)}
	w := newTestSession(t, act)
	ctx := context.Background()
	sub := &recordingSub{fail: true}
	require.NoError(t, w.Watch(ctx, "jobA", sub))

	w.tick(ctx)

	require.Empty(t, w.Snapshot())
	require.Len(t, act.stopRuleCalls, 1)
}

func TestStartStopLifecycleIsIdempotent(t *testing.T) {
	w := newTestSession(t, actuator.NewLoggingClient(nil))
	w.Start()
	w.Stop()
	w.Stop() // must not panic or block
}
