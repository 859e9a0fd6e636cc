package policy

import (
	"context"
	"testing"
	"time"

	"github.com/DDNStorage/Lime/internal/qos/actuator"
	"github.com/DDNStorage/Lime/internal/qos/registry"
	"github.com/DDNStorage/Lime/internal/qos/session"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	byHost map[string]registry.DiscoverResult
}

func (f fakeLister) DiscoverServices(ctx context.Context, host string) (registry.DiscoverResult, error) {
	return f.byHost[host], nil
}

type rateChange struct {
	host, rule string
	rate       int64
}

type recordingActuator struct {
	actuator.Client
	changes []rateChange
}

func (a *recordingActuator) ChangeRate(ctx context.Context, host, ruleName string, rate int64) error {
	a.changes = append(a.changes, rateChange{host, ruleName, rate})
	return a.Client.ChangeRate(ctx, host, ruleName, rate)
}

type noopSub struct{}

func (noopSub) Send(session.Datapoint) error { return nil }

func newHarness(t *testing.T, hosts map[string][]registry.ServiceInfo, defaultPolicy string, policies map[string]session.Policy) (*session.WatchedJobs, *recordingActuator) {
	reg := registry.New()
	byHost := make(map[string]registry.DiscoverResult, len(hosts))
	names := make([]string, 0, len(hosts))
	for h, svcs := range hosts {
		byHost[h] = registry.DiscoverResult{Services: svcs}
		names = append(names, h)
	}
	require.NoError(t, reg.Detect(context.Background(), fakeLister{byHost: byHost}, names))

	act := &recordingActuator{Client: actuator.NewLoggingClient(nil)}
	sess, err := session.New(reg, act, policies, defaultPolicy, time.Second, 5*time.Second, nil)
	require.NoError(t, err)
	return sess, act
}

func TestIndependentDeadbandScenario(t *testing.T) {
	sess, act := newHarness(t,
		map[string][]registry.ServiceInfo{"h1": {{ID: "OST_h1", Type: registry.TypeOST}}},
		"independent", map[string]session.Policy{"independent": IndependentPolicy{}},
	)
	ctx := context.Background()
	require.NoError(t, sess.Watch(ctx, "A", noopSub{}))
	require.NoError(t, sess.OnMetric("OST_h1", "A", 0, 0))
	require.NoError(t, sess.OnMetric("OST_h1", "A", 1, 1_000_000_000)) // rate 1000 MB/s

	wj := sess.JobByID("A")
	limit := int64(1000)
	wj.RateLimit = &limit
	wj.RecomputeRate()

	// First tune: CurrentRateLimit is nil, triggers the bulk redistribution
	// path (the "config change" case), not the deadband.
	IndependentPolicy{}.Tune(ctx, sess)
	require.Len(t, act.changes, 1)
	require.Equal(t, int64(1000), act.changes[0].rate)
	require.NotNil(t, wj.CurrentRateLimit)
	require.Equal(t, int64(1000), *wj.CurrentRateLimit)

	// Steady state at the setpoint: no further command.
	wj.Rate = 1000
	IndependentPolicy{}.Tune(ctx, sess)
	require.Len(t, act.changes, 1)

	// 1150 > 1000*1.1: decrease_highest_host(diff=150).
	wj.Rate = 1150
	IndependentPolicy{}.Tune(ctx, sess)
	require.Len(t, act.changes, 2)
	require.Equal(t, int64(850), act.changes[1].rate)

	// 850 < 1000*0.9: increase_lowest_host raises back toward the deficit.
	wj.Rate = 850
	IndependentPolicy{}.Tune(ctx, sess)
	require.Len(t, act.changes, 3)
	require.Equal(t, int64(1000), act.changes[2].rate)
}

func TestIndependentConfigChangeRedistributesOnlyChangedJob(t *testing.T) {
	sess, act := newHarness(t,
		map[string][]registry.ServiceInfo{
			"h1": {{ID: "OST_h1", Type: registry.TypeOST}},
			"h2": {{ID: "OST_h2", Type: registry.TypeOST}},
		},
		"independent", map[string]session.Policy{"independent": IndependentPolicy{}},
	)
	ctx := context.Background()
	require.NoError(t, sess.Watch(ctx, "A", noopSub{}))
	require.NoError(t, sess.Watch(ctx, "B", noopSub{}))
	require.NoError(t, sess.OnMetric("OST_h1", "A", 0, 0))
	require.NoError(t, sess.OnMetric("OST_h2", "A", 0, 0))
	require.NoError(t, sess.OnMetric("OST_h1", "B", 0, 0))
	require.NoError(t, sess.OnMetric("OST_h2", "B", 0, 0))

	jobA, jobB := sess.JobByID("A"), sess.JobByID("B")
	limitA, limitB := int64(2000), int64(500)
	jobA.RateLimit, jobB.RateLimit = &limitA, &limitB
	curA, curB := int64(2000), int64(500)
	jobA.CurrentRateLimit, jobB.CurrentRateLimit = &curA, &curB

	newLimitA := int64(1000)
	jobA.RateLimit = &newLimitA

	IndependentPolicy{}.Tune(ctx, sess)

	// Only A's limit changed, so only A redistributes (two hosts); B, whose
	// CurrentRateLimit still matches its RateLimit, gets no command.
	require.Len(t, act.changes, 2)
	for _, c := range act.changes {
		require.Equal(t, jobA.RuleName, c.rule)
		require.Equal(t, int64(500), c.rate) // 1000 split across 2 hosts
	}
	require.NotNil(t, jobB.CurrentRateLimit)
	require.Equal(t, int64(500), *jobB.CurrentRateLimit)
}
