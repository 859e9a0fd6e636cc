package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSetJobsWatched(t *testing.T) {
	SetJobsWatched(3)
	require.Equal(t, float64(3), testutil.ToFloat64(jobsWatched))
}

func TestSetAndDeleteJobRate(t *testing.T) {
	SetJobRate("job-a", 42.5)
	require.Equal(t, 42.5, testutil.ToFloat64(jobRate.WithLabelValues("job-a")))
	DeleteJobRate("job-a")
	require.Equal(t, float64(0), testutil.ToFloat64(jobRate.WithLabelValues("job-a")))
}

func TestObserveActuatorCommandCountsErrors(t *testing.T) {
	before := testutil.ToFloat64(actuatorErrorsTotal.WithLabelValues("change_rate"))
	ObserveActuatorCommand("change_rate", 10*time.Millisecond, nil)
	require.Equal(t, before, testutil.ToFloat64(actuatorErrorsTotal.WithLabelValues("change_rate")))

	ObserveActuatorCommand("change_rate", 10*time.Millisecond, errors.New("boom"))
	require.Equal(t, before+1, testutil.ToFloat64(actuatorErrorsTotal.WithLabelValues("change_rate")))
}

func TestObserveActionAndRegret(t *testing.T) {
	before := testutil.ToFloat64(actionsTotal.WithLabelValues("increase-self"))
	ObserveAction("increase-self")
	require.Equal(t, before+1, testutil.ToFloat64(actionsTotal.WithLabelValues("increase-self")))

	beforeRegret := testutil.ToFloat64(actionsRegrettedTotal)
	ObserveRegret()
	require.Equal(t, beforeRegret+1, testutil.ToFloat64(actionsRegrettedTotal))
}
