package actuator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInstrumentedClientDelegatesChangeRate(t *testing.T) {
	inner := &LoggingClient{}
	c := Instrument(inner)
	require.NoError(t, c.ChangeRate(context.Background(), "h1", "rule", 100))
}

func TestInstrumentedClientPropagatesFailure(t *testing.T) {
	inner := &LoggingClient{Fail: require.AnError}
	c := Instrument(inner)
	require.ErrorIs(t, c.StartRule(context.Background(), "rule", "job.1", 100), require.AnError)
	require.ErrorIs(t, c.StopRule(context.Background(), "rule"), require.AnError)
}
