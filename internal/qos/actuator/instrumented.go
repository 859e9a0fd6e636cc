package actuator

import (
	"context"
	"time"

	"github.com/DDNStorage/Lime/internal/qos/metrics"
)

// InstrumentedClient wraps a Client and records Prometheus latency/error
// metrics for the hot-path commands the tick loop issues every second:
// ChangeRate (per-host retune) and StartRule/StopRule (watch/unwatch).
// Bootstrap-only commands (DiscoverServices, EnableTBF, ...) are left
// undecorated since they run once per process lifetime, not once per tick.
type InstrumentedClient struct {
	Client
}

// Instrument wraps client with command latency/error observation.
func Instrument(client Client) *InstrumentedClient {
	return &InstrumentedClient{Client: client}
}

func (c *InstrumentedClient) ChangeRate(ctx context.Context, host, ruleName string, rate int64) error {
	start := time.Now()
	err := c.Client.ChangeRate(ctx, host, ruleName, rate)
	metrics.ObserveActuatorCommand("change_rate", time.Since(start), err)
	return err
}

func (c *InstrumentedClient) StartRule(ctx context.Context, name, jobIDExpression string, rate int64) error {
	start := time.Now()
	err := c.Client.StartRule(ctx, name, jobIDExpression, rate)
	metrics.ObserveActuatorCommand("start_rule", time.Since(start), err)
	return err
}

func (c *InstrumentedClient) StopRule(ctx context.Context, name string) error {
	start := time.Now()
	err := c.Client.StopRule(ctx, name)
	metrics.ObserveActuatorCommand("stop_rule", time.Since(start), err)
	return err
}
