package actuator

import (
	"context"
	"log"

	"github.com/DDNStorage/Lime/internal/qos/registry"
)

// LoggingClient logs every command instead of touching real hardware. It is
// the backend for the "fake"/"noop" actuator modes and for tests: it never
// fails unless Fail is set.
type LoggingClient struct {
	Logger *log.Logger
	// Discover, if set, is consulted by DiscoverServices; otherwise an empty
	// result is returned for every host.
	Discover func(host string) (registry.DiscoverResult, error)
	// Fail, if set, is returned by every operation instead of succeeding.
	Fail error
}

// NewLoggingClient returns a LoggingClient writing to logger.
func NewLoggingClient(logger *log.Logger) *LoggingClient {
	return &LoggingClient{Logger: logger}
}

func (c *LoggingClient) log(format string, args ...interface{}) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
	}
}

func (c *LoggingClient) DiscoverServices(ctx context.Context, host string) (registry.DiscoverResult, error) {
	c.log("discover_services host=%s", host)
	if c.Fail != nil {
		return registry.DiscoverResult{}, c.Fail
	}
	if c.Discover != nil {
		return c.Discover(host)
	}
	return registry.DiscoverResult{}, nil
}

func (c *LoggingClient) StartRule(ctx context.Context, name, jobIDExpression string, rate int64) error {
	c.log("start_rule name=%s expr=%s rate=%d", name, jobIDExpression, rate)
	return c.Fail
}

func (c *LoggingClient) StopRule(ctx context.Context, name string) error {
	c.log("stop_rule name=%s", name)
	return c.Fail
}

func (c *LoggingClient) ChangeRate(ctx context.Context, host, ruleName string, rate int64) error {
	c.log("change_rate host=%s name=%s rate=%d", host, ruleName, rate)
	return c.Fail
}

func (c *LoggingClient) EnableTBF(ctx context.Context, host string, kind TBFType) error {
	c.log("enable_tbf host=%s kind=%s", host, kind)
	return c.Fail
}

func (c *LoggingClient) EnableFIFO(ctx context.Context, host string) error {
	c.log("enable_fifo host=%s", host)
	return c.Fail
}

func (c *LoggingClient) EnableFakeIO(ctx context.Context, host string) error {
	c.log("enable_fake_io host=%s", host)
	return c.Fail
}

func (c *LoggingClient) ClearFakeIO(ctx context.Context, host string) error {
	c.log("clear_fake_io host=%s", host)
	return c.Fail
}

func (c *LoggingClient) SetJobIDVar(ctx context.Context, host, value string) error {
	c.log("set_jobid_var host=%s value=%s", host, value)
	return c.Fail
}

func (c *LoggingClient) CheckCPT(ctx context.Context, host string) error {
	c.log("check_cpt host=%s", host)
	return c.Fail
}

func (c *LoggingClient) RestartCollector(ctx context.Context, host string) error {
	c.log("restart_collector host=%s", host)
	return c.Fail
}

func (c *LoggingClient) StartIO(ctx context.Context, specs []JobIOSpec) error {
	for _, s := range specs {
		c.log("start_io job=%s host=%s size=%d", s.JobID, s.Host, s.Size)
	}
	return c.Fail
}
