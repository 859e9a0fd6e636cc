package actuator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/DDNStorage/Lime/internal/qos/registry"
)

// SSHClient drives the fleet by shelling out to the system ssh binary, one
// remote command per call — the same shape as the original driver's
// ssh_run(hostname, command): no SSH library, no persistent connection pool,
// just "ssh host command" with StrictHostKeyChecking disabled and an
// optional identity file.
type SSHClient struct {
	IdentityFile string
	LoginName    string // defaults to "root"
	OSTHosts     func() []string
	runCommand   func(ctx context.Context, host, command string) (stdout []byte, err error)
}

// NewSSHClient returns a client that reaches ostHosts() for cluster-wide
// rule commands. identityFile may be empty to use the default ssh identity.
func NewSSHClient(identityFile string, ostHosts func() []string) *SSHClient {
	return &SSHClient{IdentityFile: identityFile, LoginName: "root", OSTHosts: ostHosts}
}

func (c *SSHClient) login() string {
	if c.LoginName == "" {
		return "root"
	}
	return c.LoginName
}

// run executes command on host over ssh, or via the injected runCommand hook
// in tests, and returns the captured stdout.
func (c *SSHClient) run(ctx context.Context, host, command string) ([]byte, error) {
	if c.runCommand != nil {
		return c.runCommand(ctx, host, command)
	}
	args := []string{host, "-l", c.login(), "-o", "StrictHostKeyChecking=no"}
	if c.IdentityFile != "" {
		args = append(args, "-i", c.IdentityFile)
	}
	args = append(args, command)
	cmd := exec.CommandContext(ctx, "ssh", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ssh %s %q: %w: %s", host, command, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

func (c *SSHClient) runOnFleet(ctx context.Context, command string) error {
	for _, host := range c.OSTHosts() {
		if _, err := c.run(ctx, host, command); err != nil {
			return err
		}
	}
	return nil
}

func (c *SSHClient) DiscoverServices(ctx context.Context, host string) (registry.DiscoverResult, error) {
	out, err := c.run(ctx, host, "lctl dl -t")
	if err != nil {
		return registry.DiscoverResult{}, err
	}
	var result registry.DiscoverResult
	if err := json.Unmarshal(out, &result); err != nil {
		return registry.DiscoverResult{}, fmt.Errorf("discover_services host=%s: decode: %w", host, err)
	}
	return result, nil
}

func (c *SSHClient) StartRule(ctx context.Context, name, jobIDExpression string, rate int64) error {
	cmd := fmt.Sprintf("lctl set_param ost.OSS.ost_io.nrs_tbf_rule=\"start %s jobid={%s} rate=%d\"", name, jobIDExpression, rate)
	return c.runOnFleet(ctx, cmd)
}

func (c *SSHClient) StopRule(ctx context.Context, name string) error {
	cmd := fmt.Sprintf("lctl set_param ost.OSS.ost_io.nrs_tbf_rule=\"stop %s\"", name)
	return c.runOnFleet(ctx, cmd)
}

func (c *SSHClient) ChangeRate(ctx context.Context, host, ruleName string, rate int64) error {
	cmd := fmt.Sprintf("lctl set_param ost.OSS.ost_io.nrs_tbf_rule=\"change %s rate=%d\"", ruleName, rate)
	_, err := c.run(ctx, host, cmd)
	return err
}

func (c *SSHClient) EnableTBF(ctx context.Context, host string, kind TBFType) error {
	_, err := c.run(ctx, host, fmt.Sprintf("lctl set_param ost.OSS.ost_io.nrs_policies=\"tbf %s\"", kind))
	return err
}

func (c *SSHClient) EnableFIFO(ctx context.Context, host string) error {
	_, err := c.run(ctx, host, "lctl set_param ost.OSS.ost_io.nrs_policies=fifo")
	return err
}

func (c *SSHClient) EnableFakeIO(ctx context.Context, host string) error {
	_, err := c.run(ctx, host, "lctl set_param obdfilter.*.site_stats=0; echo 1 > /proc/fs/lustre/obdfilter/*/fake_io")
	return err
}

func (c *SSHClient) ClearFakeIO(ctx context.Context, host string) error {
	_, err := c.run(ctx, host, "echo 0 > /proc/fs/lustre/obdfilter/*/fake_io")
	return err
}

func (c *SSHClient) SetJobIDVar(ctx context.Context, host, value string) error {
	_, err := c.run(ctx, host, fmt.Sprintf("lctl conf_param *.sys.jobid_var=%s", value))
	return err
}

func (c *SSHClient) CheckCPT(ctx context.Context, host string) error {
	out, err := c.run(ctx, host, "lctl get_param ost.OSS.ost_io.CPT_number")
	if err != nil {
		return err
	}
	if trimmed := string(bytes.TrimSpace(out)); trimmed != "1" {
		return fmt.Errorf("check_cpt host=%s: expected a single CPU partition, got %q", host, trimmed)
	}
	return nil
}

func (c *SSHClient) RestartCollector(ctx context.Context, host string) error {
	_, err := c.run(ctx, host, "systemctl restart collectd")
	return err
}

func (c *SSHClient) StartIO(ctx context.Context, specs []JobIOSpec) error {
	for _, s := range specs {
		cmd := fmt.Sprintf("dd if=/dev/zero of=/mnt/lustre/%s.bin bs=1M count=%d oflag=direct &", s.JobID, s.Size/(1<<20))
		if _, err := c.run(ctx, s.Host, cmd); err != nil {
			return fmt.Errorf("start_io job=%s host=%s: %w", s.JobID, s.Host, err)
		}
	}
	return nil
}
