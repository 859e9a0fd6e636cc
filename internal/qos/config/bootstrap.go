// Copyright 2025 DataDirect Networks, Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"fmt"

	"github.com/DDNStorage/Lime/internal/qos/actuator"
	"github.com/DDNStorage/Lime/internal/qos/registry"
)

// jobIDVar is the jobstats classification lustre uses to key samples by
// (process name, uid) rather than the default slurm job id.
const jobIDVar = "procname_uid"

// Bootstrap reproduces the original load_config sequencing exactly: detect
// services, restart the metric collector, toggle fake I/O, verify CPU
// partitioning, switch the OST-IO scheduler to TBF, set the jobid
// classification variable, then optionally launch benchmark I/O writers.
// Every step is a single named actuator call; the caller is expected to
// treat any returned error as fatal, per spec's "startup actuator failure:
// fatal" rule — Bootstrap itself only reports which step failed.
func Bootstrap(ctx context.Context, cluster *ClusterConfig, reg *registry.Registry, act actuator.Client) error {
	if err := reg.Detect(ctx, act, cluster.HostNames()); err != nil {
		return fmt.Errorf("bootstrap: detect services: %w", err)
	}

	ossHosts := reg.OSTHosts()

	for _, host := range ossHosts {
		if err := act.RestartCollector(ctx, host); err != nil {
			return fmt.Errorf("bootstrap: restart collector on %s: %w", host, err)
		}
	}

	for _, host := range ossHosts {
		var err error
		if cluster.FakeIO {
			err = act.EnableFakeIO(ctx, host)
		} else {
			err = act.ClearFakeIO(ctx, host)
		}
		if err != nil {
			return fmt.Errorf("bootstrap: set fake I/O on %s: %w", host, err)
		}
	}

	for _, host := range ossHosts {
		if err := act.CheckCPT(ctx, host); err != nil {
			return fmt.Errorf("bootstrap: check CPT on %s: %w", host, err)
		}
	}

	for _, host := range ossHosts {
		if err := act.EnableFIFO(ctx, host); err != nil {
			return fmt.Errorf("bootstrap: enable FIFO on %s: %w", host, err)
		}
		if err := act.EnableTBF(ctx, host, actuator.TBFJobID); err != nil {
			return fmt.Errorf("bootstrap: enable TBF on %s: %w", host, err)
		}
	}

	for _, host := range ossHosts {
		if err := act.SetJobIDVar(ctx, host, jobIDVar); err != nil {
			return fmt.Errorf("bootstrap: set jobid_var on %s: %w", host, err)
		}
	}

	if specs := benchmarkSpecs(cluster); len(specs) > 0 {
		if err := act.StartIO(ctx, specs); err != nil {
			return fmt.Errorf("bootstrap: start benchmark I/O: %w", err)
		}
	}

	return nil
}

func benchmarkSpecs(cluster *ClusterConfig) []actuator.JobIOSpec {
	var specs []actuator.JobIOSpec
	for _, j := range cluster.Jobs {
		if !j.Benchmark {
			continue
		}
		specs = append(specs, actuator.JobIOSpec{JobID: j.JobID, Host: j.Host, Size: j.SizeMB << 20})
	}
	return specs
}
