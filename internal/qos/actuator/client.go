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

// Package actuator defines the command surface the controller issues against
// the fleet, and the backends that carry it out: a logging stub for demos and
// tests, and an SSH-backed driver for the real fleet.
package actuator

import (
	"context"

	"github.com/DDNStorage/Lime/internal/qos/registry"
)

// TBFType selects the token-bucket scheduler variant programmed on an OSS.
type TBFType string

const (
	TBFJobID TBFType = "jobid"
	TBFUID   TBFType = "uid"
)

// JobIOSpec describes one benchmark I/O writer to launch at bootstrap.
type JobIOSpec struct {
	JobID string
	Host  string
	Size  int64 // bytes to write
}

// Client is the command surface consumed by the controller. Every operation
// is synchronous and may fail; failures are never retried by the caller.
// internal/qos/session logs a failure; the priority policy in
// internal/qos/policy logs it and unwinds the attempt without recording an
// action (failure_time is not incremented); the independent policy ignores
// the returned error.
type Client interface {
	// DiscoverServices enumerates the services hosted on host.
	DiscoverServices(ctx context.Context, host string) (registry.DiscoverResult, error)

	// StartRule and StopRule act cluster-wide: a TBF rule shares one name
	// across every OST-hosting server running the job, so the backend
	// fans the command out to all of them. ChangeRate is the per-host
	// variant the policy uses to retune a single host's limit.
	StartRule(ctx context.Context, name, jobIDExpression string, rate int64) error
	StopRule(ctx context.Context, name string) error
	ChangeRate(ctx context.Context, host, ruleName string, rate int64) error

	EnableTBF(ctx context.Context, host string, kind TBFType) error
	EnableFIFO(ctx context.Context, host string) error
	EnableFakeIO(ctx context.Context, host string) error
	ClearFakeIO(ctx context.Context, host string) error
	SetJobIDVar(ctx context.Context, host, value string) error
	CheckCPT(ctx context.Context, host string) error
	RestartCollector(ctx context.Context, host string) error
	StartIO(ctx context.Context, specs []JobIOSpec) error
}
