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

// Package config loads the static cluster bootstrap file and selects the
// actuator backend via selector-based construction from a string mode.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/DDNStorage/Lime/internal/qos/actuator"
)

// HostConfig is one fleet host entry in the cluster object.
type HostConfig struct {
	Name string `json:"name"`
}

// JobConfig is one job entry in the cluster object. Host/SizeMB are only
// meaningful when Benchmark is set: they tell Bootstrap's optional
// benchmark-I/O step which client to launch a writer on and how much data
// to push.
type JobConfig struct {
	JobID      string `json:"job_id"`
	Throughput int64  `json:"throughput"`
	Benchmark  bool   `json:"benchmark,omitempty"`
	Host       string `json:"host,omitempty"`
	SizeMB     int64  `json:"size_mb,omitempty"`
}

// ClusterConfig is the cluster object shared by the static bootstrap file
// and every console_websocket message.
type ClusterConfig struct {
	Name            string       `json:"name"`
	Hosts           []HostConfig `json:"hosts"`
	SSHIdentityFile string       `json:"ssh_identity_file"`
	Policy          string       `json:"policy"`
	FakeIO          bool         `json:"fake_io"`
	Jobs            []JobConfig  `json:"jobs"`
}

type fileConfig struct {
	Cluster ClusterConfig `json:"cluster"`
}

// Load reads and parses a static lime_config.json bootstrap file.
func Load(path string) (*ClusterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &fc.Cluster, nil
}

// HostNames returns the plain host name list from a ClusterConfig.
func (c *ClusterConfig) HostNames() []string {
	names := make([]string, len(c.Hosts))
	for i, h := range c.Hosts {
		names[i] = h.Name
	}
	return names
}

// BuildActuator selects an actuator.Client backend by name:
//   - "ssh": shells out over SSH to the real fleet (production mode)
//   - "fake", "noop", "": logs every command without touching any host
//
// If redisAddr is non-empty, the chosen client is wrapped in a
// RedisRateMirror so operator dashboards can read last-known rate limits
// without locking the controller.
func BuildActuator(mode, identityFile string, ostHosts func() []string, redisAddr string, logger *log.Logger) (actuator.Client, error) {
	var client actuator.Client
	switch mode {
	case "ssh":
		client = actuator.NewSSHClient(identityFile, ostHosts)
	case "", "fake", "noop":
		client = actuator.NewLoggingClient(logger)
	default:
		return nil, fmt.Errorf("config: unknown actuator mode %q", mode)
	}
	if redisAddr == "" {
		return client, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	return actuator.NewRedisRateMirror(client, rdb, logger), nil
}
