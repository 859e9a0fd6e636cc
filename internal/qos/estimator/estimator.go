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

// Package estimator turns raw per-target counter samples into per-(service,
// job) throughput rates.
package estimator

// ServiceForJob is the rate-estimator state for a single (service, job) pair.
type ServiceForJob struct {
	value     int64
	timestamp float64
	rate      float64
	known     bool
	hasSample bool
}

// New returns a ServiceForJob with no samples yet; its rate is unknown.
func New() *ServiceForJob {
	return &ServiceForJob{}
}

// Add records a new (timestamp, value) counter sample.
//
// If this is the first sample, the rate stays unknown. Otherwise, if the
// counter rose (value >= previous value) and time moved forward
// (ts > previous ts), the rate is recomputed in megabytes/second. If either
// condition fails — a counter reset or a non-monotone clock — the previous
// rate is kept for one interval and only the new (ts, value) pair is stored,
// so a counter wrap never synthesizes a throughput spike.
func (s *ServiceForJob) Add(ts float64, value int64) {
	if s.hasSample && value >= s.value && ts > s.timestamp {
		diff := value - s.value
		timeDiff := ts - s.timestamp
		s.rate = float64(diff) / timeDiff / 1_000_000
		s.known = true
	}
	s.value = value
	s.timestamp = ts
	s.hasSample = true
}

// Rate returns the last computed rate in MB/s, or (0, false) if unknown.
func (s *ServiceForJob) Rate() (float64, bool) {
	return s.rate, s.known
}
