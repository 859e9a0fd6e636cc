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

// Package registry enumerates the Lustre services (OSTs, MDTs, the MGS, and
// mounted clients) discovered on each host and maps a service id to the host
// that currently runs it. The registry is built once at startup and is
// immutable for the process lifetime.
package registry

import "errors"

// Type identifies the kind of a Lustre service.
type Type string

const (
	TypeOST    Type = "OST"
	TypeMDT    Type = "MDT"
	TypeMGS    Type = "MGS"
	TypeClient Type = "CLIENT"
)

// Service is a storage target or client mount, identified by a stable string
// (e.g. "OST0001").
type Service struct {
	ID   string
	Type Type
	Host string // hostname currently hosting this service
}

// Host is a reachable machine with a hostname and a version descriptor.
type Host struct {
	Name    string
	Version string
}

// ErrDuplicateService is returned by Detect when the same service id is
// reported by more than one host; this is treated as a fatal setup error.
var ErrDuplicateService = errors.New("registry: duplicate service id across hosts")

// ErrUnknownService is returned by HostOf for a service id that was never
// discovered.
var ErrUnknownService = errors.New("registry: unknown service id")
