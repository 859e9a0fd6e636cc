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

// Package console implements the operator-facing duplex channel at
// /console_websocket: consoles subscribe to jobs and push configuration
// changes over the same connection that receives per-tick datapoints.
package console

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/DDNStorage/Lime/internal/qos/session"
)

// Registry is the session-registry surface the console depends on.
// Implemented by *session.WatchedJobs.
type Registry interface {
	Watch(ctx context.Context, jobID string, sub session.Subscriber) error
	UnwatchAll(ctx context.Context, sub session.Subscriber)
	UpdateConfig(ctx context.Context, cfg session.Config) error
}

// hostSpec and jobSpec mirror the wire shape of the cluster object; hostSpec
// and the SSH identity file are only meaningful to the static bootstrap file
// (internal/qos/config) and are accepted here but not re-applied per message.
type hostSpec struct {
	Name string `json:"name"`
}

type jobSpec struct {
	JobID      string  `json:"job_id"`
	Throughput float64 `json:"throughput"`
}

// clusterMessage is both the static bootstrap file's shape and every inbound
// console message's shape.
type clusterMessage struct {
	Cluster struct {
		Name            string     `json:"name"`
		Hosts           []hostSpec `json:"hosts"`
		SSHIdentityFile string     `json:"ssh_identity_file"`
		Policy          string     `json:"policy"`
		FakeIO          bool       `json:"fake_io"`
		Jobs            []jobSpec  `json:"jobs"`
	} `json:"cluster"`
}

const keepAliveInterval = 30 * time.Second

// Server upgrades /console_websocket connections and routes messages to the
// session registry.
type Server struct {
	reg      Registry
	upgrader websocket.Upgrader
	logger   *log.Logger
}

// NewServer returns a console server backed by reg. logger may be nil to
// discard log output.
func NewServer(reg Registry, logger *log.Logger) *Server {
	return &Server{
		reg: reg,
		upgrader: websocket.Upgrader{
			// Origin checking is the operator console's transport's concern,
			// not this demo controller's; every origin is accepted.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (s *Server) logf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// RegisterRoutes wires the console endpoint onto mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/console_websocket", s.handleWebSocket)
}

// wsSubscriber adapts one websocket connection to session.Subscriber.
// gorilla/websocket connections are not safe for concurrent writers, so
// every write (tick broadcasts, command results, pings) is serialized
// through mu.
type wsSubscriber struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsSubscriber) Send(dp session.Datapoint) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(dp)
}

func (w *wsSubscriber) writeResult(cr session.CommandResult) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(cr)
}

func (w *wsSubscriber) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.PingMessage, nil)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logf("console: upgrade error: %v", err)
		return
	}
	defer conn.Close()

	sub := &wsSubscriber{conn: conn}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.keepAlive(ctx, sub)

	first := true
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var msg clusterMessage
		decodeErr := json.Unmarshal(data, &msg)

		var (
			command string
			result  = "success"
		)
		if first {
			first = false
			command = "watch"
			err := decodeErr
			if err == nil {
				err = s.handleFirstMessage(ctx, sub, msg)
			}
			if err != nil {
				s.logf("console: initial watch: %v", err)
				result = "failure"
			}
		} else {
			command = "change_config"
			err := decodeErr
			if err == nil {
				err = s.handleUpdateConfig(ctx, msg)
			}
			if err != nil {
				s.logf("console: update_config: %v", err)
				result = "failure"
			}
		}
		if err := sub.writeResult(session.CommandResult{Type: "command_result", Command: command, Result: result}); err != nil {
			s.logf("console: write command_result: %v", err)
			break
		}
	}

	// The correct unwatch behavior: drop every job this connection watched,
	// not just the last one seen by a loop variable.
	s.reg.UnwatchAll(context.Background(), sub)
}

// handleFirstMessage registers sub as a watcher of every job named in the
// first inbound message. It does not apply policy/fake-io/rate-limit
// settings — those are only ever pushed by a subsequent update_config
// message or by the static bootstrap file read at startup.
func (s *Server) handleFirstMessage(ctx context.Context, sub session.Subscriber, msg clusterMessage) error {
	var firstErr error
	for _, j := range msg.Cluster.Jobs {
		if err := s.reg.Watch(ctx, j.JobID, sub); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Server) handleUpdateConfig(ctx context.Context, msg clusterMessage) error {
	jobs := make([]session.JobConfig, 0, len(msg.Cluster.Jobs))
	for _, j := range msg.Cluster.Jobs {
		jobs = append(jobs, session.JobConfig{JobID: j.JobID, TargetRate: int64(j.Throughput)})
	}
	return s.reg.UpdateConfig(ctx, session.Config{
		PolicyName: msg.Cluster.Policy,
		FakeIO:     msg.Cluster.FakeIO,
		Jobs:       jobs,
	})
}

func (s *Server) keepAlive(ctx context.Context, sub *wsSubscriber) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sub.ping(); err != nil {
				s.logf("console: ping error: %v", err)
				return
			}
		}
	}
}
