// BSD 3-Clause License
//
// Copyright (c) 2020, Sperax
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
// 1. Redistributions of source code must retain the above copyright notice, this
//    list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright notice,
//    this list of conditions and the following disclaimer in the documentation
//    and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
//    contributors may be used to endorse or promote products derived from
//    this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

// Package localbus serves the "provisioning-daemon" object
// ubus_agent.c exposes over ubus — getState/select/startProvision —
// as a line-delimited JSON protocol over a Unix domain socket. The
// real ubus transport stays out of scope (internal/credential's
// MockBus is its in-process stand-in for generatePsk); this is the
// operator-facing half of that same surface, queried by the status
// subcommand.
//
// ubus_agent.c only ever registers this object when
// remoteProvisionControl is set (provisioning_daemon.c's
// ubusagent_EnableRemoteControl gate); the caller is expected not to
// start Serve at all when RemoteProvisionCtrl is off. select and
// startProvision additionally refuse here if it's off, so a Server
// left running after a config reload can't be used to bypass the
// gate either.
package localbus

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/creatordev/provisiond/internal/event"
	"github.com/creatordev/provisiond/internal/registry"
	"github.com/creatordev/provisiond/internal/ui"
)

// ClickerDescriptor mirrors getState()'s per-clicker tuple from
// spec.md §6: (id, name, selected, inProvisionState, isProvisioned,
// isError).
type ClickerDescriptor struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Selected    bool   `json:"selected"`
	InProvision bool   `json:"inProvision"`
	Provisioned bool   `json:"provisioned"`
	Errored     bool   `json:"errored"`
}

type request struct {
	Method string `json:"method"`
	ID     int    `json:"id,omitempty"`
}

type response struct {
	State []ClickerDescriptor `json:"state,omitempty"`
	Error string              `json:"error,omitempty"`
}

// Server answers getState/select/startProvision calls by reading the
// live registry and UI state and by pushing the same events a
// physical button press would.
type Server struct {
	reg    *registry.Registry
	uiCtrl *ui.Controller
	events *event.Bus
	log    zerolog.Logger

	sockPath string
	mu       sync.Mutex
	listener net.Listener
}

// New returns a Server bound to sockPath; Serve must be called to
// start accepting connections.
func New(sockPath string, reg *registry.Registry, uiCtrl *ui.Controller, events *event.Bus, log zerolog.Logger) *Server {
	return &Server{
		reg:      reg,
		uiCtrl:   uiCtrl,
		events:   events,
		sockPath: sockPath,
		log:      log.With().Str("component", "localbus").Logger(),
	}
}

// Serve listens on the Unix socket and handles connections until
// Close is called. Any stale socket file at sockPath is removed
// first, matching ubus_agent.c's own bind-time cleanup.
func (s *Server) Serve() error {
	_ = os.Remove(s.sockPath)

	l, err := net.Listen("unix", s.sockPath)
	if err != nil {
		return fmt.Errorf("localbus: listen %s: %w", s.sockPath, err)
	}

	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	for {
		conn, err := l.Accept()
		if err != nil {
			return nil
		}
		go s.handle(conn)
	}
}

// Close stops accepting new connections and removes the socket file.
func (s *Server) Close() {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l != nil {
		l.Close()
	}
	_ = os.Remove(s.sockPath)
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)

	var req request
	if err := dec.Decode(&req); err != nil {
		return
	}

	var resp response
	switch req.Method {
	case "getState":
		resp.State = s.GetState()
	case "select":
		if !s.uiCtrl.RemoteProvisionCtrl {
			resp.Error = "localbus: remote provisioning control disabled"
			break
		}
		s.events.Push(event.ClickerSelect, req.ID)
	case "startProvision":
		if !s.uiCtrl.RemoteProvisionCtrl {
			resp.Error = "localbus: remote provisioning control disabled"
			break
		}
		s.events.Push(event.ClickerStartProvision, req.ID)
	default:
		resp.Error = fmt.Sprintf("localbus: unknown method %q", req.Method)
	}

	if err := enc.Encode(&resp); err != nil {
		s.log.Debug().Err(err).Msg("failed to write response")
	}
}

// GetState builds the getState() snapshot directly, for in-process
// callers (the status subcommand when it shares a process with the
// daemon in tests) as well as for handle's wire path.
func (s *Server) GetState() []ClickerDescriptor {
	ids := s.uiCtrl.GetAllIDs()
	selected := s.uiCtrl.GetSelectedID()

	out := make([]ClickerDescriptor, 0, len(ids))
	for _, id := range ids {
		ep := s.reg.Acquire(id)
		if ep == nil {
			continue
		}
		d := ClickerDescriptor{
			ID:          id,
			Name:        ep.DisplayName,
			Selected:    id == selected,
			InProvision: ep.ProvisioningInProgress,
			Provisioned: ep.FinishedAtMillis > 0,
			Errored:     ep.ErrorCode != 0,
		}
		s.reg.Release(ep)
		out = append(out, d)
	}
	return out
}

// ErrBusUnreachable is returned by Client methods when the daemon's
// socket cannot be reached, matching spec.md §7's IPCUnavailable kind
// applied to this operator-facing surface.
var ErrBusUnreachable = errors.New("localbus: daemon unreachable")

// Client dials a running Server's socket for one-shot requests.
type Client struct {
	sockPath string
}

// NewClient returns a Client for the socket at sockPath.
func NewClient(sockPath string) *Client {
	return &Client{sockPath: sockPath}
}

// GetState dials the socket, requests getState, and returns the
// decoded descriptors.
func (c *Client) GetState() ([]ClickerDescriptor, error) {
	resp, err := c.call(request{Method: "getState"})
	if err != nil {
		return nil, err
	}
	return resp.State, nil
}

// Select asks the daemon to select id.
func (c *Client) Select(id int) error {
	_, err := c.call(request{Method: "select", ID: id})
	return err
}

// StartProvision asks the daemon to start provisioning id.
func (c *Client) StartProvision(id int) error {
	_, err := c.call(request{Method: "startProvision", ID: id})
	return err
}

func (c *Client) call(req request) (*response, error) {
	conn, err := net.Dial("unix", c.sockPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBusUnreachable, err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(&req); err != nil {
		return nil, fmt.Errorf("localbus: encode request: %w", err)
	}

	var resp response
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&resp); err != nil {
		return nil, fmt.Errorf("localbus: decode response: %w", err)
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	return &resp, nil
}
