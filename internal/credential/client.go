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

// Package credential requests PSK credentials from the trust service
// over a local IPC bus. The bus transport itself (ubus on the real
// device) is out of scope (spec.md §1); Bus is the seam a real
// transport plugs into, and MockBus is a same-process stand-in good
// enough to drive the session state machine end to end in tests.
package credential

import (
	"context"
	"fmt"
	"time"

	"github.com/gogo/protobuf/proto"
	"github.com/rs/zerolog"

	"github.com/creatordev/provisiond/internal/event"
	"github.com/creatordev/provisiond/internal/ipcpb"
)

// RequestTimeout is the IPC call deadline from spec.md §7: past this,
// the request is treated as failed and PSK_OBTAINED carries no PSK.
// A var, not a const, so tests can shrink it instead of waiting out
// the real 10 seconds.
var RequestTimeout = 10 * time.Second

// Bus performs one RPC-style call against the trust service.
type Bus interface {
	Call(ctx context.Context, req *ipcpb.PskRequest) (*ipcpb.PskResponse, error)
}

// Client issues RequestPSK calls on a worker goroutine per request so
// the caller (the session state machine's event loop) never blocks on
// IPC latency, and pushes the eventual PSKObtained event itself.
type Client struct {
	bus    Bus
	events *event.Bus
	log    zerolog.Logger
}

// New returns a Client that publishes results onto eventBus.
func New(ipcBus Bus, eventBus *event.Bus, log zerolog.Logger) *Client {
	return &Client{bus: ipcBus, events: eventBus, log: log.With().Str("component", "credential").Logger()}
}

// RequestPSK starts an asynchronous PSK request for id. It returns
// immediately; the result arrives later as a PSKObtained event.
func (c *Client) RequestPSK(id int) {
	go c.run(id)
}

func (c *Client) run(id int) {
	ctx, cancel := context.WithTimeout(context.Background(), RequestTimeout)
	defer cancel()

	resp, err := c.bus.Call(ctx, &ipcpb.PskRequest{EndpointId: int32(id)})
	if err != nil {
		c.log.Warn().Err(err).Int("endpoint_id", id).Msg("psk request failed")
		c.events.Push(event.PSKObtained, &event.PSKResult{EndpointID: id, Err: err})
		return
	}

	if resp.Error != "" {
		c.log.Warn().Str("reason", resp.Error).Int("endpoint_id", id).Msg("trust service declined psk")
		c.events.Push(event.PSKObtained, &event.PSKResult{EndpointID: id, Err: errString(resp.Error)})
		return
	}

	c.events.Push(event.PSKObtained, &event.PSKResult{
		EndpointID: id,
		PSKHex:     resp.PskHex,
		Identity:   resp.Identity,
	})
}

type errString string

func (e errString) Error() string { return string(e) }

// MockBus is an in-process stand-in for the real ubus transport,
// useful for tests and for running the daemon without a trust service
// attached. Responder is called synchronously inside Call; a nil
// Responder makes every request time out, exercising spec.md's E3
// scenario. Call still marshals the request and response through
// ipcpb's gogo/protobuf types, the same encoding a real ubus transport
// would apply, so a field that doesn't survive the wire shows up here
// instead of only in production.
type MockBus struct {
	Responder func(req *ipcpb.PskRequest) (*ipcpb.PskResponse, error)
}

// Call implements Bus.
func (m *MockBus) Call(ctx context.Context, req *ipcpb.PskRequest) (*ipcpb.PskResponse, error) {
	if m.Responder == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	wire, err := proto.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("credential: marshal request: %w", err)
	}
	onWire := new(ipcpb.PskRequest)
	if err := proto.Unmarshal(wire, onWire); err != nil {
		return nil, fmt.Errorf("credential: unmarshal request: %w", err)
	}

	resp, err := m.Responder(onWire)
	if err != nil {
		return nil, err
	}

	wire, err = proto.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("credential: marshal response: %w", err)
	}
	onWireResp := new(ipcpb.PskResponse)
	if err := proto.Unmarshal(wire, onWireResp); err != nil {
		return nil, fmt.Errorf("credential: unmarshal response: %w", err)
	}
	return onWireResp, nil
}
