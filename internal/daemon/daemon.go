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

// Package daemon runs the main loop: each tick, the connection manager
// and UI controller run their periodic sweeps, then every event
// queued since the last tick is fanned out to a fixed, ordered list of
// consumers. The consumer order is load-bearing — connection manager
// before registry before UI before session before history — and
// matches provisioning_daemon.c's main loop exactly.
package daemon

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/creatordev/provisiond/internal/connmgr"
	"github.com/creatordev/provisiond/internal/event"
	"github.com/creatordev/provisiond/internal/history"
	"github.com/creatordev/provisiond/internal/registry"
	"github.com/creatordev/provisiond/internal/session"
	"github.com/creatordev/provisiond/internal/ui"
)

// TickInterval is the main loop's target period; provisioning_daemon.c
// sleeps off whatever's left of a 50ms budget after each pass.
const TickInterval = 50 * time.Millisecond

// consumer is anything that can absorb one Event off the bus.
type consumer interface {
	ConsumeEvent(event.Event)
}

// Daemon wires every component together and drives the tick loop.
type Daemon struct {
	events    *event.Bus
	conn      *connmgr.Manager
	reg       *registry.Registry
	uiCtrl    *ui.Controller
	sessionSM *session.Machine
	hist      *history.Store
	consumers []consumer
	log       zerolog.Logger
}

// New returns a Daemon with the fixed consumer dispatch order baked
// in: connection manager, registry, UI, session state machine,
// history — matching the original main loop's comment "order of
// consumers DO MATTER".
func New(events *event.Bus, conn *connmgr.Manager, reg *registry.Registry, uiCtrl *ui.Controller, sessionSM *session.Machine, hist *history.Store, log zerolog.Logger) *Daemon {
	return &Daemon{
		events:    events,
		conn:      conn,
		reg:       reg,
		uiCtrl:    uiCtrl,
		sessionSM: sessionSM,
		hist:      hist,
		consumers: []consumer{conn, reg, uiCtrl, sessionSM, hist},
		log:       log.With().Str("component", "daemon").Logger(),
	}
}

// Run blocks until ctx is canceled, ticking at TickInterval.
func (d *Daemon) Run(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	d.log.Info().Msg("entering main loop")
	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("exit triggered, shutting down")
			return
		case <-ticker.C:
			d.tick()
		}
	}
}

func (d *Daemon) tick() {
	d.conn.Tick()
	d.uiCtrl.Tick(d.conn.Disconnect)

	for _, ev := range d.events.PopAll() {
		for _, c := range d.consumers {
			c.ConsumeEvent(ev)
		}
	}
}
