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

// Package ui tracks which endpoints are connected, which one is
// "selected", and drives the highlight broadcast and local/remote
// provisioning-control gating that stand in for the physical
// button/LED panel on the real device (out of core scope; Indicator
// is the seam a real LED driver plugs into).
package ui

import (
	"sync"
	"time"

	"github.com/creatordev/provisiond/internal/event"
	"github.com/creatordev/provisiond/internal/registry"
)

// FinishedLinger is how long a successfully provisioned endpoint stays
// connected after finishing before the UI asks the connection manager
// to disconnect it.
const FinishedLinger = 3 * time.Second

// Indicator is the out-of-scope LED sink; a no-op by default.
type Indicator interface {
	SetHighlighted(id int, on bool)
}

type noopIndicator struct{}

func (noopIndicator) SetHighlighted(int, bool) {}

// Controller is the selection/visibility state machine.
type Controller struct {
	mu       sync.Mutex
	ids      []int
	selected int // 0 means "none selected"

	// LocalProvisionCtrl/RemoteProvisionCtrl gate whether button-driven
	// and remote-IPC-driven CLICKER_SELECT/CLICKER_START_PROVISION
	// requests are honored (SPEC_FULL.md §11, from controls.c's
	// controls_init(enableButtons) and ubus_agent.c's remote command
	// gating).
	LocalProvisionCtrl  bool
	RemoteProvisionCtrl bool

	indicator Indicator
	events    *event.Bus
	reg       *registry.Registry
	now       func() time.Time
}

// New returns a Controller with both provisioning-control gates
// enabled; main.go overwrites them from the loaded config immediately
// after construction, where RemoteProvisionCtrl defaults to false
// (spec.md §6).
func New(events *event.Bus, reg *registry.Registry, indicator Indicator) *Controller {
	if indicator == nil {
		indicator = noopIndicator{}
	}
	return &Controller{
		LocalProvisionCtrl:  true,
		RemoteProvisionCtrl: true,
		indicator:           indicator,
		events:              events,
		reg:                 reg,
		now:                 time.Now,
	}
}

// GetSelectedID returns the currently selected endpoint id, or 0 if
// none is selected.
func (c *Controller) GetSelectedID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// GetAllIDs returns connected endpoint ids in creation order.
func (c *Controller) GetAllIDs() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, len(c.ids))
	copy(out, c.ids)
	return out
}

// SetSelectedID explicitly selects id, broadcasting highlight changes.
// A request for an id not currently connected is ignored.
func (c *Controller) SetSelectedID(id int) {
	c.mu.Lock()
	if !contains(c.ids, id) {
		c.mu.Unlock()
		return
	}
	prev := c.selected
	c.selected = id
	snapshot := append([]int(nil), c.ids...)
	c.mu.Unlock()

	if prev != id {
		c.broadcastHighlight(snapshot, id)
	}
}

func (c *Controller) broadcastHighlight(ids []int, selected int) {
	for _, id := range ids {
		cmd := byte(1) // ENABLE_HIGHLIGHT
		on := id == selected
		if !on {
			cmd = 2 // DISABLE_HIGHLIGHT
		}
		c.indicator.SetHighlighted(id, on)
		c.events.Push(event.ConnectionSendCommand, &event.NetPack{EndpointID: id, Cmd: cmd})
	}
}

// ConsumeEvent handles ClickerCreate (append + auto-select if none
// selected), ClickerDestroy (remove + clamp selection), and
// ClickerSelect (explicit selection, gated by RemoteProvisionCtrl
// since remote selection arrives over the IPC surface).
func (c *Controller) ConsumeEvent(ev event.Event) {
	switch ev.Kind {
	case event.ClickerCreate:
		id, ok := ev.Payload.(int)
		if !ok {
			return
		}
		c.add(id)
	case event.ClickerDestroy:
		id, ok := ev.Payload.(int)
		if !ok {
			return
		}
		c.removeAndClamp(id)
	case event.ClickerSelect:
		id, ok := ev.Payload.(int)
		if !ok {
			return
		}
		if !c.RemoteProvisionCtrl {
			return
		}
		c.SetSelectedID(id)
	}
}

func (c *Controller) add(id int) {
	c.mu.Lock()
	if contains(c.ids, id) {
		c.mu.Unlock()
		return
	}
	c.ids = append(c.ids, id)
	selectNow := c.selected == 0
	if selectNow {
		c.selected = id
	}
	snapshot := append([]int(nil), c.ids...)
	c.mu.Unlock()

	if selectNow {
		c.broadcastHighlight(snapshot, id)
	}
}

func (c *Controller) removeAndClamp(id int) {
	c.mu.Lock()
	idx := indexOf(c.ids, id)
	if idx < 0 {
		c.mu.Unlock()
		return
	}
	c.ids = append(c.ids[:idx], c.ids[idx+1:]...)

	wasSelected := c.selected == id
	if wasSelected {
		if len(c.ids) == 0 {
			c.selected = 0
		} else if idx < len(c.ids) {
			c.selected = c.ids[idx]
		} else {
			c.selected = c.ids[len(c.ids)-1]
		}
	}
	newSelected := c.selected
	snapshot := append([]int(nil), c.ids...)
	c.mu.Unlock()

	if wasSelected && newSelected != 0 {
		c.broadcastHighlight(snapshot, newSelected)
	}
}

// Tick runs the per-loop-iteration sweep: any endpoint that finished
// provisioning more than FinishedLinger ago is asked to disconnect.
func (c *Controller) Tick(disconnect func(id int)) {
	for _, id := range c.GetAllIDs() {
		ep := c.reg.Acquire(id)
		if ep == nil {
			continue
		}
		finishedAgo := ep.FinishedAtMillis
		c.reg.Release(ep)

		if finishedAgo == 0 {
			continue
		}
		elapsed := c.now().UnixMilli() - finishedAgo
		if elapsed > FinishedLinger.Milliseconds() {
			disconnect(id)
		}
	}
}

// SelectNext advances the selection to the next connected endpoint,
// wrapping back to the first. It is the Go stand-in for controls.c's
// SWITCH_1_PRESSED handler (SelectNextClickerCallback), gated by
// LocalProvisionCtrl the way controls_init(enableButtons) gates that
// physical switch.
func (c *Controller) SelectNext() {
	if !c.LocalProvisionCtrl {
		return
	}
	c.mu.Lock()
	if len(c.ids) == 0 {
		c.selected = 0
		c.mu.Unlock()
		return
	}
	idx := indexOf(c.ids, c.selected) + 1
	if idx >= len(c.ids) {
		idx = 0
	}
	next := c.ids[idx]
	c.selected = next
	snapshot := append([]int(nil), c.ids...)
	c.mu.Unlock()

	c.broadcastHighlight(snapshot, next)
}

// StartProvisionSelected requests provisioning for whichever endpoint
// is currently selected, standing in for controls.c's SWITCH_2_PRESSED
// handler (StartProvisionCallback); gated by LocalProvisionCtrl.
func (c *Controller) StartProvisionSelected() {
	if !c.LocalProvisionCtrl {
		return
	}
	id := c.GetSelectedID()
	if id == 0 {
		return
	}
	c.events.Push(event.ClickerStartProvision, id)
}

func contains(ids []int, id int) bool { return indexOf(ids, id) >= 0 }

func indexOf(ids []int, id int) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
