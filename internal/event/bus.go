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

// Package event implements the daemon's single mutex-guarded FIFO
// event bus. Components hand work to one another mainly by pushing
// typed Events that the daemon's main loop drains in a fixed dispatch
// order; the direct cross-package calls that remain are registry
// Acquire/Release, the credential client's RequestPSK, and the
// daemon's periodic Tick calls.
package event

import "sync"

// Kind identifies the shape of an Event's Payload.
type Kind int

const (
	// ClickerCreate carries an int endpoint id.
	ClickerCreate Kind = iota
	// ClickerDestroy carries an int endpoint id.
	ClickerDestroy
	// ClickerSelect carries an int endpoint id.
	ClickerSelect
	// ClickerStartProvision carries an int endpoint id.
	ClickerStartProvision
	// ConnectionSendCommand carries a *NetPack.
	ConnectionSendCommand
	// ConnectionReceivedCommand carries a *NetPack.
	ConnectionReceivedCommand
	// PSKObtained carries a *PSKResult.
	PSKObtained
	// TryToSendPSKToClicker carries an int endpoint id.
	TryToSendPSKToClicker
	// HistoryAdd carries an int endpoint id, or an
	// internal/history.AddPayload when the producer also has the
	// display name and errored flag in hand.
	HistoryAdd
	// HistoryRemove carries an int endpoint id.
	HistoryRemove
)

// String names a Kind for logging.
func (k Kind) String() string {
	switch k {
	case ClickerCreate:
		return "CLICKER_CREATE"
	case ClickerDestroy:
		return "CLICKER_DESTROY"
	case ClickerSelect:
		return "CLICKER_SELECT"
	case ClickerStartProvision:
		return "CLICKER_START_PROVISION"
	case ConnectionSendCommand:
		return "CONNECTION_SEND_COMMAND"
	case ConnectionReceivedCommand:
		return "CONNECTION_RECEIVED_COMMAND"
	case PSKObtained:
		return "PSK_OBTAINED"
	case TryToSendPSKToClicker:
		return "TRY_TO_SEND_PSK_TO_CLICKER"
	case HistoryAdd:
		return "HISTORY_ADD"
	case HistoryRemove:
		return "HISTORY_REMOVE"
	default:
		return "UNKNOWN"
	}
}

// NetPack is the payload shape for ConnectionSendCommand and
// ConnectionReceivedCommand: a command frame addressed to (or
// received from) one endpoint.
type NetPack struct {
	EndpointID int
	Cmd        byte
	Data       []byte
}

// PSKResult is the payload for PSKObtained. A nil-equivalent PSK
// (empty string) signals the credential client failed or timed out.
type PSKResult struct {
	EndpointID int
	PSKHex     string
	Identity   string
	Err        error
}

// Event is one entry on the bus.
type Event struct {
	Kind    Kind
	Payload interface{}
}

// Bus is a thread-safe FIFO queue of Events. The zero value is usable.
type Bus struct {
	mu    sync.Mutex
	queue []Event
}

// New returns an empty Bus.
func New() *Bus { return &Bus{} }

// Push appends an Event to the tail of the queue.
func (b *Bus) Push(kind Kind, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, Event{Kind: kind, Payload: payload})
}

// Pop removes and returns the Event at the head of the queue. ok is
// false if the queue was empty.
func (b *Bus) Pop() (ev Event, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return Event{}, false
	}
	ev = b.queue[0]
	b.queue = b.queue[1:]
	return ev, true
}

// Len reports the number of Events currently queued.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// PopAll atomically removes and returns every Event currently queued,
// in FIFO order. internal/daemon uses this once per tick, then fans
// each returned Event out to its fixed, ordered list of consumers
// (connection manager, registry, UI, session SM, history) — the fixed
// consumer order lives there, not in Bus, since Bus only owns the
// queue itself. Events a consumer pushes while handling this batch
// land in the queue for the next tick, so one PopAll always
// terminates.
func (b *Bus) PopAll() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	pending := b.queue
	b.queue = nil
	return pending
}
