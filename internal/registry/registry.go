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

// Package registry owns every Endpoint record for the daemon's
// lifetime. All other components hold only temporary, reference
// counted views acquired through Acquire/Release; the registry is the
// sole owner and the only thing allowed to destroy a record.
package registry

import (
	"sync"

	"github.com/creatordev/provisiond/internal/dhcrypto"
	"github.com/creatordev/provisiond/internal/event"
)

// Endpoint is one connected remote clicker's session state.
type Endpoint struct {
	ID          int
	DisplayName string

	LocalKey  []byte
	RemoteKey []byte
	SharedKey []byte

	PSK      []byte
	Identity []byte

	Exchanger *dhcrypto.Exchanger

	ProvisioningInProgress bool
	FinishedAtMillis       int64
	ErrorCode              int

	mu sync.Mutex

	ownershipCount int
}

// Lock and Unlock operate the per-record mutex that Acquire takes and
// Release drops; a caller holding an Acquire-returned reference already
// holds this lock and must not call Lock again.
func (e *Endpoint) Lock()   { e.mu.Lock() }
func (e *Endpoint) Unlock() { e.mu.Unlock() }

// Error codes for Endpoint.ErrorCode, mirroring spec.md §7.
const (
	ErrNone = iota
	ErrGeneratePSK
	ErrEncoderAlloc
)

// NewFunc builds the per-endpoint DH exchanger; the registry doesn't
// know the modulus/generator/random source itself (those are daemon
// config), so Registry.Create takes a factory.
type NewFunc func(id int) *dhcrypto.Exchanger

// Registry is the two-lock endpoint store: a global mutex protects
// the id->record map and the ownership counters, while each record's
// own mutex serializes the per-endpoint work consumers do once they
// hold a reference. Acquire takes the global lock only long enough to
// bump the count before locking the per-record mutex outside of it,
// so acquiring two different ids never contends.
type Registry struct {
	mu      sync.Mutex
	byID    map[int]*Endpoint
	order   []int
	newFunc NewFunc
}

// New returns an empty Registry. newFunc is invoked once per Create
// to build that endpoint's DH exchanger context.
func New(newFunc NewFunc) *Registry {
	return &Registry{
		byID:    make(map[int]*Endpoint),
		newFunc: newFunc,
	}
}

// Create inserts a record for id with ownershipCount=1 — the
// registry's own reference — and returns it. If id already exists,
// Create is a no-op and returns the existing record.
func (r *Registry) Create(id int) *Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ep, ok := r.byID[id]; ok {
		return ep
	}

	ep := &Endpoint{ID: id, ownershipCount: 1}
	if r.newFunc != nil {
		ep.Exchanger = r.newFunc(id)
	}
	r.byID[id] = ep
	r.order = append(r.order, id)
	return ep
}

// Remove decrements the registry-held reference and, if the record's
// ownershipCount has dropped to zero, destroys it immediately.
// Otherwise the record is unmapped but survives until the last
// outstanding Acquire calls Release (two-phase retirement).
func (r *Registry) Remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ep, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	ep.ownershipCount--
	// the record is now unmapped; if no Acquire is outstanding its
	// count is zero as well. Either way there is nothing further to do
	// here — Go's GC reclaims ep once the last reference drops, unlike
	// the original's explicit free().
}

// Acquire increments ownershipCount and returns the record, or nil if
// no record with this id exists. Callers must call Release exactly
// once for every successful Acquire.
func (r *Registry) Acquire(id int) *Endpoint {
	r.mu.Lock()
	ep, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	ep.ownershipCount++
	r.mu.Unlock()

	ep.Lock()
	return ep
}

// Release drops the per-record lock acquired by Acquire and
// decrements ownershipCount. If the count reaches zero and the
// registry slot is already gone (Remove ran while this reference was
// outstanding), the record is now fully retired.
func (r *Registry) Release(ep *Endpoint) {
	r.mu.Lock()
	ep.ownershipCount--
	_, stillMapped := r.byID[ep.ID]
	r.mu.Unlock()

	ep.Unlock()

	_ = stillMapped // retirement is implicit once unreferenced; see Remove.
}

// Count returns the number of endpoints currently mapped.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// OrderedIDs returns connected endpoint ids in creation order
// (clicker_GetClickerAtIndex). internal/ui keeps its own ordered id
// list and does not call this.
func (r *Registry) OrderedIDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.order))
	copy(out, r.order)
	return out
}

// ConsumeEvent handles ClickerCreate and ClickerDestroy, per spec.md
// §4.D's consume_event. Other event kinds are ignored; the registry
// only reacts to connection lifecycle.
func (r *Registry) ConsumeEvent(ev event.Event) {
	switch ev.Kind {
	case event.ClickerCreate:
		id, ok := ev.Payload.(int)
		if !ok {
			return
		}
		r.Create(id)
	case event.ClickerDestroy:
		id, ok := ev.Payload.(int)
		if !ok {
			return
		}
		r.Remove(id)
	}
}
