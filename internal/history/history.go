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

// Package history keeps a short-lived record of recently provisioned
// endpoints for the UI to display, independent of whether the
// endpoint is still connected.
package history

import (
	"sync"
	"time"

	"github.com/creatordev/provisiond/internal/event"
)

// TTL is how long an entry survives before GetAll prunes it.
const TTL = 10 * time.Minute

// Entry is one provisioning outcome.
type Entry struct {
	ID          int
	DisplayName string
	Timestamp   time.Time
	Errored     bool
}

// Store is a thread-safe, TTL-pruned set of Entries keyed by endpoint id.
type Store struct {
	mu      sync.Mutex
	entries map[int]Entry
	now     func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{entries: make(map[int]Entry), now: time.Now}
}

// Add records id as provisioned (successfully unless errored is
// true) at the current time, overwriting any existing entry for id.
func (s *Store) Add(id int, displayName string, errored bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = Entry{ID: id, DisplayName: displayName, Timestamp: s.now(), Errored: errored}
}

// Remove deletes id's entry, if any. The session state machine calls
// this before starting a new provisioning attempt so a stale row from
// a prior attempt never lingers alongside a fresh one.
func (s *Store) Remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// GetAll returns every live (non-expired) entry, pruning expired ones
// as a side effect of the read — there is no separate sweep goroutine.
func (s *Store) GetAll() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now()
	out := make([]Entry, 0, len(s.entries))
	for id, e := range s.entries {
		if cutoff.Sub(e.Timestamp) > TTL {
			delete(s.entries, id)
			continue
		}
		out = append(out, e)
	}
	return out
}

// ConsumeEvent handles HistoryAdd and HistoryRemove. HistoryAdd's
// displayName/errored fields ride along in the payload since the bus
// only carries an id for this event kind per spec.md §4.C — the
// session state machine looks up the display name itself before
// pushing, so AddPayload carries what the bare int alone cannot.
func (s *Store) ConsumeEvent(ev event.Event) {
	switch ev.Kind {
	case event.HistoryAdd:
		switch p := ev.Payload.(type) {
		case int:
			s.Add(p, "", false)
		case AddPayload:
			s.Add(p.ID, p.DisplayName, p.Errored)
		}
	case event.HistoryRemove:
		if id, ok := ev.Payload.(int); ok {
			s.Remove(id)
		}
	}
}

// AddPayload is the richer HistoryAdd payload the session state
// machine pushes, carrying the display name and errored flag that a
// bare endpoint id can't.
type AddPayload struct {
	ID          int
	DisplayName string
	Errored     bool
}
