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

// Package connmgr binds endpoints to TCP connections: it accepts
// incoming clicker sockets, frames their byte streams into wire
// commands with gaio's async I/O, and keeps them alive with a
// periodic keepalive send/timeout sweep.
package connmgr

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/rs/zerolog"
	"github.com/xtaci/gaio"

	"github.com/creatordev/provisiond/internal/event"
	"github.com/creatordev/provisiond/internal/wire"
)

const (
	// KeepAliveInterval is connection_manager.h's KEEP_ALIVE_INTERVAL_MS.
	KeepAliveInterval = 2000 * time.Millisecond
	// KeepAliveTimeout is connection_manager.h's KEEP_ALIVE_TIMEOUT_MS.
	KeepAliveTimeout = 30000 * time.Millisecond

	readChunkSize = 1024
)

// peer is one accepted clicker connection.
type peer struct {
	id            int
	conn          net.Conn
	ip            string
	recvBuf       []byte
	lastKeepAlive int64 // unix millis
}

// Manager owns the listening socket and every accepted peer
// connection. It implements session.PeerIPLookup and consumes
// ConnectionSendCommand events.
type Manager struct {
	listener *net.TCPListener
	watcher  *gaio.Watcher

	peersMu sync.Mutex
	peers   map[int]*peer
	idSeq   int64

	lastKeepAliveSend int64 // unix millis

	events *event.Bus
	log    zerolog.Logger

	die     chan struct{}
	dieOnce sync.Once
}

// New returns a Manager that has not yet bound a listening socket.
// Call Listen to start accepting connections.
func New(events *event.Bus, log zerolog.Logger) (*Manager, error) {
	watcher, err := gaio.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Manager{
		watcher: watcher,
		peers:   make(map[int]*peer),
		events:  events,
		log:     log.With().Str("component", "connmgr").Logger(),
		die:     make(chan struct{}),
	}, nil
}

// Listen binds an IPv6 TCP socket on port (dual-stack on most
// platforms) and starts the acceptor and I/O goroutines. net.ListenTCP
// already sets SO_REUSEADDR on POSIX, matching con_BindAndListen's
// explicit setsockopt call.
func (m *Manager) Listen(port int) error {
	ln, err := net.ListenTCP("tcp6", &net.TCPAddr{IP: net.IPv6zero, Port: port})
	if err != nil {
		return err
	}
	m.listener = ln

	go m.acceptLoop()
	go m.ioLoop()
	return nil
}

// Close stops accepting connections and tears down every peer.
func (m *Manager) Close() {
	m.dieOnce.Do(func() {
		close(m.die)
		if m.listener != nil {
			m.listener.Close()
		}
		m.watcher.Close()
	})
}

func (m *Manager) acceptLoop() {
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			select {
			case <-m.die:
				return
			default:
				m.log.Error().Err(err).Msg("accept failed")
				return
			}
		}
		m.addPeer(conn)
	}
}

func (m *Manager) addPeer(conn net.Conn) {
	id := int(atomic.AddInt64(&m.idSeq, 1))
	ip, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		ip = conn.RemoteAddr().String()
	}

	p := &peer{id: id, conn: conn, ip: ip, lastKeepAlive: time.Now().UnixMilli()}
	m.peersMu.Lock()
	m.peers[id] = p
	m.peersMu.Unlock()

	m.log.Info().Int("endpoint_id", id).Str("ip", ip).Msg("clicker connected")
	m.events.Push(event.ClickerCreate, id)

	if err := m.watcher.Read(p, conn, make([]byte, readChunkSize)); err != nil {
		m.log.Error().Err(err).Int("endpoint_id", id).Msg("failed to arm initial read")
		m.removePeer(p)
	}
}

func (m *Manager) ioLoop() {
	for {
		results, err := m.watcher.WaitIO()
		if err != nil {
			return
		}
		for _, res := range results {
			p, ok := res.Context.(*peer)
			if !ok {
				continue
			}
			switch res.Operation {
			case gaio.OpRead:
				m.handleRead(p, res)
			case gaio.OpWrite:
				if res.Error != nil {
					m.log.Warn().Err(res.Error).Int("endpoint_id", p.id).Msg("write failed")
					m.removePeer(p)
				}
			}
		}
	}
}

func (m *Manager) handleRead(p *peer, res gaio.OpResult) {
	if res.Error != nil {
		if res.Error != io.EOF {
			m.log.Debug().Err(res.Error).Int("endpoint_id", p.id).Msg("read error, disconnecting")
		}
		m.removePeer(p)
		return
	}
	if res.Size <= 0 {
		m.removePeer(p)
		return
	}

	p.recvBuf = append(p.recvBuf, res.Buffer[:res.Size]...)
	frames, remainder, err := wire.DecodeAll(p.recvBuf)
	if err != nil {
		m.log.Warn().Err(err).Int("endpoint_id", p.id).Msg("malformed frame, disconnecting")
		m.removePeer(p)
		return
	}
	p.recvBuf = remainder

	for _, f := range frames {
		m.handleFrame(p, f)
	}

	if err := m.watcher.Read(p, p.conn, make([]byte, readChunkSize)); err != nil {
		m.removePeer(p)
	}
}

func (m *Manager) handleFrame(p *peer, f wire.Frame) {
	if f.Cmd == wire.CommandKeepAlive {
		p.lastKeepAlive = time.Now().UnixMilli()
		return
	}
	m.events.Push(event.ConnectionReceivedCommand, &event.NetPack{
		EndpointID: p.id,
		Cmd:        byte(f.Cmd),
		Data:       f.Payload,
	})
}

func (m *Manager) removePeer(p *peer) {
	m.peersMu.Lock()
	_, existed := m.peers[p.id]
	delete(m.peers, p.id)
	m.peersMu.Unlock()
	if !existed {
		return
	}

	p.conn.Close()
	m.log.Info().Int("endpoint_id", p.id).Msg("clicker disconnected")
	m.events.Push(event.ClickerDestroy, p.id)
}

// Disconnect drops the connection for id, matching con_Disconnect.
// internal/ui's finished-linger sweep calls this.
func (m *Manager) Disconnect(id int) {
	m.peersMu.Lock()
	p, ok := m.peers[id]
	m.peersMu.Unlock()
	if ok {
		m.removePeer(p)
	}
}

// PeerIP implements session.PeerIPLookup.
func (m *Manager) PeerIP(id int) string {
	m.peersMu.Lock()
	defer m.peersMu.Unlock()
	if p, ok := m.peers[id]; ok {
		return p.ip
	}
	return ""
}

// ConsumeEvent handles ConnectionSendCommand; all other kinds are
// ignored, matching con_ConsumeEvent's single-case switch.
func (m *Manager) ConsumeEvent(ev event.Event) {
	if ev.Kind != event.ConnectionSendCommand {
		return
	}
	np, ok := ev.Payload.(*event.NetPack)
	if !ok {
		return
	}
	m.send(np.EndpointID, wire.Command(np.Cmd), np.Data)
}

func (m *Manager) send(id int, cmd wire.Command, data []byte) {
	m.peersMu.Lock()
	p, ok := m.peers[id]
	m.peersMu.Unlock()
	if !ok {
		m.log.Warn().Int("endpoint_id", id).Str("command", cmd.String()).Msg("cannot send, no connection")
		return
	}
	if len(data) > wire.MaxPayloadSize {
		m.log.Error().Int("endpoint_id", id).Str("size", bytefmt.ByteSize(uint64(len(data)))).Msg("payload too large to send")
		return
	}

	frame, err := wire.Encode(wire.Frame{Cmd: cmd, Payload: data})
	if err != nil {
		m.log.Error().Err(err).Int("endpoint_id", id).Msg("failed to encode outgoing frame")
		return
	}
	m.writeRaw(p, frame)
}

func (m *Manager) writeRaw(p *peer, frame []byte) {
	if err := m.watcher.Write(p, p.conn, frame); err != nil {
		m.log.Warn().Err(err).Int("endpoint_id", p.id).Msg("write failed")
		m.removePeer(p)
	}
}

// Tick sends keepalives and disconnects unresponsive peers. The
// daemon's main loop calls this periodically; the interval checks
// below are time-based, not tick-rate-based, matching
// con_ProcessConnections's own internal elapsed-time guards.
func (m *Manager) Tick() {
	now := time.Now().UnixMilli()

	if now-m.lastKeepAliveSend > KeepAliveInterval.Milliseconds() {
		m.lastKeepAliveSend = now
		for _, p := range m.snapshotPeers() {
			m.writeRaw(p, wire.KeepAliveBytes)
		}
	}

	var stale []*peer
	for _, p := range m.snapshotPeers() {
		if now-p.lastKeepAlive > KeepAliveTimeout.Milliseconds() {
			stale = append(stale, p)
		}
	}
	for _, p := range stale {
		m.removePeer(p)
	}
}

func (m *Manager) snapshotPeers() []*peer {
	m.peersMu.Lock()
	defer m.peersMu.Unlock()
	out := make([]*peer, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	return out
}

// Count reports the number of currently connected peers.
func (m *Manager) Count() int {
	m.peersMu.Lock()
	defer m.peersMu.Unlock()
	return len(m.peers)
}
