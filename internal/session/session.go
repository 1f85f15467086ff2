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

// Package session implements the per-endpoint progression through key
// exchange and PSK acquisition: CLICKER_CREATE triggers name and
// local-key generation, a received KEY command completes the DH
// exchange, CLICKER_START_PROVISION kicks off the credential request,
// and the arrival of either the shared key or the PSK — whichever
// comes last — triggers the encrypted config delivery.
package session

import (
	"encoding/hex"
	"time"

	"github.com/rs/zerolog"

	"github.com/creatordev/provisiond/internal/credential"
	"github.com/creatordev/provisiond/internal/event"
	"github.com/creatordev/provisiond/internal/history"
	"github.com/creatordev/provisiond/internal/payload"
	"github.com/creatordev/provisiond/internal/registry"
	"github.com/creatordev/provisiond/internal/wire"
)

// Config holds the per-daemon values the state machine needs but
// doesn't own: the outbound config payload fields and the endpoint
// naming template (spec.md §6).
type Config struct {
	BootstrapURI        string
	DefaultRouteURI     string
	DNSServer           string
	EndpointNamePattern string
}

// PeerIPLookup resolves an endpoint id to its peer's text IP, for
// name generation. internal/connmgr implements this.
type PeerIPLookup interface {
	PeerIP(id int) string
}

// Machine is the session state machine. It holds no per-endpoint
// state itself — all of that lives in the registry's Endpoint
// records, reached through Acquire/Release — so Machine is safe to
// share across the goroutines that call ConsumeEvent.
type Machine struct {
	reg    *registry.Registry
	events *event.Bus
	hist   *history.Store
	cred   *credential.Client
	ips    PeerIPLookup
	cfg    Config
	log    zerolog.Logger
	now    func() time.Time
}

// New returns a Machine wired to its collaborators.
func New(reg *registry.Registry, events *event.Bus, hist *history.Store, cred *credential.Client, ips PeerIPLookup, cfg Config, log zerolog.Logger) *Machine {
	return &Machine{
		reg:    reg,
		events: events,
		hist:   hist,
		cred:   cred,
		ips:    ips,
		cfg:    cfg,
		log:    log.With().Str("component", "session").Logger(),
		now:    time.Now,
	}
}

// ConsumeEvent dispatches one Event to the matching handler. Unknown
// kinds and ClickerDestroy (handled entirely by the registry) are
// no-ops here, matching clicker_sm_ConsumeEvent's fallthrough.
func (m *Machine) ConsumeEvent(ev event.Event) {
	switch ev.Kind {
	case event.ClickerCreate:
		if id, ok := ev.Payload.(int); ok {
			m.handleCreate(id)
		}
	case event.ConnectionReceivedCommand:
		if np, ok := ev.Payload.(*event.NetPack); ok {
			m.handleReceivedCommand(np)
		}
	case event.ClickerStartProvision:
		if id, ok := ev.Payload.(int); ok {
			m.handleStartProvision(id)
		}
	case event.PSKObtained:
		if result, ok := ev.Payload.(*event.PSKResult); ok {
			m.handlePSKObtained(result)
		}
	case event.TryToSendPSKToClicker:
		if id, ok := ev.Payload.(int); ok {
			m.handleTrySendPSK(id)
		}
	}
}

// acquire wraps Registry.Acquire with the PeerGone log-and-drop
// behavior spec.md §7 requires of every handler.
func (m *Machine) acquire(id int, op string) *registry.Endpoint {
	ep := m.reg.Acquire(id)
	if ep == nil {
		m.log.Debug().Int("endpoint_id", id).Str("op", op).Msg("endpoint gone, dropping event")
	}
	return ep
}

func (m *Machine) handleCreate(id int) {
	ip := "Unknown"
	if m.ips != nil {
		if v := m.ips.PeerIP(id); v != "" {
			ip = v
		}
	}
	hash := timeHash(m.now().Unix())
	name := generateName(m.cfg.EndpointNamePattern, hash, ipFragment(ip), endpointNameMaxLen)

	ep := m.acquire(id, "handleCreate")
	if ep == nil {
		return
	}
	ep.DisplayName = name
	exch := ep.Exchanger
	if exch == nil {
		m.reg.Release(ep)
		m.log.Error().Int("endpoint_id", id).Msg("endpoint created without a DH exchanger")
		return
	}
	m.reg.Release(ep)

	localKey, err := exch.GenerateLocal()
	if err != nil {
		m.log.Error().Err(err).Int("endpoint_id", id).Msg("cannot generate local key, aborting session")
		return
	}

	ep = m.acquire(id, "handleCreate:store-local-key")
	if ep == nil {
		return
	}
	ep.LocalKey = localKey
	m.reg.Release(ep)

	m.events.Push(event.ConnectionSendCommand, &event.NetPack{
		EndpointID: id,
		Cmd:        byte(wire.CommandKey),
		Data:       localKey,
	})
}

func (m *Machine) handleReceivedCommand(np *event.NetPack) {
	if wire.Command(np.Cmd) != wire.CommandKey {
		return
	}

	ep := m.acquire(np.EndpointID, "handleReceivedCommand:key")
	if ep == nil {
		return
	}
	ep.RemoteKey = np.Data
	exch := ep.Exchanger
	id := ep.ID
	m.reg.Release(ep)

	if exch == nil {
		return
	}
	shared, err := exch.Complete(np.Data)
	if err != nil {
		m.log.Warn().Err(err).Int("endpoint_id", id).Msg("failed to complete dh exchange")
		return
	}

	ep = m.acquire(id, "handleReceivedCommand:store-shared-key")
	if ep == nil {
		return
	}
	ep.SharedKey = shared
	m.reg.Release(ep)

	m.events.Push(event.TryToSendPSKToClicker, id)
}

func (m *Machine) handleStartProvision(id int) {
	ep := m.acquire(id, "handleStartProvision")
	if ep == nil {
		return
	}
	ep.ProvisioningInProgress = true
	m.reg.Release(ep)

	m.events.Push(event.HistoryRemove, id)
	m.cred.RequestPSK(id)
}

func (m *Machine) handlePSKObtained(result *event.PSKResult) {
	ep := m.acquire(result.EndpointID, "handlePSKObtained")
	if ep == nil {
		return
	}

	if result.Err != nil || result.PSKHex == "" {
		ep.ErrorCode = registry.ErrGeneratePSK
		ep.ProvisioningInProgress = false
		m.reg.Release(ep)
		m.log.Warn().Err(result.Err).Int("endpoint_id", result.EndpointID).Msg("could not get psk from trust service")
		return
	}

	psk, err := hex.DecodeString(result.PSKHex)
	if err != nil {
		ep.ErrorCode = registry.ErrGeneratePSK
		ep.ProvisioningInProgress = false
		m.reg.Release(ep)
		m.log.Warn().Err(err).Int("endpoint_id", result.EndpointID).Msg("psk hex string malformed")
		return
	}
	ep.PSK = psk
	ep.Identity = []byte(result.Identity)
	name := ep.DisplayName
	id := ep.ID
	m.reg.Release(ep)

	m.events.Push(event.HistoryAdd, history.AddPayload{ID: id, DisplayName: name, Errored: false})
	m.events.Push(event.TryToSendPSKToClicker, id)
}

func (m *Machine) handleTrySendPSK(id int) {
	ep := m.acquire(id, "handleTrySendPSK")
	if ep == nil {
		return
	}

	if ep.SharedKey == nil || ep.PSK == nil {
		// either side still missing; the arrival of the missing piece
		// re-emits this event, so doing nothing now is correct.
		m.reg.Release(ep)
		return
	}

	deviceCfg := &payload.DeviceServerConfig{
		SecurityMode: 0,
		PSK:          ep.PSK,
		Identity:     ep.Identity,
		BootstrapURI: m.cfg.BootstrapURI,
	}
	networkCfg := &payload.NetworkConfig{
		DefaultRouteURI: m.cfg.DefaultRouteURI,
		DNSServer:       m.cfg.DNSServer,
		EndpointName:    ep.DisplayName,
	}
	sharedKey := ep.SharedKey

	deviceFrame, networkFrame, err := m.buildConfigFrames(deviceCfg, networkCfg, sharedKey)
	if err != nil {
		ep.ErrorCode = registry.ErrEncoderAlloc
		ep.ProvisioningInProgress = false
		m.reg.Release(ep)
		m.log.Error().Err(err).Int("endpoint_id", id).Msg("failed to encode provisioning payload")
		return
	}

	ep.FinishedAtMillis = m.now().UnixMilli()
	ep.ProvisioningInProgress = false
	m.reg.Release(ep)

	m.events.Push(event.ConnectionSendCommand, &event.NetPack{EndpointID: id, Cmd: byte(wire.CommandDeviceServerConf), Data: deviceFrame})
	m.events.Push(event.ConnectionSendCommand, &event.NetPack{EndpointID: id, Cmd: byte(wire.CommandNetworkConfig), Data: networkFrame})
}

func (m *Machine) buildConfigFrames(deviceCfg *payload.DeviceServerConfig, networkCfg *payload.NetworkConfig, sharedKey []byte) (device, network []byte, err error) {
	deviceBytes, err := deviceCfg.Marshal()
	if err != nil {
		return nil, nil, err
	}
	networkBytes, err := networkCfg.Marshal()
	if err != nil {
		return nil, nil, err
	}

	device, err = payload.Encode(deviceBytes, sharedKey)
	if err != nil {
		return nil, nil, err
	}
	network, err = payload.Encode(networkBytes, sharedKey)
	if err != nil {
		return nil, nil, err
	}
	return device, network, nil
}

// endpointNameMaxLen is COMMAND_ENDPOINT_NAME_LENGTH from commands.h.
const endpointNameMaxLen = 24
