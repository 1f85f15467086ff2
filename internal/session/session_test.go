package session

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatordev/provisiond/internal/credential"
	"github.com/creatordev/provisiond/internal/dhcrypto"
	"github.com/creatordev/provisiond/internal/event"
	"github.com/creatordev/provisiond/internal/history"
	"github.com/creatordev/provisiond/internal/ipcpb"
	"github.com/creatordev/provisiond/internal/payload"
	"github.com/creatordev/provisiond/internal/registry"
	"github.com/creatordev/provisiond/internal/wire"
)

// dumpOnFailure spews v's full structure into the test log when t
// ultimately fails, useful for an Endpoint whose state has been
// mutated by a whole chain of ConsumeEvent calls by the time an
// assertion trips.
func dumpOnFailure(t *testing.T, label string, v interface{}) {
	t.Helper()
	t.Cleanup(func() {
		if t.Failed() {
			t.Logf("%s:\n%s", label, spew.Sdump(v))
		}
	})
}

// testP matches dhcrypto's own test modulus: a 128-bit prime-ish value.
var testP = []byte{
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xC5,
}

// unitExponentRandom always yields x=1, reproducing E1's "fixed x=0x01".
func unitExponentRandom(buf []byte) error {
	for i := range buf {
		buf[i] = 0
	}
	buf[len(buf)-1] = 1
	return nil
}

type stubIPLookup struct{ ip string }

func (s stubIPLookup) PeerIP(id int) string { return s.ip }

func newTestMachine(t *testing.T, events *event.Bus, cred *credential.Client) (*Machine, *registry.Registry, *history.Store) {
	t.Helper()
	reg := registry.New(func(id int) *dhcrypto.Exchanger {
		return dhcrypto.NewExchanger(testP, 16, 2, unitExponentRandom)
	})
	hist := history.New()
	cfg := Config{
		BootstrapURI:        "coaps://deviceserver.creatordev.io:15684",
		DefaultRouteURI:     "fd00::1",
		DNSServer:           "fd00::2",
		EndpointNamePattern: "cd_{t}_{i}",
	}
	m := New(reg, events, hist, cred, stubIPLookup{ip: "192.168.1.42"}, cfg, zerolog.Nop())
	return m, reg, hist
}

func drainAll(bus *event.Bus) []event.Event {
	var out []event.Event
	for {
		ev, ok := bus.Pop()
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

// E1 — happy path: create, exchange, start provision, PSK arrives,
// DEVICE_SERVER_CONFIG and NETWORK_CONFIG are emitted.
func TestHappyPathProducesConfigFrames(t *testing.T) {
	mock := &credential.MockBus{Responder: func(req *ipcpb.PskRequest) (*ipcpb.PskResponse, error) {
		return &ipcpb.PskResponse{PskHex: "00112233445566778899aabbccddeeff", Identity: "ep1"}, nil
	}}
	events := event.New()
	cred := credential.New(mock, events, zerolog.Nop())

	m, reg, hist := newTestMachine(t, events, cred)

	reg.Create(1)
	m.ConsumeEvent(event.Event{Kind: event.ClickerCreate, Payload: 1})

	sent := drainAll(events)
	require.Len(t, sent, 1)
	localKeyFrame := sent[0].Payload.(*event.NetPack)
	assert.Equal(t, byte(wire.CommandKey), localKeyFrame.Cmd)
	assert.Len(t, localKeyFrame.Data, 16)

	// peer echoes back its own public key under the same x=1 exchanger,
	// so shared = peerPublic^1 mod p = peerPublic.
	peerPublic := make([]byte, 16)
	peerPublic[15] = 0x2A
	m.ConsumeEvent(event.Event{
		Kind:    event.ConnectionReceivedCommand,
		Payload: &event.NetPack{EndpointID: 1, Cmd: byte(wire.CommandKey), Data: peerPublic},
	})

	afterKey := drainAll(events)
	require.Len(t, afterKey, 1)
	assert.Equal(t, event.TryToSendPSKToClicker, afterKey[0].Kind)

	m.ConsumeEvent(afterKey[0])
	// shared+psk both missing psk still -> no-op so far
	assert.Empty(t, drainAll(events))

	m.ConsumeEvent(event.Event{Kind: event.ClickerStartProvision, Payload: 1})
	startEvents := drainAll(events)
	require.Len(t, startEvents, 1)
	assert.Equal(t, event.HistoryRemove, startEvents[0].Kind)

	// let the credential worker goroutine post PSKObtained
	var pskEv event.Event
	require.Eventually(t, func() bool {
		ev, ok := events.Pop()
		if ok {
			pskEv = ev
			return true
		}
		return false
	}, time.Second, time.Millisecond)
	require.Equal(t, event.PSKObtained, pskEv.Kind)

	m.ConsumeEvent(pskEv)
	afterPSK := drainAll(events)
	require.Len(t, afterPSK, 2)
	assert.Equal(t, event.HistoryAdd, afterPSK[0].Kind)
	assert.Equal(t, event.TryToSendPSKToClicker, afterPSK[1].Kind)
	assert.Len(t, hist.GetAll(), 0, "HistoryAdd is queued, not yet consumed")

	m.ConsumeEvent(afterPSK[1])
	final := drainAll(events)
	require.Len(t, final, 2)
	assert.Equal(t, byte(wire.CommandDeviceServerConf), final[0].Payload.(*event.NetPack).Cmd)
	assert.Equal(t, byte(wire.CommandNetworkConfig), final[1].Payload.(*event.NetPack).Cmd)

	ep := reg.Acquire(1)
	require.NotNil(t, ep)
	dumpOnFailure(t, "endpoint after happy path", ep)
	assert.False(t, ep.ProvisioningInProgress)
	assert.Greater(t, ep.FinishedAtMillis, int64(0))
	sharedKey := ep.SharedKey
	reg.Release(ep)

	// confirm the frames really are the encoder's output under shared key
	deviceCfg := &payload.DeviceServerConfig{
		SecurityMode: 0,
		PSK:          mustHexDecode("00112233445566778899aabbccddeeff"),
		Identity:     []byte("ep1"),
		BootstrapURI: "coaps://deviceserver.creatordev.io:15684",
	}
	raw, err := deviceCfg.Marshal()
	require.NoError(t, err)
	expected, err := payload.Encode(raw, sharedKey)
	require.NoError(t, err)
	assert.Equal(t, expected, final[0].Payload.(*event.NetPack).Data)
}

// E3 — PSK service down: timeout surfaces as an error, no config sent.
func TestPSKTimeoutSetsErrorCode(t *testing.T) {
	old := credential.RequestTimeout
	credential.RequestTimeout = 30 * time.Millisecond
	defer func() { credential.RequestTimeout = old }()

	mock := &credential.MockBus{}
	events := event.New()
	cred := credential.New(mock, events, zerolog.Nop())
	m, reg, _ := newTestMachine(t, events, cred)

	reg.Create(3)
	m.ConsumeEvent(event.Event{Kind: event.ClickerCreate, Payload: 3})
	drainAll(events)

	m.ConsumeEvent(event.Event{Kind: event.ClickerStartProvision, Payload: 3})
	drainAll(events)

	var pskEv event.Event
	require.Eventually(t, func() bool {
		ev, ok := events.Pop()
		if ok {
			pskEv = ev
			return true
		}
		return false
	}, 2*time.Second, time.Millisecond)

	m.ConsumeEvent(pskEv)
	assert.Empty(t, drainAll(events), "no TryToSendPSKToClicker or config frames on failure")

	ep := reg.Acquire(3)
	require.NotNil(t, ep)
	assert.Equal(t, registry.ErrGeneratePSK, ep.ErrorCode)
	assert.False(t, ep.ProvisioningInProgress)
	reg.Release(ep)
}

// E4 — out-of-order arrival: KEY before START_PROVISION; config is
// sent exactly once, at PSK arrival.
func TestOutOfOrderArrivalSendsConfigExactlyOnce(t *testing.T) {
	mock := &credential.MockBus{Responder: func(req *ipcpb.PskRequest) (*ipcpb.PskResponse, error) {
		return &ipcpb.PskResponse{PskHex: "aabbcc", Identity: "ep4"}, nil
	}}
	events := event.New()
	cred := credential.New(mock, events, zerolog.Nop())
	m, reg, _ := newTestMachine(t, events, cred)

	reg.Create(4)
	m.ConsumeEvent(event.Event{Kind: event.ClickerCreate, Payload: 4})
	drainAll(events)

	peerPublic := make([]byte, 16)
	peerPublic[15] = 0x07
	m.ConsumeEvent(event.Event{
		Kind:    event.ConnectionReceivedCommand,
		Payload: &event.NetPack{EndpointID: 4, Cmd: byte(wire.CommandKey), Data: peerPublic},
	})
	tryEvents := drainAll(events)
	require.Len(t, tryEvents, 1)
	m.ConsumeEvent(tryEvents[0]) // shared key present, psk absent -> no-op
	assert.Empty(t, drainAll(events))

	m.ConsumeEvent(event.Event{Kind: event.ClickerStartProvision, Payload: 4})
	drainAll(events)

	var pskEv event.Event
	require.Eventually(t, func() bool {
		ev, ok := events.Pop()
		if ok {
			pskEv = ev
			return true
		}
		return false
	}, time.Second, time.Millisecond)

	m.ConsumeEvent(pskEv)
	afterPSK := drainAll(events)
	require.Len(t, afterPSK, 2)
	m.ConsumeEvent(afterPSK[1])

	final := drainAll(events)
	require.Len(t, final, 2, "config sent exactly once")
}

func TestGenerateNamePatternSubstitution(t *testing.T) {
	name := generateName("cd_{t}_{i}", "ab12", "6789", 24)
	assert.Equal(t, "cd_ab12_6789", name)
}

func TestGenerateNameTruncatesToMaxLen(t *testing.T) {
	name := generateName("cd_{t}_{i}", "verylonghashvalue", "6789", 10)
	assert.LessOrEqual(t, len(name), 9)
}

func mustHexDecode(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}
