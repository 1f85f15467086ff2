package daemon

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatordev/provisiond/internal/connmgr"
	"github.com/creatordev/provisiond/internal/credential"
	"github.com/creatordev/provisiond/internal/dhcrypto"
	"github.com/creatordev/provisiond/internal/event"
	"github.com/creatordev/provisiond/internal/history"
	"github.com/creatordev/provisiond/internal/ipcpb"
	"github.com/creatordev/provisiond/internal/registry"
	"github.com/creatordev/provisiond/internal/session"
	"github.com/creatordev/provisiond/internal/ui"
	"github.com/creatordev/provisiond/internal/wire"
)

var dummyP = []byte{
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xC5,
}

func alwaysOneRandom(buf []byte) error {
	for i := range buf {
		buf[i] = 0
	}
	buf[len(buf)-1] = 1
	return nil
}

func newTestDaemon(t *testing.T) (*Daemon, *event.Bus, *registry.Registry, *ui.Controller) {
	t.Helper()
	events := event.New()
	reg := registry.New(func(id int) *dhcrypto.Exchanger {
		return dhcrypto.NewExchanger(dummyP, 16, 2, alwaysOneRandom)
	})
	uiCtrl := ui.New(events, reg, nil)
	hist := history.New()
	conn, err := connmgr.New(events, zerolog.Nop())
	require.NoError(t, err)

	mock := &credential.MockBus{Responder: func(req *ipcpb.PskRequest) (*ipcpb.PskResponse, error) {
		return &ipcpb.PskResponse{PskHex: "aabbcc", Identity: "ep"}, nil
	}}
	cred := credential.New(mock, events, zerolog.Nop())
	sm := session.New(reg, events, hist, cred, conn, session.Config{
		BootstrapURI:        "coaps://deviceserver.creatordev.io:15684",
		DefaultRouteURI:     "fd00::1",
		DNSServer:           "fd00::2",
		EndpointNamePattern: "cd_{t}_{i}",
	}, zerolog.Nop())

	d := New(events, conn, reg, uiCtrl, sm, hist, zerolog.Nop())
	return d, events, reg, uiCtrl
}

// TestDispatchOrderLetsSessionSeeRegistryState verifies the fixed
// consumer order: registry creates the endpoint record before session
// tries to read it within the same tick.
func TestDispatchOrderLetsSessionSeeRegistryState(t *testing.T) {
	d, events, reg, uiCtrl := newTestDaemon(t)

	events.Push(event.ClickerCreate, 5)
	d.tick()

	ep := reg.Acquire(5)
	require.NotNil(t, ep, "registry must have created the endpoint within the tick")
	assert.NotEmpty(t, ep.DisplayName, "session must have set the name in the same tick")
	assert.NotNil(t, ep.LocalKey)
	reg.Release(ep)

	assert.Equal(t, 5, uiCtrl.GetSelectedID(), "ui must auto-select the first connected endpoint")

	// session's KEY command landed on the bus for the next tick, not this one.
	found := false
	for _, ev := range events.PopAll() {
		if ev.Kind == event.ConnectionSendCommand {
			np := ev.Payload.(*event.NetPack)
			if wire.Command(np.Cmd) == wire.CommandKey {
				found = true
			}
		}
	}
	assert.True(t, found)
}

func TestDestroyRemovesFromRegistryAndUI(t *testing.T) {
	d, events, reg, uiCtrl := newTestDaemon(t)

	events.Push(event.ClickerCreate, 1)
	d.tick()
	events.PopAll()

	events.Push(event.ClickerDestroy, 1)
	d.tick()

	assert.Nil(t, reg.Acquire(1))
	assert.Equal(t, 0, len(uiCtrl.GetAllIDs()))
}

func TestTickIsIdempotentWithEmptyQueue(t *testing.T) {
	d, _, _, _ := newTestDaemon(t)
	assert.NotPanics(t, func() {
		d.tick()
		d.tick()
	})
}
