package ui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatordev/provisiond/internal/event"
	"github.com/creatordev/provisiond/internal/registry"
)

func drainNetPacks(bus *event.Bus) map[int]byte {
	out := make(map[int]byte)
	for {
		ev, ok := bus.Pop()
		if !ok {
			break
		}
		if ev.Kind != event.ConnectionSendCommand {
			continue
		}
		np := ev.Payload.(*event.NetPack)
		out[np.EndpointID] = np.Cmd
	}
	return out
}

func TestFirstCreatedEndpointAutoSelected(t *testing.T) {
	bus := event.New()
	c := New(bus, registry.New(nil), nil)

	c.ConsumeEvent(event.Event{Kind: event.ClickerCreate, Payload: 1})
	assert.Equal(t, 1, c.GetSelectedID())

	cmds := drainNetPacks(bus)
	assert.Equal(t, byte(1), cmds[1]) // ENABLE_HIGHLIGHT
}

// E5 — selection broadcast: with X, Y, Z connected, selecting Y
// produces ENABLE_HIGHLIGHT to Y and DISABLE_HIGHLIGHT to X and Z.
func TestSelectBroadcastsHighlights(t *testing.T) {
	bus := event.New()
	c := New(bus, registry.New(nil), nil)
	c.ConsumeEvent(event.Event{Kind: event.ClickerCreate, Payload: 10}) // X
	c.ConsumeEvent(event.Event{Kind: event.ClickerCreate, Payload: 20}) // Y
	c.ConsumeEvent(event.Event{Kind: event.ClickerCreate, Payload: 30}) // Z
	drainNetPacks(bus) // discard the auto-select-X broadcast

	c.ConsumeEvent(event.Event{Kind: event.ClickerSelect, Payload: 20})

	cmds := drainNetPacks(bus)
	require.Len(t, cmds, 3)
	assert.Equal(t, byte(1), cmds[20])
	assert.Equal(t, byte(2), cmds[10])
	assert.Equal(t, byte(2), cmds[30])
}

func TestSelectIgnoredWhenRemoteProvisionCtrlDisabled(t *testing.T) {
	bus := event.New()
	c := New(bus, registry.New(nil), nil)
	c.RemoteProvisionCtrl = false
	c.ConsumeEvent(event.Event{Kind: event.ClickerCreate, Payload: 1})
	c.ConsumeEvent(event.Event{Kind: event.ClickerCreate, Payload: 2})
	drainNetPacks(bus)

	c.ConsumeEvent(event.Event{Kind: event.ClickerSelect, Payload: 2})
	assert.Equal(t, 1, c.GetSelectedID())
}

func TestDestroyClampsSelectionToNextID(t *testing.T) {
	bus := event.New()
	c := New(bus, registry.New(nil), nil)
	c.ConsumeEvent(event.Event{Kind: event.ClickerCreate, Payload: 1})
	c.ConsumeEvent(event.Event{Kind: event.ClickerCreate, Payload: 2})
	c.SetSelectedID(1)
	drainNetPacks(bus)

	c.ConsumeEvent(event.Event{Kind: event.ClickerDestroy, Payload: 1})
	assert.Equal(t, 2, c.GetSelectedID())
}

func TestDestroyLastEndpointClearsSelection(t *testing.T) {
	bus := event.New()
	c := New(bus, registry.New(nil), nil)
	c.ConsumeEvent(event.Event{Kind: event.ClickerCreate, Payload: 1})
	c.ConsumeEvent(event.Event{Kind: event.ClickerDestroy, Payload: 1})
	assert.Equal(t, 0, c.GetSelectedID())
}

func TestTickDisconnectsAfterFinishedLinger(t *testing.T) {
	reg := registry.New(nil)
	ep := reg.Create(5)
	ep.FinishedAtMillis = 1000

	bus := event.New()
	c := New(bus, reg, nil)
	c.ConsumeEvent(event.Event{Kind: event.ClickerCreate, Payload: 5})
	drainNetPacks(bus)
	c.now = func() time.Time { return time.UnixMilli(1000 + FinishedLinger.Milliseconds() + 1) }

	var disconnected []int
	c.Tick(func(id int) { disconnected = append(disconnected, id) })
	assert.Equal(t, []int{5}, disconnected)
}

func TestSelectNextRoundRobinsAndWraps(t *testing.T) {
	bus := event.New()
	c := New(bus, registry.New(nil), nil)
	c.ConsumeEvent(event.Event{Kind: event.ClickerCreate, Payload: 10})
	c.ConsumeEvent(event.Event{Kind: event.ClickerCreate, Payload: 20})
	c.ConsumeEvent(event.Event{Kind: event.ClickerCreate, Payload: 30})
	drainNetPacks(bus)

	c.SelectNext()
	assert.Equal(t, 20, c.GetSelectedID())
	c.SelectNext()
	assert.Equal(t, 30, c.GetSelectedID())
	c.SelectNext()
	assert.Equal(t, 10, c.GetSelectedID())
}

func TestSelectNextIgnoredWhenLocalProvisionCtrlDisabled(t *testing.T) {
	bus := event.New()
	c := New(bus, registry.New(nil), nil)
	c.LocalProvisionCtrl = false
	c.ConsumeEvent(event.Event{Kind: event.ClickerCreate, Payload: 10})
	c.ConsumeEvent(event.Event{Kind: event.ClickerCreate, Payload: 20})
	drainNetPacks(bus)

	c.SelectNext()
	assert.Equal(t, 10, c.GetSelectedID())
}

func TestStartProvisionSelectedPushesEventForSelectedID(t *testing.T) {
	bus := event.New()
	c := New(bus, registry.New(nil), nil)
	c.ConsumeEvent(event.Event{Kind: event.ClickerCreate, Payload: 7})
	drainNetPacks(bus)

	c.StartProvisionSelected()

	var found bool
	for _, ev := range bus.PopAll() {
		if ev.Kind == event.ClickerStartProvision && ev.Payload.(int) == 7 {
			found = true
		}
	}
	assert.True(t, found)
}

func TestStartProvisionSelectedIgnoredWhenLocalProvisionCtrlDisabled(t *testing.T) {
	bus := event.New()
	c := New(bus, registry.New(nil), nil)
	c.LocalProvisionCtrl = false
	c.ConsumeEvent(event.Event{Kind: event.ClickerCreate, Payload: 7})
	drainNetPacks(bus)

	c.StartProvisionSelected()

	for _, ev := range bus.PopAll() {
		assert.NotEqual(t, event.ClickerStartProvision, ev.Kind)
	}
}

func TestStartProvisionSelectedNoopWhenNothingSelected(t *testing.T) {
	bus := event.New()
	c := New(bus, registry.New(nil), nil)

	c.StartProvisionSelected()

	assert.Empty(t, bus.PopAll())
}

func TestTickSkipsEndpointsNotYetFinished(t *testing.T) {
	reg := registry.New(nil)
	reg.Create(5)

	bus := event.New()
	c := New(bus, reg, nil)
	c.ConsumeEvent(event.Event{Kind: event.ClickerCreate, Payload: 5})
	drainNetPacks(bus)

	var disconnected []int
	c.Tick(func(id int) { disconnected = append(disconnected, id) })
	assert.Empty(t, disconnected)
}
