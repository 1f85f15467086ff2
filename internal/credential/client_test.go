package credential

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatordev/provisiond/internal/event"
	"github.com/creatordev/provisiond/internal/ipcpb"
)

func waitForEvent(t *testing.T, bus *event.Bus) event.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ev, ok := bus.Pop(); ok {
			return ev
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for event")
	return event.Event{}
}

func TestRequestPSKSuccess(t *testing.T) {
	bus := event.New()
	mock := &MockBus{Responder: func(req *ipcpb.PskRequest) (*ipcpb.PskResponse, error) {
		assert.Equal(t, int32(1), req.EndpointId)
		return &ipcpb.PskResponse{PskHex: "00112233", Identity: "ep1"}, nil
	}}
	c := New(mock, bus, zerolog.Nop())

	c.RequestPSK(1)

	ev := waitForEvent(t, bus)
	require.Equal(t, event.PSKObtained, ev.Kind)
	result := ev.Payload.(*event.PSKResult)
	assert.Equal(t, 1, result.EndpointID)
	assert.Equal(t, "00112233", result.PSKHex)
	assert.Equal(t, "ep1", result.Identity)
	assert.NoError(t, result.Err)
}

// E3 — PSK service down: a request that never gets a Responder reply
// must time out at RequestTimeout and surface as PSKObtained with no
// PSK.
func TestRequestPSKTimeoutSurfacesAsObtainedWithError(t *testing.T) {
	old := RequestTimeout
	RequestTimeout = 50 * time.Millisecond
	defer func() { RequestTimeout = old }()

	bus := event.New()
	mock := &MockBus{} // nil Responder blocks until ctx deadline
	c := New(mock, bus, zerolog.Nop())

	start := time.Now()
	c.RequestPSK(3)

	deadline := time.Now().Add(RequestTimeout + 2*time.Second)
	var ev event.Event
	for time.Now().Before(deadline) {
		if got, ok := bus.Pop(); ok {
			ev = got
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, event.PSKObtained, ev.Kind)
	result := ev.Payload.(*event.PSKResult)
	assert.Equal(t, 3, result.EndpointID)
	assert.Empty(t, result.PSKHex)
	assert.Error(t, result.Err)
	assert.GreaterOrEqual(t, time.Since(start), RequestTimeout)
}

func TestRequestPSKDeclinedByTrustService(t *testing.T) {
	bus := event.New()
	mock := &MockBus{Responder: func(req *ipcpb.PskRequest) (*ipcpb.PskResponse, error) {
		return &ipcpb.PskResponse{Error: "unknown endpoint"}, nil
	}}
	c := New(mock, bus, zerolog.Nop())

	c.RequestPSK(9)
	ev := waitForEvent(t, bus)
	result := ev.Payload.(*event.PSKResult)
	assert.Error(t, result.Err)
	assert.Empty(t, result.PSKHex)
}

func TestMockBusCallRespectsContextCancellation(t *testing.T) {
	mock := &MockBus{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := mock.Call(ctx, &ipcpb.PskRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}
