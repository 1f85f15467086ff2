package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceServerConfigMarshalLayout(t *testing.T) {
	cfg := &DeviceServerConfig{
		SecurityMode: 0,
		PSK:          []byte{0x00, 0x11, 0x22, 0x33},
		Identity:     []byte("ep1"),
		BootstrapURI: "coaps://deviceserver.creatordev.io:15684",
	}

	buf, err := cfg.Marshal()
	require.NoError(t, err)

	assert.Equal(t, byte(0), buf[0])
	assert.Equal(t, byte(4), buf[1])
	assert.Equal(t, cfg.PSK, buf[2:6])
	assert.Equal(t, byte(3), buf[2+pskFieldSize])
	assert.Equal(t, []byte("ep1"), buf[2+pskFieldSize+1:2+pskFieldSize+1+3])
	assert.Len(t, buf, 1+1+pskFieldSize+1+3+bootstrapURIFieldSize)
}

func TestDeviceServerConfigRejectsOversizedTotal(t *testing.T) {
	cfg := &DeviceServerConfig{
		PSK:          make([]byte, 32),
		Identity:     make([]byte, 64), // pushes padded total over 255
		BootstrapURI: "coaps://deviceserver.creatordev.io:15684",
	}
	_, err := cfg.Marshal()
	assert.ErrorIs(t, err, ErrFieldTooLarge)
}

func TestNetworkConfigMarshalLayout(t *testing.T) {
	cfg := &NetworkConfig{
		DefaultRouteURI: "fd00::1",
		DNSServer:       "fd00::2",
		EndpointName:    "cd_0ab_1234",
	}

	buf, err := cfg.Marshal()
	require.NoError(t, err)
	assert.Len(t, buf, routeURIFieldSize+dnsServerFieldSize+endpointNameFieldSize)
	assert.Equal(t, []byte("fd00::1"), buf[:7])
	assert.Equal(t, []byte("fd00::2"), buf[routeURIFieldSize:routeURIFieldSize+7])
}

func TestNetworkConfigRejectsOversizedEndpointName(t *testing.T) {
	cfg := &NetworkConfig{EndpointName: string(make([]byte, 25))}
	_, err := cfg.Marshal()
	assert.ErrorIs(t, err, ErrFieldTooLarge)
}
