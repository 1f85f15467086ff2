package payload

import "errors"

// Field widths from spec.md §6 (and commands.h's pd_DeviceServerConfig /
// pd_NetworkConfig), packed identically for on-device firmware parity.
const (
	pskFieldSize          = 32
	bootstrapURIFieldSize = 200
	routeURIFieldSize     = 100
	dnsServerFieldSize    = 100
	endpointNameFieldSize = 24

	// MaxCiphertextSize is the wire's single-payload ceiling (spec.md §6);
	// a marshaled-then-encrypted config that would exceed it fails closed.
	MaxCiphertextSize = 255
)

// DeviceServerConfig is packed as:
//
//	securityMode:u8, pskKeySize:u8, psk:[32]u8, identitySize:u8,
//	identity:[identitySize]u8, bootstrapUri:[200]u8
//
// identity is written at its actual length (not padded) since, unlike
// the original C struct, nothing requires it to occupy a compile-time
// array; callers must still keep the total under MaxCiphertextSize
// once padded to a 16-byte boundary, or Marshal fails with
// ErrFieldTooLarge (the spec.md §7 EncoderAlloc case).
type DeviceServerConfig struct {
	SecurityMode byte
	PSK          []byte // <= 32 bytes
	Identity     []byte
	BootstrapURI string // <= 200 bytes
}

// ErrFieldTooLarge is returned when a field exceeds its fixed wire width,
// or the packed struct would not fit in a single encrypted wire frame.
var ErrFieldTooLarge = errors.New("payload: field exceeds fixed wire width")

// Marshal packs the struct into its wire representation.
func (c *DeviceServerConfig) Marshal() ([]byte, error) {
	if len(c.PSK) > pskFieldSize {
		return nil, ErrFieldTooLarge
	}
	if len(c.Identity) > 255 {
		return nil, ErrFieldTooLarge
	}
	if len(c.BootstrapURI) > bootstrapURIFieldSize {
		return nil, ErrFieldTooLarge
	}

	size := 1 + 1 + pskFieldSize + 1 + len(c.Identity) + bootstrapURIFieldSize
	if paddedSize(size) > MaxCiphertextSize {
		return nil, ErrFieldTooLarge
	}

	buf := make([]byte, size)
	off := 0
	buf[off] = c.SecurityMode
	off++
	buf[off] = byte(len(c.PSK))
	off++
	copy(buf[off:off+pskFieldSize], c.PSK)
	off += pskFieldSize
	buf[off] = byte(len(c.Identity))
	off++
	copy(buf[off:off+len(c.Identity)], c.Identity)
	off += len(c.Identity)
	copy(buf[off:off+bootstrapURIFieldSize], []byte(c.BootstrapURI))

	return buf, nil
}

// paddedSize rounds n up to the next multiple of the AES block size,
// matching the encoder's own padding (blockSize has the same value as
// BlockSize in encoder.go).
func paddedSize(n int) int {
	const blockSize = 16
	padded := ((n + blockSize - 1) / blockSize) * blockSize
	if padded == 0 {
		padded = blockSize
	}
	return padded
}

// NetworkConfig is packed as:
//
//	defaultRouteUri:[100]u8, dnsServer:[100]u8, endpointName:[24]u8
type NetworkConfig struct {
	DefaultRouteURI string // <= 100 bytes
	DNSServer       string // <= 100 bytes
	EndpointName    string // <= 24 bytes (including terminating null)
}

// Marshal packs the struct into its fixed-width wire representation.
func (c *NetworkConfig) Marshal() ([]byte, error) {
	if len(c.DefaultRouteURI) > routeURIFieldSize {
		return nil, ErrFieldTooLarge
	}
	if len(c.DNSServer) > dnsServerFieldSize {
		return nil, ErrFieldTooLarge
	}
	if len(c.EndpointName) > endpointNameFieldSize-1 {
		return nil, ErrFieldTooLarge
	}

	buf := make([]byte, routeURIFieldSize+dnsServerFieldSize+endpointNameFieldSize)
	off := 0
	copy(buf[off:off+routeURIFieldSize], []byte(c.DefaultRouteURI))
	off += routeURIFieldSize
	copy(buf[off:off+dnsServerFieldSize], []byte(c.DNSServer))
	off += dnsServerFieldSize
	copy(buf[off:off+endpointNameFieldSize], []byte(c.EndpointName))

	return buf, nil
}
