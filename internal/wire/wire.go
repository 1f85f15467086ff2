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

// Package wire implements the clicker link-layer framing: a one-byte
// command, an optional one-byte length, and a variable payload. It is
// the Go rendering of commands.h's NetworkCommand enum and the packet
// shapes connection_manager.c's HandleReceivedData/con_BuildNetworkDataPack
// build and parse.
package wire

import (
	"bytes"
	"errors"
	"io"
)

// Command identifies the single byte at the head of every frame.
type Command byte

// The command set, unchanged from commands.h's NetworkCommand enum.
const (
	CommandNone             Command = 0
	CommandEnableHighlight  Command = 1
	CommandDisableHighlight Command = 2
	CommandKeepAlive        Command = 3
	CommandKey              Command = 4
	CommandDeviceServerConf Command = 5
	CommandNetworkConfig    Command = 6
)

// String names a Command for logging.
func (c Command) String() string {
	switch c {
	case CommandNone:
		return "NONE"
	case CommandEnableHighlight:
		return "ENABLE_HIGHLIGHT"
	case CommandDisableHighlight:
		return "DISABLE_HIGHLIGHT"
	case CommandKeepAlive:
		return "KEEP_ALIVE"
	case CommandKey:
		return "KEY"
	case CommandDeviceServerConf:
		return "DEVICE_SERVER_CONFIG"
	case CommandNetworkConfig:
		return "NETWORK_CONFIG"
	default:
		return "UNKNOWN"
	}
}

// hasPayload reports whether a command carries a length byte and
// variable-length payload, as opposed to being a bare one-byte frame.
func (c Command) hasPayload() bool {
	switch c {
	case CommandKey, CommandDeviceServerConf, CommandNetworkConfig:
		return true
	default:
		return false
	}
}

// MaxPayloadSize is the largest payload a single length byte can address.
const MaxPayloadSize = 255

// ErrPayloadTooLarge is returned when a frame's payload cannot fit
// within the single length byte the wire format allows.
var ErrPayloadTooLarge = errors.New("wire: payload exceeds 255 bytes")

// Frame is one decoded protocol message.
type Frame struct {
	Cmd     Command
	Payload []byte
}

// Encode renders a Frame into its wire representation.
func Encode(f Frame) ([]byte, error) {
	if !f.Cmd.hasPayload() {
		return []byte{byte(f.Cmd)}, nil
	}
	if len(f.Payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	buf := make([]byte, 2+len(f.Payload))
	buf[0] = byte(f.Cmd)
	buf[1] = byte(len(f.Payload))
	copy(buf[2:], f.Payload)
	return buf, nil
}

// ReadFrame blocks until it has read one complete frame from r,
// reassembling it from however many TCP segments it arrived in
// (length-prefixed reassembly per SPEC_FULL.md §12 decision 1 — gaio
// delivers arbitrary chunk boundaries, so callers hand us a buffered
// io.Reader and we pull exactly as many bytes as each field needs).
func ReadFrame(r io.Reader) (Frame, error) {
	var head [1]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return Frame{}, err
	}
	cmd := Command(head[0])
	if !cmd.hasPayload() {
		return Frame{Cmd: cmd}, nil
	}

	var lenByte [1]byte
	if _, err := io.ReadFull(r, lenByte[:]); err != nil {
		return Frame{}, err
	}

	payload := make([]byte, lenByte[0])
	if len(payload) > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Cmd: cmd, Payload: payload}, nil
}

// DecodeAll splits a byte slice that may hold several back-to-back
// frames (e.g. a full gaio read buffer) into individual Frames, plus
// any trailing bytes that don't yet form a complete frame.
func DecodeAll(buf []byte) (frames []Frame, remainder []byte, err error) {
	r := bytes.NewReader(buf)
	for r.Len() > 0 {
		start := len(buf) - r.Len()
		f, ferr := ReadFrame(r)
		if ferr != nil {
			if errors.Is(ferr, io.EOF) || errors.Is(ferr, io.ErrUnexpectedEOF) {
				return frames, buf[start:], nil
			}
			return frames, buf[start:], ferr
		}
		frames = append(frames, f)
	}
	return frames, nil, nil
}

// keepAliveFrame is the bare frame sent on the periodic keepalive
// timer; it carries no payload so Encode always returns a single byte.
func keepAliveFrame() Frame { return Frame{Cmd: CommandKeepAlive} }

// KeepAliveBytes is the literal bytes put on the wire for a keepalive
// tick. Exported so internal/connmgr doesn't need to rebuild a Frame
// and re-run Encode on every 2-second timer fire.
var KeepAliveBytes = mustEncode(keepAliveFrame())

func mustEncode(f Frame) []byte {
	b, err := Encode(f)
	if err != nil {
		panic(err)
	}
	return b
}
