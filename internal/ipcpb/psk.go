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

// Package ipcpb holds the gogo/protobuf tagged message types exchanged
// with the trust service over the local IPC bus (internal/credential).
// These mirror what `protoc --gogofaster_out` would generate from a
// psk.proto request/response pair; they're checked in by hand since
// the daemon has no protoc build step of its own.
package ipcpb

import (
	fmt "fmt"

	proto "github.com/gogo/protobuf/proto"
)

// PskRequest asks the trust service to mint a PSK for one endpoint.
type PskRequest struct {
	EndpointId           int32  `protobuf:"varint,1,opt,name=endpoint_id,json=endpointId,proto3" json:"endpoint_id,omitempty"`
	XXX_NoUnkeyedLiteral struct{} `json:"-"`
	XXX_unrecognized     []byte   `json:"-"`
	XXX_sizecache        int32    `json:"-"`
}

func (m *PskRequest) Reset()         { *m = PskRequest{} }
func (m *PskRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (*PskRequest) ProtoMessage()    {}

func (m *PskRequest) GetEndpointId() int32 {
	if m != nil {
		return m.EndpointId
	}
	return 0
}

// PskResponse carries either a hex-encoded PSK and an identity, or an
// error if generation failed. EndpointId round-trips the request's id
// so a worker pool can match replies without correlating on a
// separate channel.
type PskResponse struct {
	EndpointId           int32  `protobuf:"varint,1,opt,name=endpoint_id,json=endpointId,proto3" json:"endpoint_id,omitempty"`
	PskHex               string `protobuf:"bytes,2,opt,name=psk_hex,json=pskHex,proto3" json:"psk_hex,omitempty"`
	Identity             string `protobuf:"bytes,3,opt,name=identity,proto3" json:"identity,omitempty"`
	Error                string `protobuf:"bytes,4,opt,name=error,proto3" json:"error,omitempty"`
	XXX_NoUnkeyedLiteral struct{} `json:"-"`
	XXX_unrecognized     []byte   `json:"-"`
	XXX_sizecache        int32    `json:"-"`
}

func (m *PskResponse) Reset()         { *m = PskResponse{} }
func (m *PskResponse) String() string { return fmt.Sprintf("%+v", *m) }
func (*PskResponse) ProtoMessage()    {}

func (m *PskResponse) GetPskHex() string {
	if m != nil {
		return m.PskHex
	}
	return ""
}

func (m *PskResponse) GetIdentity() string {
	if m != nil {
		return m.Identity
	}
	return ""
}

func (m *PskResponse) GetError() string {
	if m != nil {
		return m.Error
	}
	return ""
}

func init() {
	proto.RegisterType((*PskRequest)(nil), "provisiond.ipc.PskRequest")
	proto.RegisterType((*PskResponse)(nil), "provisiond.ipc.PskResponse")
}
