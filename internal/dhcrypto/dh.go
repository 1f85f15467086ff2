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

// Package dhcrypto implements the cleartext Diffie-Hellman key exchange
// used to agree a shared secret with a connecting clicker before any
// credential material changes hands.
package dhcrypto

import (
	"errors"
	"math/big"
)

// ErrRandomSource is returned when the configured random source fails
// while generating a private exponent.
var ErrRandomSource = errors.New("dhcrypto: random source failed to generate local key")

// ErrShortPeerKey is returned by Complete when the peer's public key is
// shorter than the modulus length.
var ErrShortPeerKey = errors.New("dhcrypto: peer public key shorter than modulus")

// RandomSource fills buf with cryptographically random bytes, mirroring
// the original's pluggable Randomizer callback (GenerateRandomX).
type RandomSource func(buf []byte) error

// Exchanger binds the agreed modulus p, generator g and the private
// exponent x for one endpoint's key exchange. x is nil until the first
// call to GenerateLocal.
type Exchanger struct {
	p      *big.Int
	pLen   int
	g      int64
	random RandomSource
	x      *big.Int
}

// NewExchanger creates an Exchanger bound to a big-endian modulus of
// exactly pLen bytes and the given generator. The modulus and generator
// are compiled-in constants in practice (commands.h's P_MODULE_LENGTH);
// they are parameters here purely for testability.
func NewExchanger(pBytes []byte, pLen int, g int64, random RandomSource) *Exchanger {
	return &Exchanger{
		p:      new(big.Int).SetBytes(pBytes),
		pLen:   pLen,
		g:      g,
		random: random,
	}
}

// PLen returns the modulus length in bytes (P_LEN in spec.md).
func (e *Exchanger) PLen() int { return e.pLen }

// GenerateLocal draws a fresh private exponent x via the configured
// random source and returns g^x mod p as a big-endian, PLen-byte slice.
func (e *Exchanger) GenerateLocal() ([]byte, error) {
	xBuf := make([]byte, e.pLen)
	if err := e.random(xBuf); err != nil {
		return nil, ErrRandomSource
	}
	e.x = new(big.Int).SetBytes(xBuf)

	g := big.NewInt(e.g)
	y := new(big.Int).Exp(g, e.x, e.p)
	return toFixedBytes(y, e.pLen), nil
}

// Complete derives the shared secret peerPublic^x mod p. It fails if
// peerPublic is shorter than PLen, matching the original's
// dh_CompleteExchangeData length guard.
func (e *Exchanger) Complete(peerPublic []byte) ([]byte, error) {
	if len(peerPublic) < e.pLen {
		return nil, ErrShortPeerKey
	}
	if e.x == nil {
		return nil, errors.New("dhcrypto: local key was never generated")
	}

	peer := new(big.Int).SetBytes(peerPublic[:e.pLen])
	shared := new(big.Int).Exp(peer, e.x, e.p)
	return toFixedBytes(shared, e.pLen), nil
}

// toFixedBytes renders v as a big-endian byte slice of exactly n bytes,
// left-padding with zeros (big.Int.Bytes drops leading zero bytes).
func toFixedBytes(v *big.Int, n int) []byte {
	raw := v.Bytes()
	if len(raw) >= n {
		return raw[len(raw)-n:]
	}
	out := make([]byte, n)
	copy(out[n-len(raw):], raw)
	return out
}
