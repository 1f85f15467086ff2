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

// Package payload implements the non-standard AES block cipher used to
// wrap DeviceServerConfig/NetworkConfig before they go out over the
// wire, and the fixed-width packing of those two structures.
//
// The cipher mode is deliberately not textbook CBC: the per-block IV is
// derived from the key itself (reverse(key)[0:15] || blockIndex), so no
// IV needs to travel on the wire. On-device firmware expects this exact
// construction; do not substitute crypto/cipher's NewCBCEncrypter.
package payload

import (
	"crypto/aes"
	"errors"
)

// BlockSize is the AES-128 block size this encoder operates on.
const BlockSize = aes.BlockSize // 16

// ErrKeySize is returned when the key is not exactly 16 bytes.
var ErrKeySize = errors.New("payload: key must be 16 bytes")

// ErrOversized is returned when the plaintext exceeds the wire's
// single-payload limit (255 bytes, enforced one level up by the wire
// codec, and checked here too). Within that limit there are at most 16
// blocks, so the one-byte block index never overflows.
var ErrOversized = errors.New("payload: plaintext exceeds the 255-byte single-payload limit")

// blockIV returns the 16-byte IV used for block index i: the first 15
// bytes of the reversed key (key[15] down to key[1]), followed by the
// block index as the last byte.
func blockIV(key []byte, i int) [BlockSize]byte {
	var iv [BlockSize]byte
	for t := 0; t < BlockSize-1; t++ {
		iv[t] = key[BlockSize-1-t]
	}
	iv[BlockSize-1] = byte(i)
	return iv
}

// Encode pads plaintext up to a 16-byte multiple with zero bytes, then
// encrypts each block under AES-128 with the non-standard per-block IV
// XORed in before encryption. The returned slice length is always a
// multiple of 16.
func Encode(plaintext []byte, key []byte) ([]byte, error) {
	if len(key) != BlockSize {
		return nil, ErrKeySize
	}
	if len(plaintext) > 255 {
		return nil, ErrOversized
	}

	padded := padded16(plaintext)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(padded))
	var buf [BlockSize]byte
	for off := 0; off < len(padded); off += BlockSize {
		iv := blockIV(key, off/BlockSize)
		copy(buf[:], padded[off:off+BlockSize])
		for y := 0; y < BlockSize; y++ {
			buf[y] ^= iv[y]
		}
		block.Encrypt(out[off:off+BlockSize], buf[:])
	}
	return out, nil
}

// Decode is the inverse of Encode: it decrypts each block and XORs the
// same per-block IV back in. len(ciphertext) must be a multiple of 16.
func Decode(ciphertext []byte, key []byte) ([]byte, error) {
	if len(key) != BlockSize {
		return nil, ErrKeySize
	}
	if len(ciphertext)%BlockSize != 0 {
		return nil, errors.New("payload: ciphertext length must be a multiple of 16")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(ciphertext))
	var buf [BlockSize]byte
	for off := 0; off < len(ciphertext); off += BlockSize {
		block.Decrypt(buf[:], ciphertext[off:off+BlockSize])
		iv := blockIV(key, off/BlockSize)
		for y := 0; y < BlockSize; y++ {
			buf[y] ^= iv[y]
		}
		copy(out[off:off+BlockSize], buf[:])
	}
	return out, nil
}

// padded16 zero-pads b up to the next multiple of 16 bytes (at least
// one block, even for empty input).
func padded16(b []byte) []byte {
	n := len(b)
	padded := ((n + BlockSize - 1) / BlockSize) * BlockSize
	if padded == 0 {
		padded = BlockSize
	}
	out := make([]byte, padded)
	copy(out, b)
	return out
}
