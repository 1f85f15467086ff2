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

package session

import "strings"

// timeHashAlphabet is the 52-character set utils.c's itoa uses for
// base-52 encoding: digits, then uppercase, then lowercase.
const timeHashAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// timeHash reproduces utils.c's GenerateClickerTimeHash: base-52
// encode unixSeconds, least-significant digit first. The original's
// itoa never reverses the digit order after the division loop, so the
// result is deliberately NOT the conventional most-significant-first
// representation — it's a display token, not a number anyone parses
// back, so the quirk is harmless and we keep it byte-for-byte.
func timeHash(unixSeconds int64) string {
	if unixSeconds == 0 {
		return "0"
	}
	var b strings.Builder
	n := unixSeconds
	for n > 0 {
		b.WriteByte(timeHashAlphabet[n%52])
		n /= 52
	}
	return b.String()
}

// ipFragment returns the last 4 characters of ip, or the whole string
// if shorter. spec.md §6 is explicit about "last four characters",
// which this follows; the original C's strlcpy-based equivalent
// actually copies only 3 due to an off-by-one in its size argument —
// a firmware quirk, not a stated requirement, so we don't reproduce it.
func ipFragment(ip string) string {
	if ip == "" {
		ip = "Unknown"
	}
	if len(ip) <= 4 {
		return ip
	}
	return ip[len(ip)-4:]
}

// generateName renders pattern with {t} substituted for the base-52
// time hash and {i} substituted for the IP fragment, then truncates
// to maxLen-1 bytes to leave room for NetworkConfig's implicit
// terminator (payload.NetworkConfig's fixed 24-byte field already
// zero-pads, so this cap just bounds visible content the same way
// utils.c's GenerateClickerName does with its maxBufLen-- step).
func generateName(pattern string, hash string, ip string, maxLen int) string {
	var out strings.Builder
	budget := maxLen - 1

	runes := []rune(pattern)
	for i := 0; i < len(runes) && budget > 0; i++ {
		if runes[i] != '{' {
			out.WriteRune(runes[i])
			budget--
			continue
		}
		// look for a single-char token followed by '}'
		if i+2 >= len(runes) || runes[i+2] != '}' {
			break
		}
		var token string
		switch runes[i+1] {
		case 't':
			token = hash
		case 'i':
			token = ip
		default:
			i += 2
			continue
		}
		if len(token) > budget {
			token = token[:budget]
		}
		out.WriteString(token)
		budget -= len(token)
		i += 2
	}
	return out.String()
}
