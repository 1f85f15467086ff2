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

// Package config loads the daemon's KEY=VALUE config file and applies
// CLI overrides on top of it, matching provisioning_daemon.c's
// load-then-validate startup sequence.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/hashicorp/go-envparse"
)

// Config holds every daemon-wide setting from spec.md §6.
type Config struct {
	BootstrapURI        string
	DefaultRouteURI     string
	DNSServer           string
	EndpointNamePattern string
	LogLevel            int
	Port                int
	LocalProvisionCtrl  bool
	RemoteProvisionCtrl bool

	LogFile   string
	Daemonize bool
}

// Defaults matches spec.md §6's stated defaults for everything except
// the two required keys, which have no default and must come from the
// config file.
func Defaults() Config {
	return Config{
		BootstrapURI:        "coaps://deviceserver.creatordev.io:15684",
		EndpointNamePattern: "cd_{t}_{i}",
		LogLevel:            2,
		Port:                49300,
		LocalProvisionCtrl:  true,
		RemoteProvisionCtrl: false,
	}
}

// ErrMissingRequiredKey is returned when DEFAULT_ROUTE_URI or
// DNS_SERVER is absent from the config file.
type ErrMissingRequiredKey struct{ Key string }

func (e ErrMissingRequiredKey) Error() string {
	return fmt.Sprintf("config: required key %s is missing", e.Key)
}

// ErrInvalidValue is returned when a key's value cannot be parsed into
// its expected type (int, bool).
type ErrInvalidValue struct {
	Key   string
	Value string
}

func (e ErrInvalidValue) Error() string {
	return fmt.Sprintf("config: invalid value %q for %s", e.Value, e.Key)
}

// Load reads a KEY=VALUE file from r, applies it on top of Defaults,
// and validates the required keys and value ranges.
func Load(r io.Reader) (Config, error) {
	cfg := Defaults()

	kv, err := envparse.Parse(r)
	if err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}

	if v, ok := kv["BOOTSTRAP_URI"]; ok {
		cfg.BootstrapURI = v
	}
	if v, ok := kv["DEFAULT_ROUTE_URI"]; ok {
		cfg.DefaultRouteURI = v
	}
	if v, ok := kv["DNS_SERVER"]; ok {
		cfg.DNSServer = v
	}
	if v, ok := kv["ENDPOINT_NAME_PATTERN"]; ok {
		cfg.EndpointNamePattern = v
	}
	if v, ok := kv["LOG_LEVEL"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, ErrInvalidValue{Key: "LOG_LEVEL", Value: v}
		}
		cfg.LogLevel = n
	}
	if v, ok := kv["PORT"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, ErrInvalidValue{Key: "PORT", Value: v}
		}
		cfg.Port = n
	}
	if v, ok := kv["LOCAL_PROVISION_CTRL"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, ErrInvalidValue{Key: "LOCAL_PROVISION_CTRL", Value: v}
		}
		cfg.LocalProvisionCtrl = b
	}
	if v, ok := kv["REMOTE_PROVISION_CTRL"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, ErrInvalidValue{Key: "REMOTE_PROVISION_CTRL", Value: v}
		}
		cfg.RemoteProvisionCtrl = b
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile opens path and delegates to Load.
func LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Validate checks the keys spec.md §6 marks required.
func (c Config) Validate() error {
	if c.DefaultRouteURI == "" {
		return ErrMissingRequiredKey{Key: "DEFAULT_ROUTE_URI"}
	}
	if c.DNSServer == "" {
		return ErrMissingRequiredKey{Key: "DNS_SERVER"}
	}
	if c.LogLevel < 1 || c.LogLevel > 5 {
		return ErrInvalidValue{Key: "LOG_LEVEL", Value: strconv.Itoa(c.LogLevel)}
	}
	return nil
}

// Flags holds the CLI overrides from spec.md §6: -c PATH, -v N, -l
// FILE, -d, -r.
type Flags struct {
	ConfigPath  string
	LogLevel    int // 0 means "not set"
	LogFile     string
	Daemonize   bool
	ForceRemote bool
}

// ApplyFlags layers CLI overrides on top of a loaded Config, matching
// provisioning_daemon.c's argument-parsing precedence (flags win over
// the config file).
func (c Config) ApplyFlags(f Flags) Config {
	if f.LogLevel != 0 {
		c.LogLevel = f.LogLevel
	}
	if f.LogFile != "" {
		c.LogFile = f.LogFile
	}
	c.Daemonize = f.Daemonize
	if f.ForceRemote {
		c.RemoteProvisionCtrl = true
	}
	return c
}
