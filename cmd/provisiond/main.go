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

package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/creatordev/provisiond/internal/config"
	"github.com/creatordev/provisiond/internal/connmgr"
	"github.com/creatordev/provisiond/internal/credential"
	"github.com/creatordev/provisiond/internal/daemon"
	"github.com/creatordev/provisiond/internal/dhcrypto"
	"github.com/creatordev/provisiond/internal/event"
	"github.com/creatordev/provisiond/internal/history"
	"github.com/creatordev/provisiond/internal/localbus"
	"github.com/creatordev/provisiond/internal/registry"
	"github.com/creatordev/provisiond/internal/session"
	"github.com/creatordev/provisiond/internal/ui"
)

// dhModulus and dhGenerator stand in for the compile-time P_MODULE
// constant commands.h defines (not present in the retrieved source);
// 16 bytes matches P_LEN's typical value from spec.md §3.
var dhModulus = []byte{
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xC5,
}

const dhGenerator = 2

func cryptoRandomSource(buf []byte) error {
	_, err := rand.Read(buf)
	return err
}

func defaultSocketPath() string { return "/var/run/provisiond.sock" }

func main() {
	app := &cli.App{
		Name:                 "provisiond",
		Usage:                "enrolls clicker endpoints into the device-management service",
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "/etc/provisiond.conf", Usage: "config file path"},
			&cli.IntFlag{Name: "verbosity", Aliases: []string{"v"}, Value: 0, Usage: "log level 1-5, overrides the config file"},
			&cli.StringFlag{Name: "logfile", Aliases: []string{"l"}, Usage: "log to FILE instead of stderr"},
			&cli.BoolFlag{Name: "daemonize", Aliases: []string{"d"}, Usage: "recorded in the config; the process does not detach and stays in the foreground"},
			&cli.BoolFlag{Name: "remote", Aliases: []string{"r"}, Usage: "force-enable remote provisioning control"},
			&cli.StringFlag{Name: "socket", Aliases: []string{"s"}, Value: defaultSocketPath(), Usage: "local IPC bus socket path"},
		},
		Action: runDaemon,
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "print getState() from a running daemon",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "socket", Aliases: []string{"s"}, Value: defaultSocketPath(), Usage: "local IPC bus socket path"},
				},
				Action: runStatus,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(-1)
	}
}

func buildLogger(cfg config.Config) (zerolog.Logger, error) {
	level := zerolog.Level(4 - cfg.LogLevel) // LOG_LEVEL 1(error)..5(trace) -> zerolog Error..Trace
	w := os.Stderr
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("open log file: %w", err)
		}
		return zerolog.New(f).Level(level).With().Timestamp().Logger(), nil
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

func runDaemon(c *cli.Context) error {
	cfg, err := config.LoadFile(c.String("config"))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	cfg = cfg.ApplyFlags(config.Flags{
		LogLevel:    c.Int("verbosity"),
		LogFile:     c.String("logfile"),
		Daemonize:   c.Bool("daemonize"),
		ForceRemote: c.Bool("remote"),
	})

	log, err := buildLogger(cfg)
	if err != nil {
		return err
	}

	events := event.New()
	reg := registry.New(func(id int) *dhcrypto.Exchanger {
		return dhcrypto.NewExchanger(dhModulus, len(dhModulus), dhGenerator, cryptoRandomSource)
	})

	conn, err := connmgr.New(events, log)
	if err != nil {
		return fmt.Errorf("connection manager init: %w", err)
	}
	if err := conn.Listen(cfg.Port); err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	defer conn.Close()

	uiCtrl := ui.New(events, reg, nil)
	uiCtrl.LocalProvisionCtrl = cfg.LocalProvisionCtrl
	uiCtrl.RemoteProvisionCtrl = cfg.RemoteProvisionCtrl

	hist := history.New()

	// The real trust-service transport (ubus) is out of scope
	// (spec.md §1); MockBus with no Responder is the production
	// stand-in until a real Bus implementation is substituted here.
	cred := credential.New(&credential.MockBus{}, events, log)

	sm := session.New(reg, events, hist, cred, conn, session.Config{
		BootstrapURI:        cfg.BootstrapURI,
		DefaultRouteURI:     cfg.DefaultRouteURI,
		DNSServer:           cfg.DNSServer,
		EndpointNamePattern: cfg.EndpointNamePattern,
	}, log)

	d := daemon.New(events, conn, reg, uiCtrl, sm, hist, log)

	bus := localbus.New(c.String("socket"), reg, uiCtrl, events, log)
	if cfg.RemoteProvisionCtrl {
		go func() {
			if err := bus.Serve(); err != nil {
				log.Error().Err(err).Msg("local ipc bus stopped")
			}
		}()
		defer bus.Close()
	} else {
		log.Info().Msg("remote provisioning control disabled, local ipc bus not started")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// SIGUSR1/SIGUSR2 stand in for the physical SWITCH_1/SWITCH_2
	// buttons controls.c wires up; there's no GPIO button driver
	// available to bind to here, so a signal is the nearest
	// operator-triggerable equivalent.
	buttons := make(chan os.Signal, 1)
	signal.Notify(buttons, syscall.SIGUSR1, syscall.SIGUSR2)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-buttons:
				switch sig {
				case syscall.SIGUSR1:
					uiCtrl.SelectNext()
				case syscall.SIGUSR2:
					uiCtrl.StartProvisionSelected()
				}
			}
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("provisiond starting")
	d.Run(ctx)
	return nil
}

func runStatus(c *cli.Context) error {
	client := localbus.NewClient(c.String("socket"))
	state, err := client.GetState()
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Name", "Selected", "In-Provision", "Provisioned", "Error"})
	for _, d := range state {
		table.Append([]string{
			strconv.Itoa(d.ID),
			d.Name,
			strconv.FormatBool(d.Selected),
			strconv.FormatBool(d.InProvision),
			strconv.FormatBool(d.Provisioned),
			strconv.FormatBool(d.Errored),
		})
	}
	table.Render()
	return nil
}
