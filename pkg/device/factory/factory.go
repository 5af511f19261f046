// Copyright (c) 2018-2020 Splunk Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// 	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package factory

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/nasqa/uut-harness/pkg/device"
	"github.com/nasqa/uut-harness/pkg/device/adb"
	"github.com/nasqa/uut-harness/pkg/device/rest"
	"github.com/nasqa/uut-harness/pkg/device/serial"
	"github.com/nasqa/uut-harness/pkg/device/ssh"
)

// Config describes one UUT and how to reach it.
type Config struct {
	Platform device.Platform

	AdbSerial string
	AdbPath   string

	SSH ssh.Config

	SerialPort string
	SerialBaud int

	RestURL      string
	RestToken    string
	RestInsecure bool
	RestTimeout  time.Duration
}

// Factory builds device clients and closes every one of them on Close.
type Factory struct {
	cfg Config
	log logr.Logger

	// overridable in tests
	openSerial func(port string, baud int, log logr.Logger) (device.Shell, error)

	mu      sync.Mutex
	opened  []io.Closer
	console device.Shell
	api     *rest.Client
	closed  bool
}

var _ device.Provider = &Factory{}

// New returns a factory for the UUT described by cfg.
func New(cfg Config, log logr.Logger) *Factory {
	return &Factory{
		cfg: cfg,
		log: log.WithValues("platform", string(cfg.Platform)),
		openSerial: func(port string, baud int, log logr.Logger) (device.Shell, error) {
			console, err := serial.Open(port, baud, log)
			if err != nil {
				return nil, err
			}
			return console, nil
		},
	}
}

// Platform returns the UUT platform.
func (f *Factory) Platform() device.Platform {
	return f.cfg.Platform
}

// Has reports whether the transport is configured.
func (f *Factory) Has(t device.Transport) bool {
	switch t {
	case device.TransportADB:
		return f.cfg.AdbSerial != ""
	case device.TransportSSH:
		return f.cfg.SSH.Host != ""
	case device.TransportSerial:
		return f.cfg.SerialPort != ""
	case device.TransportREST:
		return f.cfg.RestURL != ""
	}
	return false
}

// Shell returns a new client on the platform's shell transport.
func (f *Factory) Shell(ctx context.Context) (device.Shell, error) {
	transport := f.cfg.Platform.ShellTransport()
	if !f.Has(transport) {
		return nil, errors.Errorf("%s transport is not configured for platform %s", transport, f.cfg.Platform)
	}
	var sh device.Shell
	switch transport {
	case device.TransportADB:
		client := adb.New(f.cfg.AdbSerial, adb.WithPath(f.cfg.AdbPath), adb.WithLogger(f.log.WithName("adb")))
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		sh = client
	default:
		client := ssh.New(f.cfg.SSH, f.log.WithName("ssh"))
		if err := client.Dial(ctx); err != nil {
			return nil, err
		}
		sh = client
	}
	if err := f.track(sh); err != nil {
		return nil, err
	}
	return sh, nil
}

// Console opens the serial console on first use and returns the same
// instance afterwards.
func (f *Factory) Console(_ context.Context) (device.Shell, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, errors.New("device factory is closed")
	}
	if f.console != nil {
		return f.console, nil
	}
	if f.cfg.SerialPort == "" {
		return nil, errors.New("serial transport is not configured")
	}
	console, err := f.openSerial(f.cfg.SerialPort, f.cfg.SerialBaud, f.log.WithName("serial"))
	if err != nil {
		return nil, err
	}
	f.console = console
	f.opened = append(f.opened, console)
	return console, nil
}

// API returns the REST client.
func (f *Factory) API() (device.API, error) {
	if f.cfg.RestURL == "" {
		return nil, errors.New("rest transport is not configured")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.api == nil {
		f.api = rest.New(f.cfg.RestURL, rest.Options{
			Token:    f.cfg.RestToken,
			Insecure: f.cfg.RestInsecure,
			Timeout:  f.cfg.RestTimeout,
			RetryMax: 3,
			Logger:   f.log.WithName("rest"),
		})
	}
	return f.api, nil
}

func (f *Factory) track(c io.Closer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		c.Close()
		return errors.New("device factory is closed")
	}
	f.opened = append(f.opened, c)
	return nil
}

// Close closes every client handed out so far.
func (f *Factory) Close() error {
	f.mu.Lock()
	opened := f.opened
	f.opened = nil
	f.console = nil
	f.closed = true
	f.mu.Unlock()

	var result *multierror.Error
	for _, c := range opened {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
