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

package device

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Platform identifies a UUT product family.
type Platform string

const (
	// Kamino is the Android based platform, driven over adb.
	Kamino Platform = "kamino"
	// Godzilla is the Linux NAS platform, driven over ssh.
	Godzilla Platform = "godzilla"
	KDP      Platform = "kdp"
	Grack    Platform = "grack"
)

// Transport names how shell commands reach the UUT.
type Transport string

const (
	TransportADB    Transport = "adb"
	TransportSSH    Transport = "ssh"
	TransportSerial Transport = "serial"
	TransportREST   Transport = "rest"
)

// ParseTransport normalizes a transport name.
func ParseTransport(value string) (Transport, error) {
	switch t := Transport(strings.ToLower(strings.TrimSpace(value))); t {
	case TransportADB, TransportSSH, TransportSerial, TransportREST:
		return t, nil
	default:
		return "", errors.Errorf("unknown transport %q", value)
	}
}

// ParsePlatform normalizes a platform name.
func ParsePlatform(value string) (Platform, error) {
	switch p := Platform(strings.ToLower(strings.TrimSpace(value))); p {
	case Kamino, Godzilla, KDP, Grack:
		return p, nil
	default:
		return "", errors.Errorf("unknown platform %q", value)
	}
}

// ShellTransport returns the transport used for the platform's shell.
func (p Platform) ShellTransport() Transport {
	if p == Kamino {
		return TransportADB
	}
	return TransportSSH
}

// CommandResult captures one shell command execution.
type CommandResult struct {
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Success reports whether the command exited zero.
func (r *CommandResult) Success() bool {
	return r != nil && r.ExitCode == 0
}

// ExitError is returned when a command ran but exited non-zero.
type ExitError struct {
	Result *CommandResult
}

func (e *ExitError) Error() string {
	stderr := strings.TrimSpace(e.Result.Stderr)
	if stderr == "" {
		return fmt.Sprintf("command %q exited with code %d", e.Result.Command, e.Result.ExitCode)
	}
	return fmt.Sprintf("command %q exited with code %d: %s", e.Result.Command, e.Result.ExitCode, stderr)
}

// Shell runs commands on the UUT.
// It is used to mock alternative implementations used for testing.
type Shell interface {
	// Run executes cmd. A non-zero exit is reported as *ExitError together
	// with the result.
	Run(ctx context.Context, cmd string) (*CommandResult, error)
	Close() error
}

// Output runs cmd and returns its trimmed stdout.
func Output(ctx context.Context, sh Shell, cmd string) (string, error) {
	result, err := sh.Run(ctx, cmd)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Stdout), nil
}

// CheckResult turns a finished command into a *ExitError when it exited
// non-zero.
func CheckResult(result *CommandResult) error {
	if result.ExitCode != 0 {
		return &ExitError{Result: result}
	}
	return nil
}

// API is the REST surface of the UUT.
type API interface {
	Get(ctx context.Context, path string, obj interface{}) error
	Post(ctx context.Context, path string, body, obj interface{}) error
	Put(ctx context.Context, path string, body, obj interface{}) error
	Delete(ctx context.Context, path string) error
}

// Provider hands out connections to one UUT. Each Shell call returns a new
// client so concurrent workers do not share a transport.
type Provider interface {
	Platform() Platform
	// Shell opens the platform's default shell transport.
	Shell(ctx context.Context) (Shell, error)
	// Console returns the serial console, shared by every caller.
	Console(ctx context.Context) (Shell, error)
	API() (API, error)
	// Has reports whether the transport is configured for this run.
	Has(t Transport) bool
}
