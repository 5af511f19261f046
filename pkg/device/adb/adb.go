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

package adb

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/nasqa/uut-harness/pkg/device"
)

// runFunc executes a local binary. It is swapped out in tests.
type runFunc func(ctx context.Context, name string, args ...string) (stdout, stderr string, exitCode int, err error)

func execRun(ctx context.Context, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.String(), stderr.String(), exitErr.ExitCode(), nil
	}
	if err != nil {
		return stdout.String(), stderr.String(), -1, err
	}
	return stdout.String(), stderr.String(), 0, nil
}

// Client drives one Android UUT through the adb binary.
type Client struct {
	serial string
	path   string
	log    logr.Logger
	run    runFunc
}

// Option configures a Client.
type Option func(*Client)

// WithPath sets the adb binary.
func WithPath(path string) Option {
	return func(c *Client) {
		if path != "" {
			c.path = path
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New returns a client for the device with the given serial (host:port for
// network devices).
func New(serial string, opts ...Option) *Client {
	c := &Client{serial: serial, path: "adb", log: logr.Discard(), run: execRun}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithValues("serial", serial)
	return c
}

// Serial returns the device serial.
func (c *Client) Serial() string { return c.serial }

// Connect attaches a network device to the local adb server.
func (c *Client) Connect(ctx context.Context) error {
	stdout, stderr, code, err := c.run(ctx, c.path, "connect", c.serial)
	if err != nil {
		return errors.Wrapf(err, "adb connect %s", c.serial)
	}
	out := strings.TrimSpace(stdout + stderr)
	if code != 0 || !(strings.Contains(out, "connected to") || strings.Contains(out, "already connected")) {
		return errors.Errorf("adb connect %s: %s", c.serial, out)
	}
	c.log.V(1).Info("adb connected")
	return nil
}

// Disconnect detaches the device from the local adb server.
func (c *Client) Disconnect(ctx context.Context) error {
	_, stderr, code, err := c.run(ctx, c.path, "disconnect", c.serial)
	if err != nil {
		return errors.Wrapf(err, "adb disconnect %s", c.serial)
	}
	if code != 0 {
		return errors.Errorf("adb disconnect %s: %s", c.serial, strings.TrimSpace(stderr))
	}
	return nil
}

// Run executes cmd through adb shell.
func (c *Client) Run(ctx context.Context, cmd string) (*device.CommandResult, error) {
	start := time.Now()
	stdout, stderr, code, err := c.run(ctx, c.path, "-s", c.serial, "shell", cmd)
	result := &device.CommandResult{
		Command:  cmd,
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: code,
		Duration: time.Since(start),
	}
	if err != nil {
		return result, errors.Wrapf(err, "adb shell %q", cmd)
	}
	c.log.V(1).Info("adb shell", "cmd", cmd, "exitCode", code)
	return result, device.CheckResult(result)
}

// GetProp reads an Android system property.
func (c *Client) GetProp(ctx context.Context, name string) (string, error) {
	return device.Output(ctx, c, "getprop "+name)
}

// Install installs an apk, replacing an existing install.
func (c *Client) Install(ctx context.Context, apkPath string) error {
	stdout, stderr, code, err := c.run(ctx, c.path, "-s", c.serial, "install", "-r", apkPath)
	if err != nil {
		return errors.Wrapf(err, "adb install %s", apkPath)
	}
	if code != 0 || !strings.Contains(stdout, "Success") {
		return errors.Errorf("adb install %s failed: %s", apkPath, strings.TrimSpace(stdout+stderr))
	}
	return nil
}

// Uninstall removes an installed package.
func (c *Client) Uninstall(ctx context.Context, pkg string) error {
	stdout, stderr, code, err := c.run(ctx, c.path, "-s", c.serial, "uninstall", pkg)
	if err != nil {
		return errors.Wrapf(err, "adb uninstall %s", pkg)
	}
	if code != 0 || !strings.Contains(stdout, "Success") {
		return errors.Errorf("adb uninstall %s failed: %s", pkg, strings.TrimSpace(stdout+stderr))
	}
	return nil
}

// Reboot restarts the device. The adb connection drops until it is back.
func (c *Client) Reboot(ctx context.Context) error {
	_, stderr, code, err := c.run(ctx, c.path, "-s", c.serial, "reboot")
	if err != nil {
		return errors.Wrap(err, "adb reboot")
	}
	if code != 0 {
		return errors.Errorf("adb reboot: %s", strings.TrimSpace(stderr))
	}
	return nil
}

// Close is a no-op; the adb server owns the connection.
func (c *Client) Close() error { return nil }
