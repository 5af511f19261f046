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

package serial

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"go.bug.st/serial"

	"github.com/nasqa/uut-harness/pkg/device"
)

const (
	DefaultBaudRate = 115200
	// DefaultCommandTimeout applies when ctx carries no deadline.
	DefaultCommandTimeout = 2 * time.Minute

	exitMarker  = "__UUT_RC__"
	readTimeout = 200 * time.Millisecond
)

var exitPattern = regexp.MustCompile(exitMarker + `(\d+)`)

// Port is the part of go.bug.st/serial.Port the console uses.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Console runs shell commands over the UUT debug console. The console is a
// single stream, so commands are serialized.
type Console struct {
	port Port
	log  logr.Logger
	mu   sync.Mutex
}

// Open opens the serial device at the given baud rate.
func Open(portName string, baudRate int, log logr.Logger) (*Console, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	port, err := serial.Open(portName, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s", portName)
	}
	return NewConsole(port, log.WithValues("port", portName))
}

// NewConsole wraps an already open port.
func NewConsole(port Port, log logr.Logger) (*Console, error) {
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, errors.Wrap(err, "set serial read timeout")
	}
	return &Console{port: port, log: log}, nil
}

// Run writes cmd followed by an exit-status echo and reads until the status
// line arrives or ctx expires.
func (c *Console) Run(ctx context.Context, cmd string) (*device.CommandResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := &device.CommandResult{Command: cmd, ExitCode: -1}
	start := time.Now()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = start.Add(DefaultCommandTimeout)
	}

	if err := c.port.ResetInputBuffer(); err != nil {
		return result, errors.Wrap(err, "reset serial input")
	}
	line := fmt.Sprintf("%s; echo %s$?\n", cmd, exitMarker)
	if _, err := io.WriteString(c.port, line); err != nil {
		return result, errors.Wrap(err, "write serial command")
	}

	var out strings.Builder
	buf := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			result.Stdout = out.String()
			return result, err
		}
		if time.Now().After(deadline) {
			result.Stdout = out.String()
			return result, errors.Errorf("serial command %q timed out", cmd)
		}
		n, err := c.port.Read(buf)
		if n > 0 {
			out.Write(buf[:n])
			if stdout, code, done := parseOutput(out.String(), line); done {
				result.Stdout = stdout
				result.ExitCode = code
				result.Duration = time.Since(start)
				c.log.V(1).Info("serial run", "cmd", cmd, "exitCode", code)
				return result, device.CheckResult(result)
			}
		}
		if err != nil && err != io.EOF {
			result.Stdout = out.String()
			return result, errors.Wrap(err, "read serial console")
		}
	}
}

// parseOutput extracts the command output and exit code once the status
// line has been read. The echoed command line is dropped.
func parseOutput(raw string, sent string) (string, int, bool) {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	echo := strings.TrimSuffix(sent, "\n")
	lines := strings.Split(raw, "\n")
	var kept []string
	for i, l := range lines {
		if strings.Contains(l, echo) {
			continue
		}
		if m := exitPattern.FindStringSubmatch(l); m != nil {
			// An unterminated final line may still be arriving.
			if i == len(lines)-1 {
				return "", 0, false
			}
			code, _ := strconv.Atoi(m[1])
			return strings.Join(kept, "\n"), code, true
		}
		kept = append(kept, l)
	}
	return "", 0, false
}

// Close closes the port.
func (c *Console) Close() error {
	return c.port.Close()
}
