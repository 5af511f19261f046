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
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasqa/uut-harness/pkg/device"
)

// fakePort echoes written commands back and answers them from a table.
type fakePort struct {
	mu      sync.Mutex
	replies map[string]string
	pending bytes.Buffer
	written []string
	closed  bool
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	line := string(b)
	p.written = append(p.written, line)
	cmd := strings.SplitN(line, ";", 2)[0]
	p.pending.WriteString(strings.TrimSuffix(line, "\n") + "\r\n")
	if reply, ok := p.replies[cmd]; ok {
		p.pending.WriteString(reply)
	}
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending.Len() == 0 {
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	// Short reads exercise reassembly across chunks.
	if len(b) > 7 {
		b = b[:7]
	}
	return p.pending.Read(b)
}

func (p *fakePort) Close() error { p.closed = true; return nil }
func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }
func (p *fakePort) ResetInputBuffer() error { return nil }

func TestRun(t *testing.T) {
	port := &fakePort{replies: map[string]string{
		"cat /etc/version": "5.26.113\r\n__UUT_RC__0\r\n",
		"ls /missing":      "ls: /missing: No such file or directory\r\n__UUT_RC__2\r\n",
	}}
	console, err := NewConsole(port, logr.Discard())
	require.NoError(t, err)

	out, err := device.Output(context.Background(), console, "cat /etc/version")
	require.NoError(t, err)
	assert.Equal(t, "5.26.113", out)
	assert.Equal(t, "cat /etc/version; echo __UUT_RC__$?\n", port.written[0])

	result, err := console.Run(context.Background(), "ls /missing")
	var exitErr *device.ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 2, result.ExitCode)

	require.NoError(t, console.Close())
	assert.True(t, port.closed)
}

func TestRunTimeout(t *testing.T) {
	console, err := NewConsole(&fakePort{}, logr.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = console.Run(ctx, "sleep 60")
	require.Error(t, err)
}

func TestParseOutput(t *testing.T) {
	sent := "uptime; echo __UUT_RC__$?\n"
	_, _, done := parseOutput("uptime; echo __UUT_RC__$?\r\n 10:00 up 1 day\r\n__UUT_RC__", sent)
	assert.False(t, done)

	out, code, done := parseOutput("uptime; echo __UUT_RC__$?\r\n 10:00 up 1 day\r\n__UUT_RC__0\r\n", sent)
	assert.True(t, done)
	assert.Equal(t, 0, code)
	assert.Equal(t, " 10:00 up 1 day", out)
}
