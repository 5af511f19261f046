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
	"testing"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasqa/uut-harness/pkg/device"
	"github.com/nasqa/uut-harness/pkg/device/ssh"
)

type fakeShell struct {
	closed   bool
	closeErr error
}

func (s *fakeShell) Run(_ context.Context, cmd string) (*device.CommandResult, error) {
	return &device.CommandResult{Command: cmd}, nil
}

func (s *fakeShell) Close() error {
	s.closed = true
	return s.closeErr
}

func TestHas(t *testing.T) {
	f := New(Config{
		Platform: device.Godzilla,
		SSH:      ssh.Config{Host: "192.168.1.20"},
		RestURL:  "http://192.168.1.20",
	}, logr.Discard())

	assert.True(t, f.Has(device.TransportSSH))
	assert.True(t, f.Has(device.TransportREST))
	assert.False(t, f.Has(device.TransportADB))
	assert.False(t, f.Has(device.TransportSerial))
	assert.Equal(t, device.Godzilla, f.Platform())
}

func TestShellNotConfigured(t *testing.T) {
	f := New(Config{Platform: device.Kamino}, logr.Discard())
	_, err := f.Shell(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adb transport is not configured")
}

func TestConsoleSharedAndClosed(t *testing.T) {
	f := New(Config{Platform: device.Grack, SerialPort: "/dev/ttyUSB0"}, logr.Discard())
	opens := 0
	shell := &fakeShell{closeErr: errors.New("port busy")}
	f.openSerial = func(port string, baud int, _ logr.Logger) (device.Shell, error) {
		opens++
		assert.Equal(t, "/dev/ttyUSB0", port)
		return shell, nil
	}

	first, err := f.Console(context.Background())
	require.NoError(t, err)
	second, err := f.Console(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, opens)

	err = f.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port busy")
	assert.True(t, shell.closed)

	_, err = f.Console(context.Background())
	assert.Error(t, err)
}

func TestAPI(t *testing.T) {
	_, err := New(Config{}, logr.Discard()).API()
	assert.Error(t, err)

	f := New(Config{RestURL: "http://192.168.1.20"}, logr.Discard())
	api, err := f.API()
	require.NoError(t, err)
	again, _ := f.API()
	assert.Same(t, api, again)
}
