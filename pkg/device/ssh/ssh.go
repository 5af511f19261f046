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

package ssh

import (
	"bytes"
	"context"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"

	"github.com/nasqa/uut-harness/pkg/device"
)

const (
	DefaultUser = "root"
	DefaultPort = 22
)

// Config describes how to reach the UUT.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	KeyFile  string
	// DialTimeout bounds connection setup only, not command execution.
	DialTimeout time.Duration
}

// ClientConfig builds the x/crypto/ssh client config. Host keys are not
// verified; UUTs are reflashed constantly.
func (c Config) ClientConfig() (*ssh.ClientConfig, error) {
	user := c.User
	if user == "" {
		user = DefaultUser
	}
	var auth []ssh.AuthMethod
	if c.KeyFile != "" {
		key, err := os.ReadFile(c.KeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "read ssh key")
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, errors.Wrap(err, "parse ssh key")
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if c.Password != "" {
		auth = append(auth, ssh.Password(c.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("ssh: password or key file is required")
	}
	timeout := c.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}, nil
}

// Addr returns host:port.
func (c Config) Addr() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Client runs commands over a single ssh connection. Sessions are opened per
// command, so one Client may be used from several goroutines.
type Client struct {
	cfg Config
	log logr.Logger

	mu     sync.Mutex
	client *ssh.Client
}

// New returns a client that dials lazily on the first command.
func New(cfg Config, log logr.Logger) *Client {
	return &Client{cfg: cfg, log: log.WithValues("addr", cfg.Addr())}
}

// Dial opens the connection if it is not open yet.
func (c *Client) Dial(ctx context.Context) error {
	_, err := c.conn(ctx)
	return err
}

func (c *Client) conn(ctx context.Context) (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	clientCfg, err := c.cfg.ClientConfig()
	if err != nil {
		return nil, err
	}
	dialer := net.Dialer{Timeout: clientCfg.Timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", c.cfg.Addr())
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", c.cfg.Addr())
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, c.cfg.Addr(), clientCfg)
	if err != nil {
		netConn.Close()
		return nil, errors.Wrapf(err, "ssh handshake with %s", c.cfg.Addr())
	}
	c.client = ssh.NewClient(sshConn, chans, reqs)
	c.log.V(1).Info("ssh connected")
	return c.client, nil
}

// Run executes cmd in a new session. If ctx is done first the remote
// command is sent SIGABRT and the context error is returned.
func (c *Client) Run(ctx context.Context, cmd string) (*device.CommandResult, error) {
	result := &device.CommandResult{Command: cmd, ExitCode: -1}
	client, err := c.conn(ctx)
	if err != nil {
		return result, err
	}
	session, err := client.NewSession()
	if err != nil {
		c.reset(client)
		return result, errors.Wrap(err, "open ssh session")
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	start := time.Now()

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		if err := session.Signal(ssh.SIGABRT); err != nil {
			c.log.Error(err, "failed to abort ssh command", "cmd", cmd)
		}
		// The session copies into stdout/stderr until Run returns.
		session.Close()
		<-done
		result.Stdout = stdout.String()
		result.Stderr = stderr.String()
		result.Duration = time.Since(start)
		return result, ctx.Err()
	}

	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	result.Duration = time.Since(start)

	var exitErr *ssh.ExitError
	switch {
	case runErr == nil:
		result.ExitCode = 0
	case errors.As(runErr, &exitErr):
		result.ExitCode = exitErr.ExitStatus()
	default:
		return result, errors.Wrapf(runErr, "ssh run %q", cmd)
	}
	c.log.V(1).Info("ssh run", "cmd", cmd, "exitCode", result.ExitCode)
	return result, device.CheckResult(result)
}

func (c *Client) reset(broken *ssh.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == broken {
		c.client.Close()
		c.client = nil
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}
