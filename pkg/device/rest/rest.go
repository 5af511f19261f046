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

package rest

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
)

// HTTPClient defines the interface used by Client.
// It is used to mock alternative implementations used for testing.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// Client sends REST API requests to the UUT (or a cloud service acting on
// its behalf).
type Client struct {
	// base endpoint, e.g. "http://192.168.1.20"
	BaseURL string

	// bearer token; empty means unauthenticated
	Token string

	// HTTP client used to process requests
	Client HTTPClient
}

// Options configures New.
type Options struct {
	Token    string
	Insecure bool
	Timeout  time.Duration
	RetryMax int
	Logger   logr.Logger
}

// New returns a Client whose transport retries connection errors and 5xx
// responses of idempotent requests. POST and PATCH are sent once.
func New(baseURL string, opts Options) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.RetryMax
	rc.CheckRetry = checkRetry
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = leveledLogger{opts.Logger}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rc.HTTPClient.Timeout = timeout
	if opts.Insecure {
		rc.HTTPClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, // UUTs ship self-signed certs
		}
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   opts.Token,
		Client:  rc.StandardClient(),
	}
}

// StatusError is returned when the response code is not one of the
// expected ones.
type StatusError struct {
	Code int
	URL  string
	Want string
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("response code=%d from %s; want %s", e.Code, e.URL, e.Want)
}

// Do processes a request and unmarshals the response into obj, if not nil.
// expectedStatus is a comma separated list such as "200,201".
func (c *Client) Do(request *http.Request, expectedStatus string, obj interface{}) error {
	if c.Token != "" {
		request.Header.Set("Authorization", "Bearer "+c.Token)
	}
	request.Header.Set("Accept", "application/json")
	if !idempotent(request.Method) {
		request = request.WithContext(context.WithValue(request.Context(), noRetryKey{}, true))
	}
	response, err := c.Client.Do(request)
	if err != nil {
		return errors.Wrapf(err, "%s %s", request.Method, request.URL)
	}
	defer response.Body.Close()

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return errors.Wrapf(err, "read response from %s", request.URL)
	}
	if !statusExpected(expectedStatus, response.StatusCode) {
		return &StatusError{Code: response.StatusCode, URL: request.URL.String(), Want: expectedStatus, Body: string(data)}
	}
	if obj == nil {
		return nil
	}
	if len(data) == 0 {
		return errors.Errorf("received empty response body from %s", request.URL)
	}
	return errors.Wrapf(json.Unmarshal(data, obj), "decode response from %s", request.URL)
}

type noRetryKey struct{}

func idempotent(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPatch:
		return false
	}
	return true
}

// checkRetry is retryablehttp.DefaultRetryPolicy, except that requests
// marked by Do as non-idempotent are never retried.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if noRetry, _ := ctx.Value(noRetryKey{}).(bool); noRetry {
		return false, ctx.Err()
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func statusExpected(expected string, code int) bool {
	for _, s := range strings.Split(expected, ",") {
		if strings.TrimSpace(s) == strconv.Itoa(code) {
			return true
		}
	}
	return false
}

// Get sends a GET request and unmarshals the response into obj.
func (c *Client) Get(ctx context.Context, path string, obj interface{}) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.Do(request, "200", obj)
}

// Post sends body as JSON and unmarshals the response into obj.
func (c *Client) Post(ctx context.Context, path string, body, obj interface{}) error {
	return c.sendJSON(ctx, http.MethodPost, path, "200,201,202", body, obj)
}

// Put sends body as JSON and unmarshals the response into obj.
func (c *Client) Put(ctx context.Context, path string, body, obj interface{}) error {
	return c.sendJSON(ctx, http.MethodPut, path, "200,204", body, obj)
}

// Delete removes the resource at path.
func (c *Client) Delete(ctx context.Context, path string) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.Do(request, "200,202,204", nil)
}

func (c *Client) sendJSON(ctx context.Context, method, path, expected string, body, obj interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request body")
		}
		reader = bytes.NewReader(data)
	}
	request, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	return c.Do(request, expected, obj)
}

// leveledLogger adapts logr to retryablehttp.LeveledLogger.
type leveledLogger struct {
	log logr.Logger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.log.Error(nil, msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{}) { l.log.Info(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.log.V(1).Info(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{}) { l.log.Info(msg, kv...) }
