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

// Package cases holds the built-in test cases.
package cases

import (
	"context"

	"github.com/nasqa/uut-harness/framework/registry"
	"github.com/nasqa/uut-harness/framework/testcase"
	"github.com/nasqa/uut-harness/pkg/device"
)

// DeviceInfoPath is the REST endpoint describing the UUT.
const DeviceInfoPath = "/api/v1/device/info"

// DeviceInfo is the body served at DeviceInfoPath.
type DeviceInfo struct {
	Model    string `json:"model"`
	Serial   string `json:"serial"`
	Firmware string `json:"firmware"`
}

// Register adds every built-in case to reg.
func Register(reg *registry.Registry) {
	reg.Register("uut_reachable", func() testcase.Case { return &Reachable{} })
	reg.Register("firmware_version", func() testcase.Case { return &FirmwareVersion{} })
	reg.Register("concurrent_shell", func() testcase.Case { return &ConcurrentShell{} })
	reg.Register("multi_user", func() testcase.Case { return &MultiUser{} })
}

// deviceInfo fetches DeviceInfoPath when the REST transport is configured.
// ok is false when it is not.
func deviceInfo(ctx context.Context, env *testcase.Env) (info DeviceInfo, ok bool, err error) {
	if env.Devices == nil || !env.Devices.Has(device.TransportREST) {
		return info, false, nil
	}
	api, err := env.Devices.API()
	if err != nil {
		return info, true, err
	}
	err = api.Get(ctx, DeviceInfoPath, &info)
	return info, true, err
}
