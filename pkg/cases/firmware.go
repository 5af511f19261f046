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

package cases

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nasqa/uut-harness/framework/results"
	"github.com/nasqa/uut-harness/framework/retry"
	"github.com/nasqa/uut-harness/framework/testcase"
	"github.com/nasqa/uut-harness/pkg/device"
)

// FirmwareVersion reads the firmware version over the shell and checks it
// against the expected build and the REST API.
type FirmwareVersion struct{}

func (FirmwareVersion) Description() string {
	return "firmware version matches the build under test"
}

func (FirmwareVersion) Declare(p testcase.Params) {
	p.Default("expected", "${UUT_FW_VERSION}")
	p.Default("max_retry", 3)
	p.Default("delay", "5s")
}

// VersionCommand prints the firmware version on platform.
func VersionCommand(platform device.Platform) string {
	if platform == device.Kamino {
		return "getprop ro.build.version.incremental"
	}
	return "cat /etc/version"
}

func (FirmwareVersion) Test(ctx context.Context, env *testcase.Env) error {
	sh, err := env.Devices.Shell(ctx)
	if err != nil {
		return testcase.Errorf(err, "open shell")
	}
	defer sh.Close()

	cmd := VersionCommand(env.Platform)
	opts := retry.Options{
		MaxRetry: env.Params.Int("max_retry", 3),
		Delay:    env.Params.Duration("delay", 5*time.Second),
		OnRetry: func(attempt int, err error, next time.Duration) {
			env.Logger.Warn("firmware version not readable", zap.Int("attempt", attempt), zap.Error(err), zap.Duration("next", next))
		},
	}
	version, err := retry.Until(ctx, opts, func(ctx context.Context) (string, error) {
		return device.Output(ctx, sh, cmd)
	}, func(v string) bool { return v != "" })
	if err != nil {
		env.Steps.TestStep("Read firmware version", results.StatusFailed, err.Error())
		return testcase.FailOn(err, "read firmware version")
	}
	env.Steps.TestStep("Read firmware version", results.StatusPassed, version)
	env.Result.Set("firmware", version)

	info, ok, err := deviceInfo(ctx, env)
	switch {
	case !ok:
	case err != nil:
		env.Steps.TestStep("Compare with REST firmware", results.StatusFailed, err.Error())
	case info.Firmware != version:
		env.Steps.TestStep("Compare with REST firmware", results.StatusFailed,
			fmt.Sprintf("shell reports %s, REST reports %s", version, info.Firmware))
	default:
		env.Steps.TestStep("Compare with REST firmware", results.StatusPassed)
	}

	expected := strings.TrimSpace(env.Params.String("expected", ""))
	if expected == "" {
		env.Steps.TestStep("Compare with expected build", results.StatusSkipped, "no expected version")
		return nil
	}
	if version != expected {
		env.Steps.TestStep("Compare with expected build", results.StatusFailed, "expected "+expected)
		return testcase.Fail("firmware is %s, expected %s", version, expected)
	}
	env.Steps.TestStep("Compare with expected build", results.StatusPassed, expected)
	return nil
}
