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
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nasqa/uut-harness/framework/results"
	"github.com/nasqa/uut-harness/framework/retry"
	"github.com/nasqa/uut-harness/framework/testcase"
	"github.com/nasqa/uut-harness/pkg/device"
)

const reachableMarker = "uut_reachable_ok"

// Reachable waits until the UUT answers on its shell transport, e.g. after
// a reboot or a firmware update.
type Reachable struct{}

func (Reachable) Description() string {
	return "UUT answers on its shell transport"
}

func (Reachable) Declare(p testcase.Params) {
	p.Default("timeout", "5m")
	p.Default("interval", "10s")
}

func (Reachable) Test(ctx context.Context, env *testcase.Env) error {
	timeout := env.Params.Duration("timeout", 5*time.Minute)
	interval := env.Params.Duration("interval", 10*time.Second)

	step := env.Steps.Begin(fmt.Sprintf("Wait for %s shell", env.Platform.ShellTransport()))
	attempts := 0
	start := time.Now()
	err := retry.Poll(ctx, func(ctx context.Context) error {
		attempts++
		sh, err := env.Devices.Shell(ctx)
		if err != nil {
			env.Logger.Debug("shell not ready", zap.Int("attempt", attempts), zap.Error(err))
			return err
		}
		defer sh.Close()
		out, err := device.Output(ctx, sh, "echo "+reachableMarker)
		if err != nil {
			return err
		}
		if out != reachableMarker {
			return errors.Errorf("unexpected echo %q", out)
		}
		return nil
	}, &retry.PollOptions{Timeout: timeout, Interval: interval})
	step.AddMessage("%d attempts in %s", attempts, time.Since(start).Round(time.Second))
	env.Result.Set("attempts", attempts)
	if err != nil {
		step.Fail(err)
		return testcase.FailOn(err, "UUT not reachable within %s", timeout)
	}
	step.Pass()

	info, ok, err := deviceInfo(ctx, env)
	switch {
	case !ok:
	case err != nil:
		env.Steps.TestStep("Query device info", results.StatusFailed, err.Error())
	default:
		env.Steps.TestStep("Query device info", results.StatusPassed, fmt.Sprintf("%s serial %s", info.Model, info.Serial))
		env.Result.Set("model", info.Model)
	}
	return nil
}
