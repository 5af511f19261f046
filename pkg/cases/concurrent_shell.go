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

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/nasqa/uut-harness/framework/executor"
	"github.com/nasqa/uut-harness/framework/results"
	"github.com/nasqa/uut-harness/framework/testcase"
	"github.com/nasqa/uut-harness/pkg/device"
)

const commandsKey = "commands"

// ConcurrentShell runs the same command from several shell sessions at once,
// each worker on its own connection.
type ConcurrentShell struct {
	shells *executor.Workers[device.Shell]
}

func (c *ConcurrentShell) Description() string {
	return "parallel shell sessions all succeed"
}

func (c *ConcurrentShell) Declare(p testcase.Params) {
	p.Default("workers", 4)
	p.Default("runs", 5)
	p.Default("command", "cat /proc/uptime")
}

// Init opens one shell per worker. Shells opened before a failure are
// closed again.
func (c *ConcurrentShell) Init(ctx context.Context, env *testcase.Env) error {
	n := env.Params.Int("workers", 4)
	if n < 1 {
		return testcase.Errorf(nil, "workers must be at least 1, got %d", n)
	}
	var opened []device.Shell
	shells, err := executor.NewWorkers(n, func(int) (device.Shell, error) {
		sh, err := env.Devices.Shell(ctx)
		if err == nil {
			opened = append(opened, sh)
		}
		return sh, err
	})
	if err != nil {
		closeAll(opened)
		return testcase.Errorf(err, "open %d shells", n)
	}
	c.shells = shells
	return nil
}

func (c *ConcurrentShell) Test(ctx context.Context, env *testcase.Env) error {
	runs := env.Params.Int("runs", 5)
	cmd := env.Params.String("command", "cat /proc/uptime")
	env.Share.Put(commandsKey, 0)

	exec := executor.New(env.Logger)
	err := executor.FanOut(exec, "shell", c.shells, func(ctx context.Context, i int, sh device.Shell) error {
		for run := 1; run <= runs; run++ {
			if _, err := sh.Run(ctx, cmd); err != nil {
				env.Steps.TestStep(fmt.Sprintf("Worker %d run %d: %s", i, run, cmd), results.StatusFailed, err.Error())
				return err
			}
			if err := testcase.Update(env.Share, commandsKey, func(n int) int { return n + 1 }); err != nil {
				return err
			}
		}
		env.Steps.TestStep(fmt.Sprintf("Worker %d ran %q %d times", i, cmd, runs), results.StatusPassed)
		return nil
	})
	if err != nil {
		return testcase.Errorf(err, "register workers")
	}
	runErr := exec.RunThreads(ctx)

	done, _ := testcase.Load[int](env.Share, commandsKey)
	env.Result.Set("workers", c.shells.Len())
	env.Result.Set("commands", done)
	if runErr != nil {
		return testcase.FailOn(exec.AllErrors(), "%d of %d commands completed", done, runs*c.shells.Len())
	}
	return nil
}

func (c *ConcurrentShell) AfterLoop(context.Context, *testcase.Env) error {
	if c.shells == nil {
		return nil
	}
	return closeAll(c.shells.All())
}

func closeAll(shells []device.Shell) error {
	var result *multierror.Error
	for _, sh := range shells {
		if err := sh.Close(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "close shell"))
		}
	}
	return result.ErrorOrNil()
}
