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

	"github.com/pkg/errors"

	"github.com/nasqa/uut-harness/framework/executor"
	"github.com/nasqa/uut-harness/framework/fixture"
	"github.com/nasqa/uut-harness/framework/results"
	"github.com/nasqa/uut-harness/framework/testcase"
	"github.com/nasqa/uut-harness/pkg/device"
)

const usersKey = "users"

// MultiUser creates several accounts concurrently through the REST API,
// verifies each one from its own worker, and removes them again.
type MultiUser struct{}

func (MultiUser) Description() string {
	return "concurrent user accounts are created and readable"
}

func (MultiUser) Requires() []device.Transport {
	return []device.Transport{device.TransportREST}
}

func (MultiUser) Declare(p testcase.Params) {
	p.Default("users", 3)
	p.Default("prefix", "qa")
}

func (MultiUser) BeforeTest(ctx context.Context, env *testcase.Env) error {
	api, err := env.Devices.API()
	if err != nil {
		return testcase.Errorf(err, "device API")
	}
	users, err := fixture.NewUsers(env.Params.Int("users", 3), env.Params.String("prefix", "qa"))
	if err != nil {
		return testcase.Errorf(err, "generate users")
	}
	// Stored before creation so AfterTest removes whatever was created.
	env.Share.Put(usersKey, users)

	exec := executor.New(env.Logger)
	if err := executor.FanOut(exec, "create-user", users, func(ctx context.Context, i int, u *fixture.User) error {
		return fixture.CreateUser(ctx, api, u)
	}); err != nil {
		return testcase.Errorf(err, "register workers")
	}
	if err := exec.RunThreads(ctx); err != nil {
		env.Steps.TestStep(fmt.Sprintf("Create %d users", users.Len()), results.StatusFailed, exec.AllErrors().Error())
		return testcase.Errorf(exec.AllErrors(), "create users")
	}
	env.Steps.TestStep(fmt.Sprintf("Create %d users", users.Len()), results.StatusPassed)
	return nil
}

func (MultiUser) Test(ctx context.Context, env *testcase.Env) error {
	api, err := env.Devices.API()
	if err != nil {
		return testcase.Errorf(err, "device API")
	}
	users, err := testcase.Load[*executor.Workers[*fixture.User]](env.Share, usersKey)
	if err != nil {
		return testcase.Errorf(err, "load users")
	}

	exec := executor.New(env.Logger)
	if err := executor.FanOut(exec, "verify-user", users, func(ctx context.Context, i int, u *fixture.User) error {
		var got fixture.User
		if err := api.Get(ctx, fixture.UsersPath+"/"+u.ID, &got); err != nil {
			env.Steps.TestStep(fmt.Sprintf("Worker %d reads %s", i, u.Name), results.StatusFailed, err.Error())
			return err
		}
		if got.Name != u.Name {
			err := errors.Errorf("user %s reads back as %q", u.ID, got.Name)
			env.Steps.TestStep(fmt.Sprintf("Worker %d reads %s", i, u.Name), results.StatusFailed, err.Error())
			return err
		}
		env.Steps.TestStep(fmt.Sprintf("Worker %d reads %s", i, u.Name), results.StatusPassed)
		return nil
	}); err != nil {
		return testcase.Errorf(err, "register workers")
	}
	if err := exec.RunThreads(ctx); err != nil {
		return testcase.FailOn(exec.AllErrors(), "verify users")
	}
	env.Result.Set("users", users.Len())
	return nil
}

func (MultiUser) AfterTest(ctx context.Context, env *testcase.Env) error {
	users, err := testcase.Load[*executor.Workers[*fixture.User]](env.Share, usersKey)
	if err != nil {
		return nil
	}
	env.Share.Delete(usersKey)
	api, err := env.Devices.API()
	if err != nil {
		return err
	}
	return fixture.DeleteUsers(ctx, api, users.All())
}
