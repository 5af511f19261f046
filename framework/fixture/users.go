// Package fixture builds per-worker test data for concurrent cases.
package fixture

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sethvargo/go-password/password"

	"github.com/nasqa/uut-harness/framework/executor"
	"github.com/nasqa/uut-harness/pkg/device"
)

// UsersPath is the device API collection users are created under.
const UsersPath = "/api/v1/users"

// User is a throwaway account owned by one worker.
type User struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// NewUser generates a user with a unique name under prefix and a random
// 16 character password with digits and symbols.
func NewUser(prefix string) (*User, error) {
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		prefix = "qa"
	}
	pw, err := password.Generate(16, 4, 2, false, false)
	if err != nil {
		return nil, errors.Wrap(err, "generate password")
	}
	name := fmt.Sprintf("%s_%s", prefix, strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
	return &User{
		Name:     name,
		Email:    name + "@test.nasqa.local",
		Password: pw,
	}, nil
}

// NewUsers generates n users, one per worker.
func NewUsers(n int, prefix string) (*executor.Workers[*User], error) {
	return executor.NewWorkers(n, func(int) (*User, error) {
		return NewUser(prefix)
	})
}

// CreateUser registers u on the device and records the assigned ID.
func CreateUser(ctx context.Context, api device.API, u *User) error {
	var created struct {
		ID string `json:"id"`
	}
	if err := api.Post(ctx, UsersPath, u, &created); err != nil {
		return errors.Wrapf(err, "create user %s", u.Name)
	}
	u.ID = created.ID
	return nil
}

// DeleteUsers removes every created user, continuing past failures.
func DeleteUsers(ctx context.Context, api device.API, users []*User) error {
	var result *multierror.Error
	for _, u := range users {
		if u == nil || u.ID == "" {
			continue
		}
		if err := api.Delete(ctx, UsersPath+"/"+u.ID); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "delete user %s", u.Name))
			continue
		}
		u.ID = ""
	}
	return result.ErrorOrNil()
}
