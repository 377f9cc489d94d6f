// SPDX-FileCopyrightText: 2025 The globalactiond Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package action

import (
	"os/exec"
)

// Command spawns a child process on activation. The child is detached; its
// lifecycle is not tracked.
type Command struct {
	base
	program string
	args    []string
}

func NewCommand(program string, args []string, description string) *Command {
	return &Command{
		base:    newBase(description),
		program: program,
		args:    args,
	}
}

func (a *Command) Type() string {
	return TypeCommand
}

func (a *Command) Program() string {
	return a.program
}

func (a *Command) Args() []string {
	return a.args
}

func (a *Command) Call() bool {
	// #nosec G204
	cmd := exec.Command(a.program, a.args...)
	err := cmd.Start()
	if err != nil {
		logger.Warningf("cannot start %q: %v", a.program, err)
		return false
	}
	go func() {
		_ = cmd.Wait()
	}()
	return true
}
