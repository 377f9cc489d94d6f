// SPDX-FileCopyrightText: 2025 The globalactiond Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package daemon

import (
	"errors"
	"sync"

	"globalactiond/xworker"
)

// fakeX stands in for the X11 worker: a fixed keyboard mapping, a grab set
// and a scriptable keyboard-grab session.
type fakeX struct {
	mu sync.Mutex

	keycodes map[string]uint8
	names    map[uint8]string

	grabbed      map[xBinding]bool
	grabCalls    int
	ungrabCalls  int
	failNextGrab bool

	allowMasks xworker.AllowMasks

	cmd *fakeCmd
}

func newFakeX() *fakeX {
	f := &fakeX{
		keycodes: map[string]uint8{
			"T":     28,
			"F1":    67,
			"X":     53,
			"L":     46,
			"space": 65,
			"Q":     24,
		},
		grabbed:    make(map[xBinding]bool),
		allowMasks: xworker.DefaultAllowMasks(),
		cmd:        newFakeCmd(),
	}
	f.names = make(map[uint8]string)
	for name, code := range f.keycodes {
		f.names[code] = name
	}
	return f
}

func (f *fakeX) StringToKeycode(name string) (uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keycodes[name], nil
}

func (f *fakeX) KeycodeToString(code uint8) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.names[code], nil
}

func (f *fakeX) GrabKey(code uint8, mask uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grabCalls++
	if f.failNextGrab {
		f.failNextGrab = false
		return errors.New("grab rejected")
	}
	f.grabbed[xBinding{code: code, mask: mask}] = true
	return nil
}

func (f *fakeX) UngrabKey(code uint8, mask uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ungrabCalls++
	delete(f.grabbed, xBinding{code: code, mask: mask})
	return nil
}

func (f *fakeX) Exclusive(fn func(c xworker.Commander)) {
	fn(f.cmd)
}

func (f *fakeX) SetAllowMasks(am xworker.AllowMasks) {
	f.mu.Lock()
	f.allowMasks = am
	f.mu.Unlock()
}

func (f *fakeX) AbandonGrabLocked() {
	f.cmd.abandoned = true
}

func (f *fakeX) GrabbingLocked() bool {
	return f.cmd.grabbing
}

func (f *fakeX) grabCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.grabbed)
}

func (f *fakeX) isGrabbed(x xBinding) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.grabbed[x]
}

// fakeCmd scripts the exclusive keyboard-grab channel.
type fakeCmd struct {
	grabbing  bool
	abandoned bool

	grabKeyboardErr error
	ungrabCalls     int

	resultShortcut  string
	resultCancelled bool
}

func newFakeCmd() *fakeCmd {
	return &fakeCmd{}
}

func (c *fakeCmd) GrabKeyboard() (int32, error) {
	if c.grabKeyboardErr != nil {
		return 0, c.grabKeyboardErr
	}
	c.grabbing = true
	return 0, nil
}

func (c *fakeCmd) UngrabKeyboard() error {
	c.ungrabCalls++
	c.grabbing = false
	return nil
}

func (c *fakeCmd) ReadGrabResult() (string, bool, error) {
	return c.resultShortcut, c.resultCancelled, nil
}

func newTestManager(x xConn) *Manager {
	m := &Manager{
		x:          x,
		reg:        newRegistry(),
		behaviour:  BehaviourFirst,
		allowMasks: xworker.DefaultAllowMasks(),
	}
	m.grab.init()
	m.adaptor = &Daemon{m: m}
	m.native = &Native{m: m}
	return m
}

// fakeAction records calls and returns a scripted result.
type fakeAction struct {
	enabled bool
	result  bool
	calls   int
}

func newFakeAction(result bool) *fakeAction {
	return &fakeAction{enabled: true, result: result}
}

func (a *fakeAction) Type() string            { return "command" }
func (a *fakeAction) Description() string     { return "" }
func (a *fakeAction) SetDescription(string)   {}
func (a *fakeAction) IsEnabled() bool         { return a.enabled }
func (a *fakeAction) SetEnabled(enabled bool) { a.enabled = enabled }

func (a *fakeAction) Call() bool {
	a.calls++
	return a.result
}
