// SPDX-FileCopyrightText: 2025 The globalactiond Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package daemon

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrabShortcutTimeoutBounds(t *testing.T) {
	x := newFakeX()
	m := newTestManager(x)

	for _, timeout := range []uint32{0, 999, 60001} {
		shortcut, failed, cancelled, timedOut := m.grabShortcut(timeout)
		assert.Empty(t, shortcut)
		assert.False(t, failed)
		assert.False(t, cancelled)
		assert.True(t, timedOut, "timeout %d", timeout)
	}
	// The out-of-range rejection happens before the keyboard is touched.
	assert.False(t, x.cmd.grabbing)
}

func TestGrabShortcutSuccess(t *testing.T) {
	x := newFakeX()
	m := newTestManager(x)
	x.cmd.resultShortcut = "Control+space"

	var wg sync.WaitGroup
	wg.Add(1)
	var shortcut string
	var failed, cancelled, timedOut bool
	go func() {
		defer wg.Done()
		shortcut, failed, cancelled, timedOut = m.grabShortcut(5000)
	}()

	waitForGrabRequested(t, m)

	// The worker resolves the grab.
	m.mu.Lock()
	x.cmd.grabbing = false
	m.mu.Unlock()
	m.onGrabResolved()

	wg.Wait()
	assert.Equal(t, "Control+space", shortcut)
	assert.False(t, failed)
	assert.False(t, cancelled)
	assert.False(t, timedOut)
}

func TestGrabShortcutCancel(t *testing.T) {
	x := newFakeX()
	m := newTestManager(x)
	x.cmd.resultCancelled = true

	var wg sync.WaitGroup
	wg.Add(1)
	var shortcut string
	var failed, cancelled, timedOut bool
	go func() {
		defer wg.Done()
		shortcut, failed, cancelled, timedOut = m.grabShortcut(5000)
	}()

	waitForGrabRequested(t, m)
	m.mu.Lock()
	x.cmd.grabbing = false
	m.mu.Unlock()
	m.onGrabResolved()

	wg.Wait()
	assert.Empty(t, shortcut)
	assert.False(t, failed)
	assert.True(t, cancelled)
	assert.False(t, timedOut)
}

func TestGrabShortcutAlreadyRequested(t *testing.T) {
	x := newFakeX()
	m := newTestManager(x)
	x.cmd.resultShortcut = "Control+space"

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.grabShortcut(5000)
	}()

	waitForGrabRequested(t, m)

	_, failed, _, _ := m.grabShortcut(5000)
	assert.True(t, failed)

	m.mu.Lock()
	x.cmd.grabbing = false
	m.mu.Unlock()
	m.onGrabResolved()
	wg.Wait()
}

func TestGrabShortcutTimeout(t *testing.T) {
	x := newFakeX()
	m := newTestManager(x)

	start := time.Now()
	shortcut, failed, cancelled, timedOut := m.grabShortcut(1000)
	elapsed := time.Since(start)

	assert.Empty(t, shortcut)
	assert.False(t, failed)
	assert.False(t, cancelled)
	assert.True(t, timedOut)
	assert.GreaterOrEqual(t, elapsed, time.Second)

	// The keyboard grab was released and the worker told to drop the
	// pending resolution.
	assert.Equal(t, 1, x.cmd.ungrabCalls)
	assert.True(t, x.cmd.abandoned)

	// The session is reusable afterwards.
	_, failed, _, _ = m.grabShortcut(999)
	assert.False(t, failed)
}

func TestGrabShortcutKeyboardGrabFails(t *testing.T) {
	x := newFakeX()
	m := newTestManager(x)
	x.cmd.grabKeyboardErr = errors.New("keyboard is grabbed")

	shortcut, failed, cancelled, timedOut := m.grabShortcut(5000)
	assert.Empty(t, shortcut)
	assert.True(t, failed)
	assert.False(t, cancelled)
	assert.False(t, timedOut)
	assert.Equal(t, 1, x.cmd.ungrabCalls)
}

func waitForGrabRequested(t *testing.T, m *Manager) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		requested := m.grab.state == grabRequested
		m.mu.Unlock()
		if requested {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.FailNow(t, "grab session never entered the requested state")
}
