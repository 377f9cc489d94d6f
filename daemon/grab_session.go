// SPDX-FileCopyrightText: 2025 The globalactiond Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package daemon

import (
	"time"

	"globalactiond/xworker"
)

// Interactive grab timeouts outside this range are rejected up front.
const (
	grabTimeoutMin = 1000
	grabTimeoutMax = 60000
)

type grabState int

const (
	grabIdle grabState = iota
	grabRequested
)

// grabSession is the single-slot state machine behind GrabShortcut. Only one
// interactive grab may be pending at a time; the worker signals resolution
// through resolvedCh after writing the result to the response pipe.
type grabSession struct {
	state      grabState
	resolvedCh chan struct{}
}

func (g *grabSession) init() {
	g.resolvedCh = make(chan struct{}, 1)
}

// onGrabResolved runs on the worker goroutine once a resolution is on the
// response pipe.
func (m *Manager) onGrabResolved() {
	m.grab.resolvedCh <- struct{}{}
}

// grabShortcut captures the next key combination the user presses and
// returns it as a shortcut string. The reply is delayed until the worker
// resolves the grab, the user cancels with Escape, or the timeout fires.
//
// The command channel is held for the whole session so the worker's
// resolution bytes cannot interleave with another command's response.
func (m *Manager) grabShortcut(timeout uint32) (shortcut string, failed, cancelled, timedOut bool) {
	logger.Infof("grabShortcut timeout:%d", timeout)

	m.mu.Lock()
	if m.grab.state == grabRequested {
		m.mu.Unlock()
		logger.Debug("grabShortcut failed: already grabbing")
		return "", true, false, false
	}
	if timeout < grabTimeoutMin || timeout > grabTimeoutMax {
		m.mu.Unlock()
		logger.Debug("grabShortcut: timeout out of range")
		return "", false, false, true
	}
	m.grab.state = grabRequested
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.grab.state = grabIdle
		m.mu.Unlock()
	}()

	m.x.Exclusive(func(c xworker.Commander) {
		result, err := c.GrabKeyboard()
		if err != nil {
			logger.Warning("grabShortcut: cannot grab keyboard:", err)
			_ = c.UngrabKeyboard()
			failed = true
			return
		}
		logger.Debugf("grabShortcut: keyboard grab status %d", result)

		timer := time.NewTimer(time.Duration(timeout) * time.Millisecond)
		defer timer.Stop()

		select {
		case <-m.grab.resolvedCh:
			shortcut, cancelled, err = c.ReadGrabResult()
			if err != nil {
				failed = true
				return
			}

		case <-timer.C:
			m.mu.Lock()
			pending := m.x.GrabbingLocked()
			if pending {
				m.x.AbandonGrabLocked()
			}
			m.mu.Unlock()

			if !pending {
				// The worker resolved the grab just before the
				// timer fired; take the resolution.
				<-m.grab.resolvedCh
				shortcut, cancelled, err = c.ReadGrabResult()
				if err != nil {
					failed = true
				}
				return
			}

			if err := c.UngrabKeyboard(); err != nil {
				failed = true
			}
			timedOut = true
			logger.Debugf("grabShortcut timed out, failed:%v", failed)
		}
	})

	if cancelled {
		logger.Debug("grabShortcut: cancelled")
	} else if !failed && !timedOut {
		logger.Debugf("grabShortcut: shortcut:%q", shortcut)
	}
	return shortcut, failed, cancelled, timedOut
}
