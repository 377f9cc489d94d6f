// SPDX-FileCopyrightText: 2025 The globalactiond Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package xworker

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Command opcodes carried on the request pipe. Every command is a uint32
// opcode followed by operation-specific fields; the response format is fixed
// per opcode.
const (
	opStringToKeycode uint32 = iota
	opKeycodeToString
	opGrabKey
	opUngrabKey
	opGrabKeyboard
	opUngrabKeyboard
)

// x11ErrorWindow is how long callers wait on the error pipe after a
// grab/ungrab to catch an asynchronous rejection from the X server.
const x11ErrorWindow = 10 * time.Millisecond

// X11Error is an asynchronous error report harvested from the error pipe.
type X11Error struct {
	Sequence uint16
	Code     uint16
	BadValue uint32
}

func (e *X11Error) Error() string {
	return fmt.Sprintf("x11 error: code=%d sequence=%d bad=%d",
		e.Code, e.Sequence, e.BadValue)
}

const x11ErrorRecordSize = 8

func encodeX11Error(e *X11Error) []byte {
	buf := make([]byte, x11ErrorRecordSize)
	binary.LittleEndian.PutUint16(buf[0:], e.Sequence)
	binary.LittleEndian.PutUint16(buf[2:], e.Code)
	binary.LittleEndian.PutUint32(buf[4:], e.BadValue)
	return buf
}

func decodeX11Error(buf []byte) *X11Error {
	return &X11Error{
		Sequence: binary.LittleEndian.Uint16(buf[0:]),
		Code:     binary.LittleEndian.Uint16(buf[2:]),
		BadValue: binary.LittleEndian.Uint32(buf[4:]),
	}
}

func (w *Worker) writeU32(val uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], val)
	return writeFull(w.reqPipe.w, buf[:])
}

func (w *Worker) writeU8(val uint8) error {
	return writeFull(w.reqPipe.w, []byte{val})
}

func (w *Worker) writeBytes(b []byte) error {
	return writeFull(w.reqPipe.w, b)
}

func (w *Worker) readRespU8() (uint8, error) {
	var buf [1]byte
	err := readFull(w.respPipe.r, buf[:])
	return buf[0], err
}

func (w *Worker) readRespU32() (uint32, error) {
	var buf [4]byte
	err := readFull(w.respPipe.r, buf[:])
	return binary.LittleEndian.Uint32(buf[:]), err
}

func (w *Worker) readRespI32() (int32, error) {
	val, err := w.readRespU32()
	return int32(val), err
}

func (w *Worker) readRespString() (string, error) {
	length, err := w.readRespU32()
	if err != nil {
		return "", err
	}
	if length == 0 {
		return "", nil
	}
	buf := make([]byte, length)
	err = readFull(w.respPipe.r, buf)
	return string(buf), err
}

// fatal reports a broken control channel. All pipe I/O failures on the
// command path are unrecoverable; the daemon is asked to shut down.
func (w *Worker) fatal(err error) {
	logger.Error("control channel failure:", err)
	if w.cb.OnFatal != nil {
		w.cb.OnFatal(err)
	}
}

// waitX11Error polls the error pipe for one report, giving the X server a
// short window to reject the previous operation asynchronously.
func (w *Worker) waitX11Error(window time.Duration) *X11Error {
	var buf [x11ErrorRecordSize]byte
	err := readFullTimeout(w.errPipe.r, buf[:], window)
	if err != nil {
		if !IsRecoverable(err) {
			w.fatal(err)
		}
		return nil
	}
	return decodeX11Error(buf[:])
}

// StringToKeycode resolves a keysym name to a keycode via the worker.
// Keycode 0 means the name did not resolve.
func (w *Worker) StringToKeycode(name string) (uint8, error) {
	w.cmdMu.Lock()
	defer w.cmdMu.Unlock()
	return w.stringToKeycode(name)
}

func (w *Worker) stringToKeycode(name string) (uint8, error) {
	if err := w.writeU32(opStringToKeycode); err != nil {
		w.fatal(err)
		return 0, err
	}
	if err := w.writeU32(uint32(len(name))); err != nil {
		w.fatal(err)
		return 0, err
	}
	if len(name) > 0 {
		if err := w.writeBytes([]byte(name)); err != nil {
			w.fatal(err)
			return 0, err
		}
	}
	w.wake()
	code, err := w.readRespU8()
	if err != nil {
		w.fatal(err)
		return 0, err
	}
	return code, nil
}

// KeycodeToString maps a keycode back to the name of its primary keysym.
func (w *Worker) KeycodeToString(code uint8) (string, error) {
	w.cmdMu.Lock()
	defer w.cmdMu.Unlock()

	if err := w.writeU32(opKeycodeToString); err != nil {
		w.fatal(err)
		return "", err
	}
	if err := w.writeU8(code); err != nil {
		w.fatal(err)
		return "", err
	}
	w.wake()
	name, err := w.readRespString()
	if err != nil {
		w.fatal(err)
		return "", err
	}
	if xErr := w.waitX11Error(x11ErrorWindow); xErr != nil {
		return "", xErr
	}
	return name, nil
}

// GrabKey installs a passive grab for (keycode, mask), fanned out over every
// lock-bit combination. A failed grab is rolled back with the matching
// ungrab.
func (w *Worker) GrabKey(code uint8, mask uint32) error {
	w.cmdMu.Lock()
	defer w.cmdMu.Unlock()

	err := w.keyCommand(opGrabKey, code, mask)
	if err != nil {
		return err
	}
	if xErr := w.waitX11Error(x11ErrorWindow); xErr != nil {
		_ = w.keyCommand(opUngrabKey, code, mask)
		_ = w.waitX11Error(x11ErrorWindow)
		return xErr
	}
	return nil
}

// UngrabKey releases a passive grab installed by GrabKey.
func (w *Worker) UngrabKey(code uint8, mask uint32) error {
	w.cmdMu.Lock()
	defer w.cmdMu.Unlock()

	err := w.keyCommand(opUngrabKey, code, mask)
	if err != nil {
		return err
	}
	if xErr := w.waitX11Error(x11ErrorWindow); xErr != nil {
		return xErr
	}
	return nil
}

func (w *Worker) keyCommand(op uint32, code uint8, mask uint32) error {
	if err := w.writeU32(op); err != nil {
		w.fatal(err)
		return err
	}
	if err := w.writeU8(code); err != nil {
		w.fatal(err)
		return err
	}
	if err := w.writeU32(mask); err != nil {
		w.fatal(err)
		return err
	}
	w.wake()
	if _, err := w.readRespU8(); err != nil {
		w.fatal(err)
		return err
	}
	return nil
}

// Commander is the command set available while the channel is held
// exclusively for an interactive grab, so that the worker's unsolicited grab
// resolution cannot interleave with an ordinary command response.
type Commander interface {
	GrabKeyboard() (int32, error)
	UngrabKeyboard() error
	ReadGrabResult() (shortcut string, cancelled bool, err error)
}

// CmdConn implements Commander on the worker's pipes.
type CmdConn struct {
	w *Worker
}

// Exclusive runs fn with the command channel locked.
func (w *Worker) Exclusive(fn func(c Commander)) {
	w.cmdMu.Lock()
	defer w.cmdMu.Unlock()
	fn(&CmdConn{w: w})
}

// GrabKeyboard issues GRAB_KEYBOARD and returns the raw X grab status.
func (c *CmdConn) GrabKeyboard() (int32, error) {
	w := c.w
	if err := w.writeU32(opGrabKeyboard); err != nil {
		w.fatal(err)
		return 0, err
	}
	w.wake()
	result, err := w.readRespI32()
	if err != nil {
		w.fatal(err)
		return 0, err
	}
	if xErr := w.waitX11Error(x11ErrorWindow); xErr != nil {
		return result, xErr
	}
	return result, nil
}

// UngrabKeyboard releases an active keyboard grab.
func (c *CmdConn) UngrabKeyboard() error {
	w := c.w
	if err := w.writeU32(opUngrabKeyboard); err != nil {
		w.fatal(err)
		return err
	}
	w.wake()
	if _, err := w.readRespU8(); err != nil {
		w.fatal(err)
		return err
	}
	if xErr := w.waitX11Error(x11ErrorWindow); xErr != nil {
		return xErr
	}
	return nil
}

// ReadGrabResult consumes the worker's grab resolution: a cancellation flag
// followed, when not cancelled, by the captured shortcut string.
func (c *CmdConn) ReadGrabResult() (shortcut string, cancelled bool, err error) {
	w := c.w
	flag, err := w.readRespU8()
	if err != nil {
		w.fatal(err)
		return "", false, err
	}
	if flag != 0 {
		return "", true, nil
	}
	shortcut, err = w.readRespString()
	if err != nil {
		w.fatal(err)
		return "", false, err
	}
	return shortcut, false, nil
}
