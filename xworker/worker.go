// SPDX-FileCopyrightText: 2025 The globalactiond Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package xworker owns the X11 connection on a dedicated thread and serves
// grab/lookup commands for the control core over a pair of anonymous pipes.
package xworker

import (
	"encoding/binary"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
	"github.com/jezek/xgbutil"
	"github.com/jezek/xgbutil/keybind"
	"github.com/linuxdeepin/go-lib/log"
)

var logger = log.NewLogger("globalactiond/xworker")

// SetLogger replaces the package logger, mirroring the daemon-wide level.
func SetLogger(l *log.Logger) {
	logger = l
}

// Callbacks connect the worker to the control core. Dispatch is invoked on
// the worker goroutine with Mu held, for the full lookup-and-invoke of a
// key press. OnGrabResolved fires after an interactive grab resolution has
// been written to the response pipe. OnFatal reports an unrecoverable
// control-channel failure.
type Callbacks struct {
	Mu             *sync.Mutex
	Dispatch       func(keycode uint8, mask uint32)
	OnGrabResolved func()
	OnFatal        func(err error)
}

// Worker is the X11 event/command thread and the control-side client that
// talks to it. The X display handle is owned by the worker goroutine for its
// entire lifetime; no other goroutine issues X11 calls, apart from the
// synthetic wakeup message (xgb connections serialize requests internally).
type Worker struct {
	cb Callbacks

	reqPipe  *pipe
	respPipe *pipe
	errPipe  *pipe

	cmdMu sync.Mutex

	active  atomic.Bool
	started bool
	done    chan struct{}

	xu      *xgbutil.XUtil
	conn    *xgb.Conn
	root    xproto.Window
	wakeWin xproto.Window

	// lockCombos is every value of the low 8 modifier bits with the six
	// significant bits masked out; each grab fans out over it so lock
	// modifiers do not defeat a grab.
	lockCombos []uint16

	// State below is guarded by cb.Mu.
	grabbing      bool
	grabAbandoned bool
	allowMasks    AllowMasks
}

// New creates a worker. Start must be called before any command.
func New(cb Callbacks) *Worker {
	return &Worker{
		cb:         cb,
		done:       make(chan struct{}),
		allowMasks: DefaultAllowMasks(),
	}
}

// SetAllowMasks installs the allow-mask configuration used while grabbing.
func (w *Worker) SetAllowMasks(am AllowMasks) {
	w.cb.Mu.Lock()
	w.allowMasks = am
	w.cb.Mu.Unlock()
}

// Start creates the pipes, launches the worker goroutine and waits for its
// readiness byte. A nonzero byte, or closure of the response pipe, means the
// X11 side failed to come up.
func (w *Worker) Start() error {
	var err error
	if w.reqPipe, err = newPipe(); err != nil {
		return err
	}
	if w.respPipe, err = newPipe(); err != nil {
		w.closePipes()
		return err
	}
	if w.errPipe, err = newPipe(); err != nil {
		w.closePipes()
		return err
	}

	w.active.Store(true)
	go w.run()

	var ready [1]byte
	if err = readFull(w.respPipe.r, ready[:]); err != nil {
		w.active.Store(false)
		w.closePipes()
		return errors.New("cannot read X11 start signal: " + err.Error())
	}
	if ready[0] != 0 {
		w.active.Store(false)
		w.closePipes()
		return errors.New("cannot start X11 thread")
	}
	w.started = true
	return nil
}

// Stop shuts the worker down: clears the active flag, wakes the thread out
// of its event wait and closes the pipes.
func (w *Worker) Stop() {
	if !w.started {
		return
	}
	w.active.Store(false)
	w.wake()
	w.closePipes()
	<-w.done
	w.started = false
}

func (w *Worker) closePipes() {
	w.reqPipe.close()
	w.respPipe.close()
	w.errPipe.close()
}

// wake interrupts the blocking event wait by sending a synthetic
// ClientMessage to the wakeup window.
func (w *Worker) wake() {
	if w.wakeWin == 0 {
		return
	}
	ev := xproto.ClientMessageEvent{
		Format: 32,
		Window: w.wakeWin,
		Type:   xproto.AtomNone,
		Data:   xproto.ClientMessageDataUnionData32New([]uint32{0, 0, 0, 0, 0}),
	}
	xproto.SendEvent(w.conn, false, w.wakeWin, xproto.EventMaskNoEvent,
		string(ev.Bytes()))
}

func (w *Worker) run() {
	defer close(w.done)

	// The worker goroutine owns the display for its whole lifetime.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := w.setup(); err != nil {
		logger.Error("X11 worker startup failed:", err)
		if w.conn != nil {
			w.conn.Close()
		}
		_ = writeFull(w.respPipe.w, []byte{1})
		return
	}
	if err := writeFull(w.respPipe.w, []byte{0}); err != nil {
		return
	}

	for w.active.Load() {
		ev, xerr := w.conn.WaitForEvent()
		if ev == nil && xerr == nil {
			break
		}
		if !w.active.Load() {
			break
		}
		if xerr != nil {
			w.forwardX11Error(xerr)
			continue
		}

		switch e := ev.(type) {
		case xproto.KeyPressEvent:
			w.handleKeyPress(e)
		case xproto.ClientMessageEvent:
			if !w.serveCommand() {
				w.active.Store(false)
			}
		}
	}

	xproto.UngrabKey(w.conn, 0, w.root, xproto.ModMaskAny)
	w.conn.Close()
}

func (w *Worker) setup() error {
	xu, err := xgbutil.NewConn()
	if err != nil {
		return err
	}
	w.xu = xu
	w.conn = xu.Conn()
	w.root = xu.RootWin()
	keybind.Initialize(xu)

	err = xproto.ChangeWindowAttributesChecked(w.conn, w.root,
		xproto.CwEventMask, []uint32{xproto.EventMaskKeyPress}).Check()
	if err != nil {
		return err
	}

	// A 1x1 child window an event can be injected into, to end the
	// blocking event wait.
	wid, err := xproto.NewWindowId(w.conn)
	if err != nil {
		return err
	}
	screen := xu.Screen()
	err = xproto.CreateWindowChecked(w.conn, screen.RootDepth, wid, w.root,
		0, 0, 1, 1, 0,
		xproto.WindowClassInputOutput, screen.RootVisual,
		xproto.CwEventMask, []uint32{xproto.EventMaskStructureNotify}).Check()
	if err != nil {
		return err
	}
	w.wakeWin = wid

	w.lockCombos = computeLockCombos()
	return nil
}

// computeLockCombos enumerates every value of the low 8 modifier bits with
// the six significant bits masked out.
func computeLockCombos() []uint16 {
	ignore := uint16(0xff &^ MaskSignificant)
	seen := make(map[uint16]bool)
	var combos []uint16
	for i := 0; i < 0x100; i++ {
		combo := uint16(i) & ignore
		if !seen[combo] {
			seen[combo] = true
			combos = append(combos, combo)
		}
	}
	return combos
}

func (w *Worker) forwardX11Error(xerr xgb.Error) {
	logger.Debug("X11 error:", xerr.Error())
	rec := &X11Error{Sequence: xerr.SequenceId(), BadValue: xerr.BadId()}
	if err := writeFull(w.errPipe.w, encodeX11Error(rec)); err != nil {
		logger.Error("cannot write to X11 error pipe:", err)
		w.active.Store(false)
	}
}

func (w *Worker) handleKeyPress(e xproto.KeyPressEvent) {
	w.cb.Mu.Lock()
	if w.grabbing {
		w.finishGrabLocked(e)
		w.cb.Mu.Unlock()
		return
	}
	w.cb.Dispatch(uint8(e.Detail), uint32(e.State)&MaskSignificant)
	w.cb.Mu.Unlock()
}

// keysymForKeycode picks the keysym named in shortcut strings: the second
// column when the first is a lowercase latin letter and a second exists,
// otherwise the first.
func (w *Worker) keysymForKeycode(code xproto.Keycode) xproto.Keysym {
	reply, err := xproto.GetKeyboardMapping(w.conn, code, 1).Reply()
	if err != nil || reply.KeysymsPerKeycode == 0 || len(reply.Keysyms) == 0 {
		return 0
	}
	syms := reply.Keysyms
	if syms[0] == 0 {
		return 0
	}
	if reply.KeysymsPerKeycode >= 2 && len(syms) >= 2 && syms[1] != 0 &&
		syms[0] >= xkLowerA && syms[0] <= xkLowerZ {
		return syms[1]
	}
	return syms[0]
}

// finishGrabLocked handles one key press while an interactive grab is
// active. Called with the data lock held.
func (w *Worker) finishGrabLocked(e xproto.KeyPressEvent) {
	mods := uint32(e.State) & MaskSignificant

	var cancel bool
	var shortcut string

	sym := w.keysymForKeycode(e.Detail)
	if sym != 0 {
		if sym == xkEscape && mods == 0 {
			cancel = true
		} else {
			if isModifierKeysym(sym) || !w.allowMasks.allowed(sym, mods) {
				// Not a terminal key, keep waiting.
				return
			}
			if name := keybind.KeysymToStr(sym); name != "" {
				shortcut = modifierPrefix(mods) + name
			}
		}
	}

	w.grabbing = false
	abandoned := w.grabAbandoned
	w.grabAbandoned = false

	xproto.UngrabKeyboard(w.conn, xproto.TimeCurrentTime)

	if abandoned {
		// The control core already timed the session out; nothing is
		// waiting for a resolution.
		return
	}

	flag := byte(0)
	if cancel {
		flag = 1
	}
	if err := writeFull(w.respPipe.w, []byte{flag}); err != nil {
		logger.Error("cannot write to X11 response pipe:", err)
		w.active.Store(false)
		return
	}
	if !cancel {
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(shortcut)))
		if err := writeFull(w.respPipe.w, lenBuf[:]); err != nil {
			logger.Error("cannot write to X11 response pipe:", err)
			w.active.Store(false)
			return
		}
		if len(shortcut) > 0 {
			if err := writeFull(w.respPipe.w, []byte(shortcut)); err != nil {
				logger.Error("cannot write to X11 response pipe:", err)
				w.active.Store(false)
				return
			}
		}
	}

	if w.cb.OnGrabResolved != nil {
		w.cb.OnGrabResolved()
	}
}

// modifierPrefix renders the six significant modifiers in canonical order.
func modifierPrefix(mask uint32) string {
	var s string
	if mask&MaskLevel5 != 0 {
		s += "Level5+"
	}
	if mask&MaskLevel3 != 0 {
		s += "Level3+"
	}
	if mask&MaskMeta != 0 {
		s += "Meta+"
	}
	if mask&MaskAlt != 0 {
		s += "Alt+"
	}
	if mask&MaskControl != 0 {
		s += "Control+"
	}
	if mask&MaskShift != 0 {
		s += "Shift+"
	}
	return s
}

// serveCommand reads and executes one command frame from the request pipe.
// Returns false on a control-channel failure.
func (w *Worker) serveCommand() bool {
	var opBuf [4]byte
	if err := readFull(w.reqPipe.r, opBuf[:]); err != nil {
		logger.Error("cannot read from X11 request pipe:", err)
		return false
	}
	op := binary.LittleEndian.Uint32(opBuf[:])

	switch op {
	case opStringToKeycode:
		return w.serveStringToKeycode()
	case opKeycodeToString:
		return w.serveKeycodeToString()
	case opGrabKey:
		return w.serveGrabKey(true)
	case opUngrabKey:
		return w.serveGrabKey(false)
	case opGrabKeyboard:
		return w.serveGrabKeyboard()
	case opUngrabKeyboard:
		return w.serveUngrabKeyboard()
	}
	logger.Errorf("unknown X11 operation %d", op)
	return false
}

func (w *Worker) respond(buf []byte) bool {
	if err := writeFull(w.respPipe.w, buf); err != nil {
		logger.Error("cannot write to X11 response pipe:", err)
		return false
	}
	return true
}

func (w *Worker) serveStringToKeycode() bool {
	var lenBuf [4]byte
	if err := readFull(w.reqPipe.r, lenBuf[:]); err != nil {
		logger.Error("cannot read from X11 request pipe:", err)
		return false
	}
	length := binary.LittleEndian.Uint32(lenBuf[:])

	var code xproto.Keycode
	if length > 0 {
		name := make([]byte, length)
		if err := readFull(w.reqPipe.r, name); err != nil {
			logger.Error("cannot read from X11 request pipe:", err)
			return false
		}
		codes := keybind.StrToKeycodes(w.xu, string(name))
		if len(codes) > 0 {
			code = codes[0]
		}
	}
	return w.respond([]byte{byte(code)})
}

func (w *Worker) serveKeycodeToString() bool {
	var codeBuf [1]byte
	if err := readFull(w.reqPipe.r, codeBuf[:]); err != nil {
		logger.Error("cannot read from X11 request pipe:", err)
		return false
	}

	var name string
	if sym := w.keysymForKeycode(xproto.Keycode(codeBuf[0])); sym != 0 {
		name = keybind.KeysymToStr(sym)
	}

	buf := make([]byte, 4+len(name))
	binary.LittleEndian.PutUint32(buf, uint32(len(name)))
	copy(buf[4:], name)
	return w.respond(buf)
}

func (w *Worker) serveGrabKey(grab bool) bool {
	var buf [5]byte
	if err := readFull(w.reqPipe.r, buf[:]); err != nil {
		logger.Error("cannot read from X11 request pipe:", err)
		return false
	}
	code := xproto.Keycode(buf[0])
	mask := binary.LittleEndian.Uint32(buf[1:])

	for _, combo := range w.lockCombos {
		mods := uint16(mask) | combo
		if grab {
			xproto.GrabKey(w.conn, false, w.root, mods, code,
				xproto.GrabModeAsync, xproto.GrabModeAsync)
		} else {
			xproto.UngrabKey(w.conn, code, w.root, mods)
		}
	}
	w.conn.Sync()
	return w.respond([]byte{0})
}

func (w *Worker) serveGrabKeyboard() bool {
	var result int32
	reply, err := xproto.GrabKeyboard(w.conn, false, w.root,
		xproto.TimeCurrentTime,
		xproto.GrabModeAsync, xproto.GrabModeAsync).Reply()
	if err != nil {
		result = -1
	} else {
		result = int32(reply.Status)
	}

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(result))
	if !w.respond(buf[:]) {
		return false
	}

	w.cb.Mu.Lock()
	w.grabbing = true
	w.grabAbandoned = false
	w.cb.Mu.Unlock()
	return true
}

func (w *Worker) serveUngrabKeyboard() bool {
	xproto.UngrabKeyboard(w.conn, xproto.TimeCurrentTime)

	if !w.respond([]byte{0}) {
		return false
	}

	w.cb.Mu.Lock()
	w.grabbing = false
	w.grabAbandoned = false
	w.cb.Mu.Unlock()
	return true
}

// AbandonGrabLocked marks the pending interactive grab as timed out so the
// worker will not write a resolution for it. Called with the data lock held.
func (w *Worker) AbandonGrabLocked() {
	if w.grabbing {
		w.grabAbandoned = true
	}
}

// GrabbingLocked reports whether the worker is in grabbing mode. Called with
// the data lock held.
func (w *Worker) GrabbingLocked() bool {
	return w.grabbing
}
