// SPDX-FileCopyrightText: 2025 The globalactiond Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package xworker

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubServer answers the command protocol from a canned keyboard mapping,
// standing in for the X11 side of the pipes.
type stubServer struct {
	w *Worker

	mu       sync.Mutex
	keycodes map[string]uint8
	names    map[uint8]string
	grabs    []uint32
	ungrabs  []uint32

	failGrabs bool

	done chan struct{}
}

func newStubWorker(t *testing.T) (*Worker, *stubServer) {
	t.Helper()

	w := New(Callbacks{})
	var err error
	w.reqPipe, err = newPipe()
	require.NoError(t, err)
	w.respPipe, err = newPipe()
	require.NoError(t, err)
	w.errPipe, err = newPipe()
	require.NoError(t, err)

	s := &stubServer{
		w: w,
		keycodes: map[string]uint8{
			"T":     28,
			"space": 65,
		},
		names: map[uint8]string{
			28: "T",
			65: "space",
		},
		done: make(chan struct{}),
	}
	go s.serve()

	t.Cleanup(func() {
		w.closePipes()
		<-s.done
	})
	return w, s
}

func (s *stubServer) serve() {
	defer close(s.done)
	for {
		var opBuf [4]byte
		if readFull(s.w.reqPipe.r, opBuf[:]) != nil {
			return
		}
		switch binary.LittleEndian.Uint32(opBuf[:]) {
		case opStringToKeycode:
			var lenBuf [4]byte
			if readFull(s.w.reqPipe.r, lenBuf[:]) != nil {
				return
			}
			name := make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
			if len(name) > 0 {
				if readFull(s.w.reqPipe.r, name) != nil {
					return
				}
			}
			s.mu.Lock()
			code := s.keycodes[string(name)]
			s.mu.Unlock()
			if writeFull(s.w.respPipe.w, []byte{code}) != nil {
				return
			}

		case opKeycodeToString:
			var codeBuf [1]byte
			if readFull(s.w.reqPipe.r, codeBuf[:]) != nil {
				return
			}
			s.mu.Lock()
			name := s.names[codeBuf[0]]
			s.mu.Unlock()
			buf := make([]byte, 4+len(name))
			binary.LittleEndian.PutUint32(buf, uint32(len(name)))
			copy(buf[4:], name)
			if writeFull(s.w.respPipe.w, buf) != nil {
				return
			}

		case opGrabKey, opUngrabKey:
			var buf [5]byte
			if readFull(s.w.reqPipe.r, buf[:]) != nil {
				return
			}
			key := uint32(buf[0])<<24 | binary.LittleEndian.Uint32(buf[1:])
			s.mu.Lock()
			if binary.LittleEndian.Uint32(opBuf[:]) == opGrabKey {
				s.grabs = append(s.grabs, key)
				if s.failGrabs {
					_ = writeFull(s.w.errPipe.w, encodeX11Error(
						&X11Error{Code: 10, BadValue: key}))
				}
			} else {
				s.ungrabs = append(s.ungrabs, key)
			}
			s.mu.Unlock()
			if writeFull(s.w.respPipe.w, []byte{0}) != nil {
				return
			}

		case opGrabKeyboard:
			var buf [4]byte
			binary.LittleEndian.PutUint32(buf[:], 0)
			if writeFull(s.w.respPipe.w, buf[:]) != nil {
				return
			}

		case opUngrabKeyboard:
			if writeFull(s.w.respPipe.w, []byte{0}) != nil {
				return
			}
		}
	}
}

func TestStringToKeycodeRoundTrip(t *testing.T) {
	w, _ := newStubWorker(t)

	code, err := w.StringToKeycode("T")
	require.NoError(t, err)
	assert.Equal(t, uint8(28), code)

	code, err = w.StringToKeycode("NoSuchKey")
	require.NoError(t, err)
	assert.Zero(t, code)

	code, err = w.StringToKeycode("")
	require.NoError(t, err)
	assert.Zero(t, code)
}

func TestKeycodeToStringRoundTrip(t *testing.T) {
	w, _ := newStubWorker(t)

	name, err := w.KeycodeToString(65)
	require.NoError(t, err)
	assert.Equal(t, "space", name)

	name, err = w.KeycodeToString(99)
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestGrabKeySuccess(t *testing.T) {
	w, s := newStubWorker(t)

	require.NoError(t, w.GrabKey(28, MaskControl|MaskAlt))

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.grabs, 1)
	assert.Empty(t, s.ungrabs)
}

func TestGrabKeyAsyncRejectionRollsBack(t *testing.T) {
	w, s := newStubWorker(t)
	s.failGrabs = true

	err := w.GrabKey(28, MaskControl)
	require.Error(t, err)
	var xErr *X11Error
	require.ErrorAs(t, err, &xErr)

	// The failed grab was followed by the matching ungrab.
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.grabs, 1)
	require.Len(t, s.ungrabs, 1)
	assert.Equal(t, s.grabs[0], s.ungrabs[0])
}

func TestExclusiveGrabSession(t *testing.T) {
	w, _ := newStubWorker(t)

	// A worker-side resolution written while the channel is held
	// exclusively is read back intact.
	resolution := []byte{0}
	shortcutBytes := []byte("Control+space")
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(shortcutBytes)))
	resolution = append(resolution, lenBuf[:]...)
	resolution = append(resolution, shortcutBytes...)

	w.Exclusive(func(c Commander) {
		result, err := c.GrabKeyboard()
		require.NoError(t, err)
		assert.Equal(t, int32(0), result)

		require.NoError(t, writeFull(w.respPipe.w, resolution))

		shortcut, cancelled, err := c.ReadGrabResult()
		require.NoError(t, err)
		assert.False(t, cancelled)
		assert.Equal(t, "Control+space", shortcut)

		require.NoError(t, c.UngrabKeyboard())
	})
}

func TestExclusiveGrabCancelled(t *testing.T) {
	w, _ := newStubWorker(t)

	w.Exclusive(func(c Commander) {
		_, err := c.GrabKeyboard()
		require.NoError(t, err)

		require.NoError(t, writeFull(w.respPipe.w, []byte{1}))

		shortcut, cancelled, err := c.ReadGrabResult()
		require.NoError(t, err)
		assert.True(t, cancelled)
		assert.Empty(t, shortcut)
	})
}
